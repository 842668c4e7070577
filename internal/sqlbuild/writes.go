package sqlbuild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// columnUnion computes the ordered union of keys across all rows (spec
// §4.2: "Columns derived from the union of keys across rows"), honoring an
// explicit `columns=` allow-list (Part D supplement) when present.
func columnUnion(rows []map[string]interface{}, allow []string) []string {
	var allowSet map[string]bool
	if len(allow) > 0 {
		allowSet = make(map[string]bool, len(allow))
		for _, c := range allow {
			allowSet[c] = true
		}
	}
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if allowSet != nil && !allowSet[k] {
				continue
			}
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

func returningClause(q *query.ParsedQuery, pk []string) (string, bool) {
	switch q.PreferReturn {
	case query.ReturnMinimal:
		return "", false
	case query.ReturnHeadersOnly:
		if len(pk) == 0 {
			pk = []string{"id"}
		}
		cols := make([]string, 0, len(pk))
		for _, c := range pk {
			q, err := QuoteIdentifier(c)
			if err == nil {
				cols = append(cols, q)
			}
		}
		return strings.Join(cols, ", "), true
	default: // representation
		return "*", true
	}
}

// BuildInsert compiles a plain INSERT (spec §4.2).
func BuildInsert(q *query.ParsedQuery, pk []string) (Result, error) {
	return buildInsertLike(q, pk, false)
}

// BuildUpsert compiles `INSERT ... ON CONFLICT (...) DO UPDATE/DO NOTHING`
// per spec §4.2 and the Part A/B invariant that merge-duplicates without an
// explicit on_conflict falls back to the inferred primary key.
func BuildUpsert(q *query.ParsedQuery, pk []string) (Result, error) {
	return buildInsertLike(q, pk, true)
}

func buildInsertLike(q *query.ParsedQuery, pk []string, upsert bool) (Result, error) {
	tableQ, err := QuoteQualified(q.Schema, q.Table)
	if err != nil {
		return Result{}, err
	}
	// Empty-object row(s) fall through to the DEFAULT VALUES branch below.
	cols := columnUnion(q.Rows, q.Columns)

	ac := &argCounter{}
	colsQ := make([]string, len(cols))
	for i, c := range cols {
		cq, err := QuoteIdentifier(c)
		if err != nil {
			return Result{}, err
		}
		colsQ[i] = cq
	}

	var valueRows []string
	for _, row := range q.Rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			v, ok := row[c]
			if !ok {
				vals[i] = "DEFAULT"
				continue
			}
			vals[i] = ac.add(v)
		}
		valueRows = append(valueRows, "("+strings.Join(vals, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(tableQ)
	if len(cols) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(colsQ, ", "))
		sb.WriteString(")")
		sb.WriteString(" VALUES ")
		sb.WriteString(strings.Join(valueRows, ", "))
	} else {
		for i := range q.Rows {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("DEFAULT VALUES")
		}
	}

	if upsert {
		target, err := conflictTarget(q, pk)
		if err != nil {
			return Result{}, err
		}
		targetQ := make([]string, len(target))
		for i, c := range target {
			cq, err := QuoteIdentifier(c)
			if err != nil {
				return Result{}, err
			}
			targetQ[i] = cq
		}
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(targetQ, ", "))
		sb.WriteString(") ")
		if q.PreferResolution == query.ResolutionIgnoreDuplicates {
			sb.WriteString("DO NOTHING")
		} else {
			var sets []string
			for _, c := range cols {
				cq, _ := QuoteIdentifier(c)
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", cq, cq))
			}
			sb.WriteString("DO UPDATE SET ")
			sb.WriteString(strings.Join(sets, ", "))
		}
	}

	if ret, ok := returningClause(q, pk); ok {
		sb.WriteString(" RETURNING ")
		sb.WriteString(ret)
	}

	return Result{SQL: sb.String(), Params: ac.params}, nil
}

// conflictTarget resolves the UPSERT conflict target: explicit on_conflict
// columns, else the inferred primary key (spec §3 invariant).
func conflictTarget(q *query.ParsedQuery, pk []string) ([]string, error) {
	if len(q.OnConflict) > 0 {
		return q.OnConflict, nil
	}
	if len(pk) == 0 {
		return nil, fmt.Errorf("merge-duplicates requires on_conflict or a known primary key")
	}
	return pk, nil
}

// BuildUpdate compiles an UPDATE, rejecting when no filters are present
// (spec §4.2/§3 invariant, exercised by spec §8 scenario 5's DELETE
// counterpart).
func BuildUpdate(q *query.ParsedQuery, pk []string) (Result, error) {
	if len(q.Filters) == 0 {
		return Result{}, &query.ParseError{Status: 422, Code: "PGRST102", Message: "UPDATE requires at least one filter"}
	}
	if len(q.Rows) == 0 {
		return Result{}, &query.ParseError{Status: 422, Code: "PGRST102", Message: "UPDATE requires a JSON body"}
	}
	tableQ, err := QuoteQualified(q.Schema, q.Table)
	if err != nil {
		return Result{}, err
	}
	patch := q.Rows[0]
	cols := columnUnion([]map[string]interface{}{patch}, q.Columns)

	ac := &argCounter{}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		cq, err := QuoteIdentifier(c)
		if err != nil {
			return Result{}, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", cq, ac.add(patch[c])))
	}
	whereClause, err := buildWhereClause(q.Filters, ac)
	if err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(tableQ)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	sb.WriteString(" WHERE ")
	sb.WriteString(whereClause)
	if ret, ok := returningClause(q, pk); ok {
		sb.WriteString(" RETURNING ")
		sb.WriteString(ret)
	}
	return Result{SQL: sb.String(), Params: ac.params}, nil
}

// BuildDelete compiles a DELETE, rejecting when no filters are present
// (spec §4.2, §8 scenario 5).
func BuildDelete(q *query.ParsedQuery, pk []string) (Result, error) {
	if len(q.Filters) == 0 {
		return Result{}, &query.ParseError{Status: 422, Code: "PGRST102", Message: "DELETE requires at least one filter"}
	}
	tableQ, err := QuoteQualified(q.Schema, q.Table)
	if err != nil {
		return Result{}, err
	}
	ac := &argCounter{}
	whereClause, err := buildWhereClause(q.Filters, ac)
	if err != nil {
		return Result{}, err
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(tableQ)
	sb.WriteString(" WHERE ")
	sb.WriteString(whereClause)
	if ret, ok := returningClause(q, pk); ok {
		sb.WriteString(" RETURNING ")
		sb.WriteString(ret)
	}
	return Result{SQL: sb.String(), Params: ac.params}, nil
}
