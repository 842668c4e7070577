package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// Result is the {sql, parameters} pair C3's contract returns.
type Result struct {
	SQL    string
	Params []interface{}
}

// Options configures a Build call.
type Options struct {
	Resolver FKResolver
}

// BuildSelect compiles a SELECT statement (spec §4.2).
func BuildSelect(q *query.ParsedQuery, opts Options) (Result, error) {
	ac := &argCounter{}
	return buildSelectWith(q, opts, ac, true)
}

func buildSelectWith(q *query.ParsedQuery, opts Options, ac *argCounter, withPaging bool) (Result, error) {
	tableQ, err := QuoteQualified(q.Schema, q.Table)
	if err != nil {
		return Result{}, err
	}

	projections := q.Select
	groupBy := q.GroupBy
	if len(groupBy) == 0 && hasAggregate(projections) {
		groupBy = implicitGroupKeys(projections)
	}

	selectClause, err := buildSelectClause(q.Schema, q.Table, projections, opts.Resolver, ac)
	if err != nil {
		return Result{}, err
	}
	whereClause, err := buildWhereClause(q.Filters, ac)
	if err != nil {
		return Result{}, err
	}
	if withPaging && q.Cursor != "" {
		cursorClause, err := buildCursorCondition(q, ac)
		if err != nil {
			return Result{}, err
		}
		if cursorClause != "" {
			if whereClause != "" {
				whereClause = whereClause + " AND " + cursorClause
			} else {
				whereClause = cursorClause
			}
		}
	}
	groupByClause, err := buildGroupByClause(groupBy)
	if err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectClause)
	sb.WriteString(" FROM ")
	sb.WriteString(tableQ)
	if whereClause != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(whereClause)
	}
	if groupByClause != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(groupByClause)
	}

	if withPaging {
		orderClause, err := buildOrderClause(q.Order, ac)
		if err != nil {
			return Result{}, err
		}
		if orderClause != "" {
			sb.WriteString(" ORDER BY ")
			sb.WriteString(orderClause)
		}
		if q.Limit != nil {
			sb.WriteString(fmt.Sprintf(" LIMIT %d", *q.Limit))
		}
		if q.Offset != nil && *q.Offset > 0 {
			sb.WriteString(fmt.Sprintf(" OFFSET %d", *q.Offset))
		}
	}

	return Result{SQL: sb.String(), Params: ac.params}, nil
}

// BuildCount derives the auxiliary count query (spec §4.2: "SELECT count(*)
// FROM (same FROM/WHERE) t with limit/offset/order stripped"), used when
// Count==CountExact (spec §3 invariant).
func BuildCount(q *query.ParsedQuery, opts Options) (Result, error) {
	ac := &argCounter{}
	inner, err := buildSelectWith(&query.ParsedQuery{
		Schema: q.Schema, Table: q.Table, Filters: q.Filters, Cursor: q.Cursor, CursorColumn: q.CursorColumn,
	}, opts, ac, false)
	if err != nil {
		return Result{}, err
	}
	sql := fmt.Sprintf("SELECT count(*) FROM (%s) t", strings.Replace(inner.SQL, "SELECT *", "SELECT 1", 1))
	return Result{SQL: sql, Params: inner.Params}, nil
}

func hasAggregate(projections []query.Projection) bool {
	for _, p := range projections {
		if p.Kind == query.ProjectionAggregate {
			return true
		}
	}
	return false
}

func implicitGroupKeys(projections []query.Projection) []string {
	var cols []string
	for _, p := range projections {
		if p.Kind == query.ProjectionColumn && p.Column != "*" {
			cols = append(cols, p.Column)
		}
	}
	return cols
}
