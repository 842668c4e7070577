package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// buildOrderClause renders ORDER BY, including pgvector similarity
// ordering (`ORDER BY col <-> $n`), grounded on the teacher's
// buildOrderClause/parseVectorOrder.
func buildOrderClause(order []query.OrderBy, ac *argCounter) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	terms := make([]string, 0, len(order))
	for _, ob := range order {
		term, err := buildOrderTerm(ob, ac)
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, ", "), nil
}

func buildOrderTerm(ob query.OrderBy, ac *argCounter) (string, error) {
	col, err := renderColumn(ob.Column)
	if err != nil {
		return "", err
	}

	var expr string
	if ob.VectorOp != "" {
		vecParam := ac.add(formatVectorValue(ob.VectorValue))
		op := vectorOperatorSQL(ob.VectorOp)
		expr = fmt.Sprintf("%s %s %s::vector", col, op, vecParam)
	} else {
		expr = col
	}

	dir := "ASC"
	if ob.Desc {
		dir = "DESC"
	}
	clause := expr + " " + dir
	if ob.NullsSet {
		if ob.NullsFirst {
			clause += " NULLS FIRST"
		} else {
			clause += " NULLS LAST"
		}
	}
	return clause, nil
}

func vectorOperatorSQL(op query.FilterOperator) string {
	switch op {
	case query.OpVectorL2:
		return "<->"
	case query.OpVectorCosine:
		return "<=>"
	case query.OpVectorIP:
		return "<#>"
	default:
		return "<->"
	}
}

// formatVectorValue converts a bracketed literal (`[0.1,0.2]`) or a numeric
// slice into the Postgres pgvector text literal, grounded on the teacher's
// formatVectorValue.
func formatVectorValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []float32:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []float64:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// buildGroupByClause renders GROUP BY over the non-aggregated plain columns
// (spec §4.1: "when present, non-aggregated columns become an implicit
// group key").
func buildGroupByClause(cols []string) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	rendered := make([]string, 0, len(cols))
	for _, c := range cols {
		col, err := renderColumn(c)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, col)
	}
	return strings.Join(rendered, ", "), nil
}
