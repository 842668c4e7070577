package sqlbuild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// argCounter is a shared, mutable positional-parameter counter threaded
// through a single Build call (grounded on the teacher's `*int`-pointer
// convention in filterToSQL/buildWhereClause).
type argCounter struct {
	n      int
	params []interface{}
}

func (c *argCounter) add(v interface{}) string {
	c.n++
	c.params = append(c.params, v)
	return fmt.Sprintf("$%d", c.n)
}

// renderColumn renders a filter/order/select column reference, expanding a
// JSON path (`meta->>a`) into the correct `->`/`->>` chain with numeric vs.
// string key quoting (spec's JSON-path supplement, Part D).
func renderColumn(raw string) (string, error) {
	base, steps, err := query.ParseColumnExpr(raw)
	if err != nil {
		return "", err
	}
	qcol, err := QuoteIdentifier(base)
	if err != nil {
		return "", err
	}
	if len(steps) == 0 {
		return qcol, nil
	}
	expr := qcol
	for i, step := range steps {
		op := "->"
		if step.Text && i == len(steps)-1 {
			op = "->>"
		}
		key := formatJSONKey(step)
		expr = expr + op + key
	}
	return expr, nil
}

func formatJSONKey(step query.JSONPathStep) string {
	if step.IsNumeric {
		return step.Key
	}
	return "'" + strings.ReplaceAll(step.Key, "'", "''") + "'"
}

// needsNumericCast reports whether a text-extracted JSON value being
// compared against op needs an explicit ::numeric cast to compare
// correctly (spec's JSON-path supplement): only applies to ordering
// comparisons, not equality/LIKE.
func needsNumericCast(op query.FilterOperator, lastStepIsText bool) bool {
	if !lastStepIsText {
		return false
	}
	switch op {
	case query.OpGreaterThan, query.OpGreaterOrEqual, query.OpLessThan, query.OpLessOrEqual:
		return true
	default:
		return false
	}
}

// filterToSQL renders one Filter to a SQL boolean expression (C2's
// canonical operator table, spec §4.2), wrapping in NOT(...) when Negated.
func filterToSQL(f query.Filter, ac *argCounter) (string, error) {
	if f.Operator == query.OpFalse {
		return "FALSE", nil
	}
	colExpr, err := renderColumn(f.Column)
	if err != nil {
		return "", err
	}
	_, steps, _ := query.ParseColumnExpr(f.Column)
	lastIsText := len(steps) > 0 && steps[len(steps)-1].Text
	if needsNumericCast(f.Operator, lastIsText) {
		colExpr = "(" + colExpr + ")::numeric"
	}

	frag, err := renderOperator(colExpr, f, ac)
	if err != nil {
		return "", err
	}
	if f.Negated {
		frag = "NOT (" + frag + ")"
	}
	return frag, nil
}

func renderOperator(col string, f query.Filter, ac *argCounter) (string, error) {
	switch f.Operator {
	case query.OpEqual:
		return fmt.Sprintf("%s = %s", col, ac.add(f.Value)), nil
	case query.OpNotEqual:
		return fmt.Sprintf("%s <> %s", col, ac.add(f.Value)), nil
	case query.OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, ac.add(f.Value)), nil
	case query.OpGreaterOrEqual:
		return fmt.Sprintf("%s >= %s", col, ac.add(f.Value)), nil
	case query.OpLessThan:
		return fmt.Sprintf("%s < %s", col, ac.add(f.Value)), nil
	case query.OpLessOrEqual:
		return fmt.Sprintf("%s <= %s", col, ac.add(f.Value)), nil
	case query.OpLike:
		return fmt.Sprintf("%s LIKE %s", col, ac.add(rewriteWildcard(f.Value))), nil
	case query.OpILike:
		return fmt.Sprintf("%s ILIKE %s", col, ac.add(rewriteWildcard(f.Value))), nil
	case query.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", col, ac.add(f.Value)), nil
	case query.OpIs:
		if f.Value == nil {
			return fmt.Sprintf("%s IS NULL", col), nil
		}
		return fmt.Sprintf("%s IS %s", col, renderIsLiteral(f.Value)), nil
	case query.OpContains:
		return fmt.Sprintf("%s @> %s", col, ac.add(f.Value)), nil
	case query.OpContained:
		return fmt.Sprintf("%s <@ %s", col, ac.add(f.Value)), nil
	case query.OpOverlap:
		return fmt.Sprintf("%s && %s", col, ac.add(f.Value)), nil
	case query.OpStrictlyLeft:
		return fmt.Sprintf("%s << %s", col, ac.add(f.Value)), nil
	case query.OpStrictlyRight:
		return fmt.Sprintf("%s >> %s", col, ac.add(f.Value)), nil
	case query.OpNotExtendRight:
		return fmt.Sprintf("%s &< %s", col, ac.add(f.Value)), nil
	case query.OpNotExtendLeft:
		return fmt.Sprintf("%s &> %s", col, ac.add(f.Value)), nil
	case query.OpAdjacent:
		return fmt.Sprintf("%s -|- %s", col, ac.add(f.Value)), nil
	case query.OpTextSearch:
		return fmt.Sprintf("to_tsvector(%s) @@ to_tsquery(%s)", col, ac.add(f.Value)), nil
	case query.OpPlainTextSearch:
		return fmt.Sprintf("to_tsvector(%s) @@ plainto_tsquery(%s)", col, ac.add(f.Value)), nil
	case query.OpPhraseTextSearch:
		return fmt.Sprintf("to_tsvector(%s) @@ phraseto_tsquery(%s)", col, ac.add(f.Value)), nil
	case query.OpWebTextSearch:
		return fmt.Sprintf("to_tsvector(%s) @@ websearch_to_tsquery(%s)", col, ac.add(f.Value)), nil
	case query.OpSTIntersects:
		return fmt.Sprintf("ST_Intersects(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTContains:
		return fmt.Sprintf("ST_Contains(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTWithin:
		return fmt.Sprintf("ST_Within(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTTouches:
		return fmt.Sprintf("ST_Touches(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTCrosses:
		return fmt.Sprintf("ST_Crosses(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTOverlaps:
		return fmt.Sprintf("ST_Overlaps(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpSTDWithin:
		dist, geo, err := splitDWithinValue(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ST_DWithin(%s, ST_GeomFromGeoJSON(%s), %s)", col, ac.add(geo), ac.add(dist)), nil
	case query.OpSTDistance:
		return fmt.Sprintf("ST_Distance(%s, ST_GeomFromGeoJSON(%s))", col, ac.add(f.Value)), nil
	case query.OpFalse:
		return "FALSE", nil
	default:
		return "", fmt.Errorf("unsupported filter operator in builder: %s", f.Operator)
	}
}

func rewriteWildcard(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.ReplaceAll(s, "*", "%")
}

func renderIsLiteral(v interface{}) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		if strings.EqualFold(val, "UNKNOWN") {
			return "UNKNOWN"
		}
		return "NULL"
	default:
		return "NULL"
	}
}

// splitDWithinValue parses the compound `distance,{geojson}` value format
// for ST_DWithin (grounded on the teacher's parseSTDWithinValue).
func splitDWithinValue(v interface{}) (distance interface{}, geojson interface{}, err error) {
	s, ok := v.(string)
	if !ok {
		return nil, nil, fmt.Errorf("st_dwithin requires a %q value", "distance,{geojson}")
	}
	depth := 0
	for i, c := range s {
		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), nil
			}
		}
	}
	return nil, nil, fmt.Errorf("malformed st_dwithin value: %q", s)
}

// buildWhereClause groups filters by OrGroupID (spec §3: filters with the
// same non-zero OrGroupID are ORed together; the remainder AND together),
// sorted for determinism so SELECT's WHERE is invariant to filter textual
// order (spec §8 testable property).
func buildWhereClause(filters []query.Filter, ac *argCounter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	groups := map[int][]query.Filter{}
	var order []int
	seen := map[int]bool{}
	for _, f := range filters {
		gid := f.OrGroupID
		if !seen[gid] {
			seen[gid] = true
			order = append(order, gid)
		}
		groups[gid] = append(groups[gid], f)
	}
	sort.Ints(order)

	var clauses []string
	for _, gid := range order {
		members := groups[gid]
		var frags []string
		for _, f := range members {
			frag, err := filterToSQL(f, ac)
			if err != nil {
				return "", err
			}
			frags = append(frags, frag)
		}
		if gid != 0 && len(frags) > 1 {
			clauses = append(clauses, "("+strings.Join(frags, " OR ")+")")
		} else {
			clauses = append(clauses, frags...)
		}
	}
	return strings.Join(clauses, " AND "), nil
}
