package query

import "strings"

// parseFilterValue parses the PostgREST `column=value` filter form, where
// value is `[not.]operator.value` (spec §4.1).
func parseFilterValue(column, raw string, orGroupID int, isOr bool) (*Filter, error) {
	negated := false
	rest := raw
	if strings.HasPrefix(rest, "not.") {
		negated = true
		rest = rest[len("not."):]
	}
	dot := strings.Index(rest, ".")
	if dot <= 0 {
		return nil, errMalformedFilter(column + "=" + raw)
	}
	opToken := rest[:dot]
	valueStr := rest[dot+1:]
	op, value, err := resolveOperatorValue(opToken, valueStr)
	if err != nil {
		return nil, err
	}
	return &Filter{Column: column, Operator: op, Value: value, Negated: negated, IsOr: isOr, OrGroupID: orGroupID}, nil
}

// resolveOperatorValue validates the operator token (stripping an optional
// `(config)` suffix used by full-text-search operators, e.g. `fts(english)`)
// and coerces the raw value string per operator (spec's "Filter value
// domain": scalars, lists for `in`, range literals, JSON objects, ISO
// timestamps — textual form preserved, type coercion deferred to SQL).
func resolveOperatorValue(opToken, valueStr string) (FilterOperator, interface{}, error) {
	baseOp := opToken
	if idx := strings.Index(opToken, "("); idx >= 0 {
		baseOp = opToken[:idx]
	}
	op := FilterOperator(baseOp)
	if !IsKnownOperator(op) {
		return "", nil, errUnknownOperator(opToken)
	}
	switch op {
	case OpIn:
		return op, parseArrayValue(valueStr), nil
	case OpIs:
		return op, parseIsValue(valueStr), nil
	default:
		return op, valueStr, nil
	}
}

// parseArrayValue parses `in.(1,2,3)` or `in.["a","b"]` style lists into a
// Go slice, preserving each element's textual form.
func parseArrayValue(s string) []string {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return []string{}
	}
	items := strings.Split(trimmed, ",")
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		it = strings.Trim(it, `"`)
		out = append(out, it)
	}
	return out
}

// parseIsValue maps the closed set of `is.` literals (spec §4.2: `is.<n>`
// where n ∈ {TRUE, FALSE, NULL, UNKNOWN}) to typed Go values the SQL builder
// can render directly.
func parseIsValue(s string) interface{} {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	case "unknown":
		return "UNKNOWN"
	default:
		return s
	}
}

// parseLogicGroup implements `or=(a.eq.1,b.eq.2)` / `and=(...)` (spec §4.1),
// recursing into nested `and(...)`/`or(...)`/`not.and(...)` sub-groups with
// fresh OR-group identifiers, grounded on the teacher's paren-depth-aware
// parseNestedOrGroup/parseNestedFilters.
func parseLogicGroup(s string, isOr bool, groupID int) ([]Filter, error) {
	content := strings.TrimSpace(s)
	content = strings.TrimPrefix(content, "(")
	content = strings.TrimSuffix(content, ")")

	parts, err := splitTopLevel(content, ',')
	if err != nil {
		return nil, err
	}

	var filters []Filter
	nextGroupID := groupID
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if sub, subIsOr, negated, ok := matchNestedGroup(part); ok {
			childID := nextGroupID + 1000 + len(filters)
			nested, err := parseLogicGroup(sub, subIsOr, childID)
			if err != nil {
				return nil, err
			}
			if negated {
				for i := range nested {
					nested[i].Negated = !nested[i].Negated
				}
			}
			filters = append(filters, nested...)
			continue
		}
		f, err := parseDotFormFilter(part, groupID, isOr)
		if err != nil {
			return nil, err
		}
		filters = append(filters, *f)
	}
	return filters, nil
}

// matchNestedGroup recognizes `and(...)`, `or(...)`, and their `not.`
// negated forms as one comma-separated element of an enclosing group.
func matchNestedGroup(part string) (inner string, isOr bool, negated bool, ok bool) {
	rest := part
	if strings.HasPrefix(rest, "not.") {
		negated = true
		rest = rest[len("not."):]
	}
	for _, kw := range []struct {
		prefix string
		isOr   bool
	}{{"or(", true}, {"and(", false}} {
		if strings.HasPrefix(rest, kw.prefix) && strings.HasSuffix(rest, ")") {
			return rest[len(kw.prefix) : len(rest)-1], kw.isOr, negated, true
		}
	}
	return "", false, false, false
}

// parseDotFormFilter parses the `column.op.value` form used inside
// or()/and() groups (as opposed to the top-level `column=op.value` form).
func parseDotFormFilter(s string, groupID int, isOr bool) (*Filter, error) {
	negated := false
	rest := s
	if strings.HasPrefix(rest, "not.") {
		negated = true
		rest = rest[len("not."):]
	}
	dot := strings.Index(rest, ".")
	if dot <= 0 {
		return nil, errMalformedFilter(s)
	}
	column := rest[:dot]
	remainder := rest[dot+1:]
	dot2 := strings.Index(remainder, ".")
	if dot2 <= 0 {
		return nil, errMalformedFilter(s)
	}
	opToken := remainder[:dot2]
	valueStr := remainder[dot2+1:]
	op, value, err := resolveOperatorValue(opToken, valueStr)
	if err != nil {
		return nil, err
	}
	return &Filter{Column: column, Operator: op, Value: value, Negated: negated, IsOr: isOr, OrGroupID: groupID}, nil
}
