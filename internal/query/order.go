package query

import "strings"

// parseOrder parses `order=col.asc.nullsfirst,other.desc` (spec §4.1) plus
// the Part D pgvector similarity-ordering extension
// `col.vec_cos.[0.1,0.2].desc`. Grounded on the teacher's
// parseOrder/splitOrderParams/parseVectorOrder, which track bracket depth so
// vector literals' commas don't get mistaken for term separators.
func parseOrder(s string) ([]OrderBy, error) {
	terms, err := splitOrderTerms(s)
	if err != nil {
		return nil, err
	}
	out := make([]OrderBy, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		ob, err := parseOrderTerm(term)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, nil
}

// splitOrderTerms splits on commas outside of `[...]` vector literals.
func splitOrderTerms(s string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, newParseError(400, "PGRST100", "unbalanced brackets in order: %q", s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, newParseError(400, "PGRST100", "unbalanced brackets in order: %q", s)
	}
	parts = append(parts, s[start:])
	return parts, nil
}

func parseOrderTerm(term string) (OrderBy, error) {
	segs := strings.SplitN(term, ".", 2)
	col := segs[0]
	if col == "" {
		return OrderBy{}, newParseError(400, "PGRST100", "malformed order term: %q", term)
	}
	ob := OrderBy{Column: col}
	if len(segs) == 1 {
		return ob, nil
	}
	rest := segs[1]

	if op, value, tail, ok := tryParseVectorOrder(rest); ok {
		ob.VectorOp = op
		ob.VectorValue = value
		rest = tail
	}

	for _, mod := range strings.Split(rest, ".") {
		switch mod {
		case "asc":
			ob.Desc = false
		case "desc":
			ob.Desc = true
		case "nullsfirst":
			ob.NullsFirst = true
			ob.NullsSet = true
		case "nullslast":
			ob.NullsFirst = false
			ob.NullsSet = true
		case "":
		default:
			return OrderBy{}, newParseError(400, "PGRST100", "unknown order modifier: %q", mod)
		}
	}
	return ob, nil
}

// tryParseVectorOrder recognizes `vec_l2.[0.1,0.2]`, `vec_cos.[...]`,
// `vec_ip.[...]` prefixes on the remainder of an order term, returning the
// trailing modifiers (asc/desc/nulls) still to parse.
func tryParseVectorOrder(rest string) (FilterOperator, interface{}, string, bool) {
	for _, op := range []FilterOperator{OpVectorL2, OpVectorCosine, OpVectorIP} {
		prefix := string(op) + "."
		if !strings.HasPrefix(rest, prefix) {
			continue
		}
		remainder := rest[len(prefix):]
		if !strings.HasPrefix(remainder, "[") {
			continue
		}
		end := strings.Index(remainder, "]")
		if end < 0 {
			continue
		}
		literal := remainder[:end+1]
		tail := strings.TrimPrefix(remainder[end+1:], ".")
		return op, literal, tail, true
	}
	return "", nil, rest, false
}
