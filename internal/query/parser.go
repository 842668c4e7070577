package query

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// reservedParams are query-string keys that never denote a filter column
// (spec §4.1). cursor/cursor_column/count/group_by are Part D/teacher
// extensions to the PostgREST dialect, reserved the same way.
var reservedParams = map[string]bool{
	"select": true, "order": true, "limit": true, "offset": true,
	"on_conflict": true, "or": true, "and": true, "columns": true,
	"cursor": true, "cursor_column": true, "count": true, "group_by": true,
}

// Limits caps pagination per spec's configuration-bound invariants. -1 means
// unlimited / no default, mirroring the teacher's APIConfig convention.
type Limits struct {
	MaxPageSize     int
	DefaultPageSize int
	MaxTotalResults int
}

// Options configures one Parse call.
type Options struct {
	Schema                string
	Limits                Limits
	BypassMaxTotalResults bool
}

// Parse implements C1: turns an HTTP request's URL query, headers, and
// (for writes) body into a ParsedQuery, or a *ParseError.
func Parse(table string, values url.Values, headers http.Header, body []byte, opts Options) (*ParsedQuery, error) {
	q := &ParsedQuery{Table: table, Schema: opts.Schema}
	if q.Schema == "" {
		q.Schema = "public"
	}
	if profile := headers.Get("Accept-Profile"); profile != "" {
		q.Schema = profile
	}
	if profile := headers.Get("Content-Profile"); profile != "" {
		q.Schema = profile
	}

	if sel := values.Get("select"); sel != "" {
		projs, err := parseSelect(sel)
		if err != nil {
			return nil, err
		}
		q.Select = projs
	}

	if ord := values.Get("order"); ord != "" {
		order, err := parseOrder(ord)
		if err != nil {
			return nil, err
		}
		q.Order = order
	}

	if gb := values.Get("group_by"); gb != "" {
		for _, c := range strings.Split(gb, ",") {
			q.GroupBy = append(q.GroupBy, strings.TrimSpace(c))
		}
	}

	if lim := values.Get("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil || n < 0 {
			return nil, errMalformedInteger("limit", lim)
		}
		q.Limit = &n
	}
	if off := values.Get("offset"); off != "" {
		n, err := strconv.Atoi(off)
		if err != nil || n < 0 {
			return nil, errMalformedInteger("offset", off)
		}
		q.Offset = &n
	}

	if oc := values.Get("on_conflict"); oc != "" {
		for _, c := range strings.Split(oc, ",") {
			q.OnConflict = append(q.OnConflict, strings.TrimSpace(c))
		}
	}

	if cols := values.Get("columns"); cols != "" {
		for _, c := range strings.Split(cols, ",") {
			q.Columns = append(q.Columns, strings.TrimSpace(c))
		}
	}

	if cur := values.Get("cursor"); cur != "" {
		q.Cursor = cur
	}
	if cc := values.Get("cursor_column"); cc != "" {
		q.CursorColumn = cc
	}

	// Plain filters: every non-reserved param, format `column=[not.]op.value`.
	for key, vals := range values {
		if reservedParams[key] {
			continue
		}
		for _, v := range vals {
			f, err := parseFilterValue(key, v, 0, false)
			if err != nil {
				return nil, err
			}
			q.Filters = append(q.Filters, *f)
		}
	}

	// Logical groups: or=(...) and and=(...), format `column.op.value` lists.
	if or := values.Get("or"); or != "" {
		groupID := q.NextOrGroupID()
		filters, err := parseLogicGroup(or, true, groupID)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, filters...)
	}
	if and := values.Get("and"); and != "" {
		filters, err := parseLogicGroup(and, false, 0)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, filters...)
	}

	if err := applyPrefer(q, headers.Get("Prefer")); err != nil {
		return nil, err
	}
	if err := applyRange(q, headers.Get("Range"), headers.Get("Range-Unit")); err != nil {
		return nil, err
	}
	applyAccept(q, headers.Get("Accept"))
	applyPageLimits(q, opts.Limits)

	if len(body) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, newParseError(400, "PGRST102", "malformed JSON body: %v", err)
		}
		switch v := decoded.(type) {
		case map[string]interface{}:
			q.RPCArgs = v
			q.Rows = []map[string]interface{}{v}
		case []interface{}:
			q.RPCBody = v
			for _, item := range v {
				m, ok := item.(map[string]interface{})
				if !ok {
					return nil, newParseError(400, "PGRST102", "array body elements must be JSON objects")
				}
				q.Rows = append(q.Rows, m)
			}
		default:
			return nil, newParseError(400, "PGRST102", "body must be a JSON object or array of objects")
		}
	}

	return q, nil
}

// applyPageLimits enforces spec §4.1's configuration-bound caps:
// MaxPageSize on limit, DefaultPageSize when none given, MaxTotalResults
// on offset+limit.
func applyPageLimits(q *ParsedQuery, lim Limits) {
	if q.Limit == nil && lim.DefaultPageSize > 0 {
		n := lim.DefaultPageSize
		q.Limit = &n
	}
	if q.Limit != nil && lim.MaxPageSize > 0 && *q.Limit > lim.MaxPageSize {
		n := lim.MaxPageSize
		q.Limit = &n
	}
	if lim.MaxTotalResults > 0 && q.Limit != nil {
		offset := 0
		if q.Offset != nil {
			offset = *q.Offset
		}
		if offset+*q.Limit > lim.MaxTotalResults {
			n := lim.MaxTotalResults - offset
			if n < 0 {
				n = 0
			}
			q.Limit = &n
		}
	}
}

// applyAccept implements spec §4.1's single-object mode:
// `Accept: application/vnd.pgrst.object+json`.
func applyAccept(q *ParsedQuery, accept string) {
	if strings.Contains(accept, "application/vnd.pgrst.object+json") {
		q.SingleObject = true
	}
}

// applyRange implements spec §4.1's Range-header pagination and the Part A
// Open Question resolution: Range is authoritative over limit/offset when
// both are present.
func applyRange(q *ParsedQuery, rng, unit string) error {
	if rng == "" {
		return nil
	}
	if unit == "" {
		unit = "items"
	}
	if unit != "items" {
		return newParseError(400, "PGRST100", "unsupported Range-Unit: %q", unit)
	}
	parts := strings.SplitN(rng, "-", 2)
	if len(parts) != 2 {
		return newParseError(400, "PGRST100", "malformed Range header: %q", rng)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start < 0 || end < start-1 {
		return newParseError(400, "PGRST100", "malformed Range header: %q", rng)
	}
	limit := end - start + 1
	if limit < 0 {
		limit = 0
	}
	q.Offset = &start
	q.Limit = &limit
	if q.Count == CountNone {
		q.Count = CountExact
	}
	return nil
}

// applyPrefer implements spec §4.1/§4.3: Prefer header tokens for count,
// return representation, and conflict resolution. Per the Part A Open
// Question resolution, later tokens of the same kind win and unknown
// tokens are ignored.
func applyPrefer(q *ParsedQuery, prefer string) error {
	if prefer == "" {
		return nil
	}
	for _, tok := range strings.Split(prefer, ",") {
		tok = strings.TrimSpace(tok)
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "count":
			switch val {
			case "exact":
				q.Count = CountExact
			case "planned":
				q.Count = CountPlanned
			case "estimated":
				q.Count = CountEstimated
			default:
				return errUnknownPreference(tok)
			}
		case "return":
			switch val {
			case "representation":
				q.PreferReturn = ReturnRepresentation
			case "minimal":
				q.PreferReturn = ReturnMinimal
			case "headers-only":
				q.PreferReturn = ReturnHeadersOnly
			default:
				return errUnknownPreference(tok)
			}
		case "resolution":
			switch val {
			case "merge-duplicates":
				q.PreferResolution = ResolutionMergeDuplicates
			case "ignore-duplicates":
				q.PreferResolution = ResolutionIgnoreDuplicates
			default:
				return errUnknownPreference(tok)
			}
		}
	}
	return nil
}
