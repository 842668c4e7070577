package sqlbuild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// BuildRPC compiles a function call (spec §4.2: "SELECT * FROM
// schema.fn(named := $n, ...) when argument names are known, else
// positional"). RPCArgs (named) takes precedence; RPCBody (an array body,
// Part A Open Question resolution) is passed as a single positional JSON
// argument rather than iterated per-element.
func BuildRPC(q *query.ParsedQuery) (Result, error) {
	fnQ, err := QuoteQualified(q.Schema, q.Table)
	if err != nil {
		return Result{}, err
	}
	ac := &argCounter{}

	var argExprs []string
	switch {
	case len(q.RPCArgs) > 0:
		names := make([]string, 0, len(q.RPCArgs))
		for k := range q.RPCArgs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			nameQ, err := QuoteIdentifier(name)
			if err != nil {
				return Result{}, err
			}
			argExprs = append(argExprs, fmt.Sprintf("%s := %s", nameQ, ac.add(q.RPCArgs[name])))
		}
	case q.RPCBody != nil:
		argExprs = append(argExprs, ac.add(q.RPCBody))
	default:
		// GET /rpc/<fn>: positional args are sourced from the query string
		// by the caller via Filters-as-args convention; RPCArgs is expected
		// to be populated by the handler in that case instead.
	}

	sql := fmt.Sprintf("SELECT * FROM %s(%s)", fnQ, strings.Join(argExprs, ", "))
	return Result{SQL: sql, Params: ac.params}, nil
}
