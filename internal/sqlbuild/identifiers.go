// Package sqlbuild implements C3: compiling a query.ParsedQuery into
// parameterized SQL for SELECT/INSERT/UPSERT/UPDATE/DELETE/RPC.
//
// Grounded on the teacher's internal/api/query_parser.go (ToSQL,
// filterToSQL, buildWhereClause, buildOrderClause, quoteIdentifier) and
// internal/api/query_builder.go (QueryBuilder, cursor pagination),
// consolidated into one canonical implementation per spec §9's explicit
// guidance that the source's duplicated builder paths should collapse.
package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// QuoteIdentifier safely quotes a single SQL identifier segment, rejecting
// anything that doesn't match query.IsValidIdentifier (spec §4.2: "No
// interpolation of identifiers as strings").
func QuoteIdentifier(s string) (string, error) {
	if !query.IsValidIdentifier(s) {
		return "", fmt.Errorf("invalid identifier: %q", s)
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
}

// QuoteQualified quotes a `schema.table` style reference, validating each
// segment independently.
func QuoteQualified(schema, name string) (string, error) {
	qs, err := QuoteIdentifier(schema)
	if err != nil {
		return "", err
	}
	qn, err := QuoteIdentifier(name)
	if err != nil {
		return "", err
	}
	return qs + "." + qn, nil
}
