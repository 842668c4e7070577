package sqlbuild

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fluxql/fluxql/internal/query"
)

// CursorData is the decoded keyset-pagination cursor (Part D supplement:
// cursor-based pagination is not in PostgREST's own dialect but is present
// in the teacher's query_builder.go and kept here as an additive,
// off-by-default extension).
type CursorData struct {
	Column string      `json:"column"`
	Value  interface{} `json:"value"`
	Desc   bool        `json:"desc"`
}

// EncodeCursor base64-encodes a CursorData as an opaque pagination token.
func EncodeCursor(c CursorData) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(token string) (CursorData, error) {
	var c CursorData
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	return c, nil
}

// buildCursorCondition renders the keyset WHERE fragment: `column > $n`
// (ascending) or `column < $n` (descending), grounded on the teacher's
// buildCursorCondition.
func buildCursorCondition(q *query.ParsedQuery, ac *argCounter) (string, error) {
	cursor, err := DecodeCursor(q.Cursor)
	if err != nil {
		return "", err
	}
	col := cursor.Column
	if col == "" {
		col = q.CursorColumn
	}
	if col == "" {
		return "", fmt.Errorf("cursor requires a column (set cursor_column or encode it in the cursor)")
	}
	colQ, err := QuoteIdentifier(col)
	if err != nil {
		return "", err
	}
	op := ">"
	if cursor.Desc {
		op = "<"
	}
	return fmt.Sprintf("%s %s %s", colQ, op, ac.add(cursor.Value)), nil
}
