package query

import "regexp"

// validIdentifierRegex enforces spec §4.2: "Identifiers... validated against
// ^[A-Za-z_][A-Za-z0-9_]*$ (or a schema-qualified form with the same rule
// per segment)". Grounded on the teacher's identical regex in
// internal/api/query_parser.go.
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsValidIdentifier reports whether s is a single safe SQL identifier
// segment (no schema-qualification dot).
func IsValidIdentifier(s string) bool {
	return s != "" && validIdentifierRegex.MatchString(s)
}
