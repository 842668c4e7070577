// Package query implements the HTTP query gateway's request-side AST: the
// typed representation a URL + headers + body are parsed into (C1), and the
// canonical operator table used to render filters to SQL (C2).
package query

// FilterOperator represents a comparison/relational operator recognized in
// the PostgREST URL dialect.
type FilterOperator string

const (
	OpEqual          FilterOperator = "eq"
	OpNotEqual       FilterOperator = "neq"
	OpGreaterThan    FilterOperator = "gt"
	OpGreaterOrEqual FilterOperator = "gte"
	OpLessThan       FilterOperator = "lt"
	OpLessOrEqual    FilterOperator = "lte"
	OpLike           FilterOperator = "like"
	OpILike          FilterOperator = "ilike"
	OpIn             FilterOperator = "in"
	OpIs             FilterOperator = "is"
	OpContains       FilterOperator = "cs"    // array/jsonb @>
	OpContained      FilterOperator = "cd"    // array/jsonb <@
	OpOverlap        FilterOperator = "ov"    // array &&
	OpStrictlyLeft   FilterOperator = "sl"    // range <<
	OpStrictlyRight  FilterOperator = "sr"    // range >>
	OpNotExtendRight FilterOperator = "nxr"   // range &<
	OpNotExtendLeft  FilterOperator = "nxl"   // range &>
	OpAdjacent       FilterOperator = "adj"   // range -|-
	OpTextSearch     FilterOperator = "fts"   // to_tsquery
	OpPlainTextSearch FilterOperator = "plfts" // plainto_tsquery
	OpPhraseTextSearch FilterOperator = "phfts" // phraseto_tsquery
	OpWebTextSearch  FilterOperator = "wfts"  // websearch_to_tsquery

	// PostGIS spatial operators (Part C domain-stack extension).
	OpSTIntersects FilterOperator = "st_intersects"
	OpSTContains   FilterOperator = "st_contains"
	OpSTWithin     FilterOperator = "st_within"
	OpSTDWithin    FilterOperator = "st_dwithin"
	OpSTDistance   FilterOperator = "st_distance"
	OpSTTouches    FilterOperator = "st_touches"
	OpSTCrosses    FilterOperator = "st_crosses"
	OpSTOverlaps   FilterOperator = "st_overlaps"

	// pgvector similarity operators (Part D supplement), valid only in ORDER BY.
	OpVectorL2     FilterOperator = "vec_l2"
	OpVectorCosine FilterOperator = "vec_cos"
	OpVectorIP     FilterOperator = "vec_ip"

	// OpFalse is never produced by C1's parser — it's the sentinel C5 splices
	// into Filters when an application-level fallback denies all rows (spec
	// §9: "splice at the AST level", not by mutating generated SQL text).
	OpFalse FilterOperator = "__false__"
)

// knownOperators is the canonical set C2 recognizes. Anything else is a
// ParseError (spec §4.1: "Unknown operators fail with 400").
var knownOperators = map[FilterOperator]bool{
	OpEqual: true, OpNotEqual: true, OpGreaterThan: true, OpGreaterOrEqual: true,
	OpLessThan: true, OpLessOrEqual: true, OpLike: true, OpILike: true,
	OpIn: true, OpIs: true, OpContains: true, OpContained: true, OpOverlap: true,
	OpStrictlyLeft: true, OpStrictlyRight: true, OpNotExtendRight: true, OpNotExtendLeft: true,
	OpAdjacent: true, OpTextSearch: true, OpPlainTextSearch: true, OpPhraseTextSearch: true,
	OpWebTextSearch: true, OpSTIntersects: true, OpSTContains: true, OpSTWithin: true,
	OpSTDWithin: true, OpSTDistance: true, OpSTTouches: true, OpSTCrosses: true,
	OpSTOverlaps: true,
}

// IsKnownOperator reports whether op is part of the canonical operator table.
func IsKnownOperator(op FilterOperator) bool {
	return knownOperators[op]
}

// IsVectorOperator reports whether op is only valid as a similarity-ordering
// operator (never a WHERE-clause filter operator).
func IsVectorOperator(op FilterOperator) bool {
	return op == OpVectorL2 || op == OpVectorCosine || op == OpVectorIP
}

// Filter is a single WHERE condition: `column operator value`, optionally
// negated (PostgREST `not.` prefix), grouped into an OR-group for logical
// nesting (spec §3: "Logic trees support and(...)/or(...) with arbitrary
// nesting and per-branch negation").
//
// This is a tagged variant, not an untyped map (spec §9's "Dynamic request
// shapes" design note): Operator pins down which branch of semantics
// Value's dynamic type follows.
type Filter struct {
	Column    string
	Operator  FilterOperator
	Value     interface{}
	Negated   bool
	IsOr      bool // combine with OR instead of AND at this nesting level
	OrGroupID int  // filters sharing a non-zero OrGroupID are grouped together
}

// OrderBy is one ORDER BY term, possibly a pgvector similarity ordering.
type OrderBy struct {
	Column      string
	Desc        bool
	NullsFirst  bool
	NullsSet    bool // whether the caller specified nulls ordering at all
	VectorOp    FilterOperator
	VectorValue interface{}
}

// ProjectionKind discriminates the sum type spec §9 calls for in place of
// the source's untyped select-list strings.
type ProjectionKind int

const (
	ProjectionColumn ProjectionKind = iota
	ProjectionJSONPath
	ProjectionAggregate
	ProjectionEmbed
)

// AggregateFunction is a supported aggregate call in a select list
// (`col.sum()` etc.); spec §4.1.
type AggregateFunction string

const (
	AggCount AggregateFunction = "count"
	AggSum   AggregateFunction = "sum"
	AggAvg   AggregateFunction = "avg"
	AggMin   AggregateFunction = "min"
	AggMax   AggregateFunction = "max"
)

// JSONPathStep is one `->` or `->>` hop; Text marks the final `->>` leg
// (text extraction) vs. `->` (stays jsonb).
type JSONPathStep struct {
	Key       string
	IsNumeric bool
	Text      bool
}

// Projection is one item in a `select=` list: a plain column, a JSON path
// expression, a computed aggregate, or a nested embedded relation.
type Projection struct {
	Kind ProjectionKind

	// Column / JSONPath
	Column   string
	Alias    string
	Cast     string
	JSONPath []JSONPathStep

	// Aggregate
	AggFunc AggregateFunction

	// Embed
	Embed *EmbeddedRelation
}

// EmbeddedRelation is a nested selection pulling related rows via a
// foreign-key relationship (spec GLOSSARY: "Embed").
type EmbeddedRelation struct {
	Name    string // relation/table alias as named in the select list
	Hint    string // optional `!fkname` disambiguation hint
	Inner   bool   // `!inner` join semantics
	Query   *ParsedQuery
}

// CountMode mirrors Prefer: count=<mode>.
type CountMode int

const (
	CountNone CountMode = iota
	CountExact
	CountPlanned
	CountEstimated
)

// PreferReturn mirrors Prefer: return=<mode>.
type PreferReturn int

const (
	ReturnRepresentation PreferReturn = iota
	ReturnMinimal
	ReturnHeadersOnly
)

// PreferResolution mirrors Prefer: resolution=<mode> (UPSERT conflict handling).
type PreferResolution int

const (
	ResolutionNone PreferResolution = iota
	ResolutionMergeDuplicates
	ResolutionIgnoreDuplicates
)

// ParsedQuery is the central AST (spec §3): the immutable result of C1,
// consumed by C3/C4/C5/C6/C7. Created at parse time, destroyed when the
// response is written; never mutated in place (fallback filtering in C5
// returns a copy with an extra Filter appended).
type ParsedQuery struct {
	Schema string
	Table  string

	Select   []Projection
	Filters  []Filter
	Order    []OrderBy
	GroupBy  []string

	Limit  *int
	Offset *int

	Cursor       string
	CursorColumn string

	Count            CountMode
	PreferReturn     PreferReturn
	PreferResolution PreferResolution

	OnConflict []string

	SingleObject bool

	// Columns is the optional write column allow-list (`columns=` param,
	// Part D supplement): when non-nil, only these keys of the write body
	// are honored.
	Columns []string

	// RPCArgs holds the decoded JSON body for RPC calls (POST/GET /rpc/<fn>)
	// when the body is a single JSON object.
	RPCArgs map[string]interface{}

	// RPCBody holds the raw decoded array when the request body is a JSON
	// array (Part A Open Question resolution: passed as one argument, not
	// iterated per-element).
	RPCBody []interface{}

	// Rows holds the decoded write body for INSERT/UPSERT (one element per
	// row) and UPDATE (single element, the partial patch).
	Rows []map[string]interface{}

	orGroupCounter int
}

// NextOrGroupID allocates a fresh OR-group identifier while parsing nested
// logic trees.
func (q *ParsedQuery) NextOrGroupID() int {
	q.orGroupCounter++
	return q.orGroupCounter
}
