package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxql/fluxql/internal/query"
)

type stubResolver struct {
	parentCol, childCol string
	err                 error
}

func (s stubResolver) ResolveFK(schema, parentTable, childTable, hint string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.parentCol, s.childCol, nil
}

func TestBuildSelect_PlainStarProjection(t *testing.T) {
	q := &query.ParsedQuery{Schema: "public", Table: "users"}
	res, err := BuildSelect(q, Options{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."users"`, res.SQL)
}

func TestBuildSelect_FiltersOrderLimitOffset(t *testing.T) {
	limit, offset := 10, 5
	q := &query.ParsedQuery{
		Schema:  "public",
		Table:   "users",
		Filters: []query.Filter{{Column: "active", Operator: query.OpEqual, Value: true}},
		Order:   []query.OrderBy{{Column: "created_at", Desc: true}},
		Limit:   &limit,
		Offset:  &offset,
	}
	res, err := BuildSelect(q, Options{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."users" WHERE "active" = $1 ORDER BY "created_at" DESC LIMIT 10 OFFSET 5`, res.SQL)
	assert.Equal(t, []interface{}{true}, res.Params)
}

func TestBuildSelect_ZeroOffsetOmitted(t *testing.T) {
	offset := 0
	q := &query.ParsedQuery{Schema: "public", Table: "users", Offset: &offset}
	res, err := BuildSelect(q, Options{})
	require.NoError(t, err)
	assert.NotContains(t, res.SQL, "OFFSET")
}

func TestBuildSelect_EmbedRequiresResolver(t *testing.T) {
	q := &query.ParsedQuery{
		Schema: "public",
		Table:  "authors",
		Select: []query.Projection{
			{Kind: query.ProjectionEmbed, Embed: &query.EmbeddedRelation{Name: "books", Query: &query.ParsedQuery{}}},
		},
	}
	_, err := BuildSelect(q, Options{})
	assert.Error(t, err)
}

func TestBuildSelect_EmbedRendersCorrelatedSubselect(t *testing.T) {
	q := &query.ParsedQuery{
		Schema: "public",
		Table:  "authors",
		Select: []query.Projection{
			{Kind: query.ProjectionEmbed, Embed: &query.EmbeddedRelation{
				Name:  "books",
				Query: &query.ParsedQuery{Select: []query.Projection{{Kind: query.ProjectionColumn, Column: "*"}}},
			}},
		},
	}
	res, err := BuildSelect(q, Options{Resolver: stubResolver{parentCol: "id", childCol: "author_id"}})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, `json_agg(row_to_json(t))`)
	assert.Contains(t, res.SQL, `"public"."books"."author_id" = "public"."authors"."id"`)
	assert.Contains(t, res.SQL, `AS "books"`)
}

func TestBuildCount_StripsOrderAndPaging(t *testing.T) {
	limit := 10
	q := &query.ParsedQuery{
		Schema:  "public",
		Table:   "users",
		Filters: []query.Filter{{Column: "active", Operator: query.OpEqual, Value: true}},
		Order:   []query.OrderBy{{Column: "created_at", Desc: true}},
		Limit:   &limit,
	}
	res, err := BuildCount(q, Options{})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "SELECT count(*) FROM")
	assert.NotContains(t, res.SQL, "ORDER BY")
	assert.NotContains(t, res.SQL, "LIMIT")
}

func TestBuildSelect_AggregateImpliesGroupBy(t *testing.T) {
	q := &query.ParsedQuery{
		Schema: "public",
		Table:  "orders",
		Select: []query.Projection{
			{Kind: query.ProjectionColumn, Column: "customer_id"},
			{Kind: query.ProjectionAggregate, Column: "total", AggFunc: query.AggSum},
		},
	}
	res, err := BuildSelect(q, Options{})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "GROUP BY")
	assert.Contains(t, res.SQL, `SUM("total") AS "total_sum"`)
}
