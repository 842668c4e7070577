package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelect_PlainColumns(t *testing.T) {
	projs, err := parseSelect("id,name")
	require.NoError(t, err)
	require.Len(t, projs, 2)
	assert.Equal(t, "id", projs[0].Column)
	assert.Equal(t, "name", projs[1].Column)
}

func TestParseSelect_AliasAndCast(t *testing.T) {
	projs, err := parseSelect("display_name:name::text")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	assert.Equal(t, "display_name", projs[0].Alias)
	assert.Equal(t, "name", projs[0].Column)
	assert.Equal(t, "text", projs[0].Cast)
}

func TestParseSelect_Aggregate(t *testing.T) {
	projs, err := parseSelect("total.sum()")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	assert.Equal(t, ProjectionAggregate, projs[0].Kind)
	assert.Equal(t, AggSum, projs[0].AggFunc)
	assert.Equal(t, "total", projs[0].Column)
}

func TestParseSelect_CountStar(t *testing.T) {
	projs, err := parseSelect("count()")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	assert.Equal(t, AggCount, projs[0].AggFunc)
	assert.Equal(t, "*", projs[0].Column)
}

func TestParseSelect_JSONPath(t *testing.T) {
	projs, err := parseSelect("meta->a->>b")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	assert.Equal(t, ProjectionJSONPath, projs[0].Kind)
	require.Len(t, projs[0].JSONPath, 2)
	assert.False(t, projs[0].JSONPath[0].Text)
	assert.True(t, projs[0].JSONPath[1].Text)
}

func TestParseSelect_SimpleEmbed(t *testing.T) {
	projs, err := parseSelect("author(id,name)")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	require.Equal(t, ProjectionEmbed, projs[0].Kind)
	assert.Equal(t, "author", projs[0].Embed.Name)
	require.Len(t, projs[0].Embed.Query.Select, 2)
}

func TestParseSelect_EmbedWithFKHint(t *testing.T) {
	projs, err := parseSelect("author!books_author_id_fkey(id)")
	require.NoError(t, err)
	assert.Equal(t, "books_author_id_fkey", projs[0].Embed.Hint)
}

func TestParseSelect_EmbedInnerJoin(t *testing.T) {
	projs, err := parseSelect("author!inner(id)")
	require.NoError(t, err)
	assert.True(t, projs[0].Embed.Inner)
}

func TestParseSelect_StarColumn(t *testing.T) {
	projs, err := parseSelect("*")
	require.NoError(t, err)
	require.Len(t, projs, 1)
	assert.Equal(t, "*", projs[0].Column)
}

func TestParseSelect_InvalidColumnErrors(t *testing.T) {
	_, err := parseSelect("bad column name")
	assert.Error(t, err)
}

func TestParseSelect_UnbalancedParensErrors(t *testing.T) {
	_, err := parseSelect("author(id,name")
	assert.Error(t, err)
}
