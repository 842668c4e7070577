package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxql/fluxql/internal/sqlbuild"
)

// primedCache builds a Cache with its table map populated directly,
// bypassing Refresh (which needs a live *pgxpool.Pool) — valid because
// needsRefresh only looks at the unexported stale/lastRefresh fields, and
// this test lives in the same package.
func primedCache(tables ...TableInfo) *Cache {
	c := &Cache{
		tables:      make(map[string]*TableInfo),
		ttl:         time.Hour,
		stale:       false,
		lastRefresh: time.Now(),
	}
	for i := range tables {
		t := tables[i]
		c.tables[makeKey(t.Schema, t.Name)] = &t
		c.all = append(c.all, t)
	}
	return c
}

func TestResolveFK_ChildHoldsForeignKey(t *testing.T) {
	c := primedCache(
		TableInfo{Schema: "public", Name: "authors", PrimaryKey: []string{"id"}},
		TableInfo{Schema: "public", Name: "books", ForeignKeys: []ForeignKey{
			{Name: "books_author_id_fkey", ColumnName: "author_id", ReferencedTable: "authors", ReferencedColumn: "id"},
		}},
	)

	parentCol, childCol, err := c.ResolveFK("public", "authors", "books", "")
	require.NoError(t, err)
	assert.Equal(t, "id", parentCol)
	assert.Equal(t, "author_id", childCol)
}

func TestResolveFK_ReverseDirection(t *testing.T) {
	c := primedCache(
		TableInfo{Schema: "public", Name: "authors", ForeignKeys: []ForeignKey{
			{Name: "authors_featured_book_id_fkey", ColumnName: "featured_book_id", ReferencedTable: "books", ReferencedColumn: "id"},
		}},
		TableInfo{Schema: "public", Name: "books"},
	)

	parentCol, childCol, err := c.ResolveFK("public", "authors", "books", "")
	require.NoError(t, err)
	assert.Equal(t, "featured_book_id", parentCol)
	assert.Equal(t, "id", childCol)
}

func TestResolveFK_AmbiguousWithoutHint(t *testing.T) {
	c := primedCache(
		TableInfo{Schema: "public", Name: "authors"},
		TableInfo{Schema: "public", Name: "books", ForeignKeys: []ForeignKey{
			{Name: "books_primary_author_fkey", ColumnName: "primary_author_id", ReferencedTable: "authors", ReferencedColumn: "id"},
			{Name: "books_editor_id_fkey", ColumnName: "editor_id", ReferencedTable: "authors", ReferencedColumn: "id"},
		}},
	)

	_, _, err := c.ResolveFK("public", "authors", "books", "")
	assert.ErrorIs(t, err, sqlbuild.ErrAmbiguousFK)
}

func TestResolveFK_HintDisambiguates(t *testing.T) {
	c := primedCache(
		TableInfo{Schema: "public", Name: "authors"},
		TableInfo{Schema: "public", Name: "books", ForeignKeys: []ForeignKey{
			{Name: "books_primary_author_fkey", ColumnName: "primary_author_id", ReferencedTable: "authors", ReferencedColumn: "id"},
			{Name: "books_editor_id_fkey", ColumnName: "editor_id", ReferencedTable: "authors", ReferencedColumn: "id"},
		}},
	)

	_, childCol, err := c.ResolveFK("public", "authors", "books", "books_editor_id_fkey")
	require.NoError(t, err)
	assert.Equal(t, "editor_id", childCol)
}

func TestResolveFK_NoRelationIsError(t *testing.T) {
	c := primedCache(
		TableInfo{Schema: "public", Name: "authors"},
		TableInfo{Schema: "public", Name: "books"},
	)
	_, _, err := c.ResolveFK("public", "authors", "books", "")
	assert.Error(t, err)
}

func TestCache_RLSEnabled(t *testing.T) {
	c := primedCache(TableInfo{Schema: "public", Name: "profiles", RLSEnabled: true})
	enabled, err := c.RLSEnabled(context.Background(), "public", "profiles")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestCache_PrimaryKey(t *testing.T) {
	c := primedCache(TableInfo{Schema: "public", Name: "widgets", PrimaryKey: []string{"id"}})
	pk, err := c.PrimaryKey(context.Background(), "public", "widgets")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk)
}

func TestCache_InvalidateMarksStale(t *testing.T) {
	c := primedCache(TableInfo{Schema: "public", Name: "widgets"})
	assert.False(t, c.needsRefresh())
	c.Invalidate()
	assert.True(t, c.needsRefresh())
}
