package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxql/fluxql/internal/pubsub"
	"github.com/fluxql/fluxql/internal/sqlbuild"
	"github.com/rs/zerolog/log"
)

// Cache is a thread-safe, TTL-expiring view over Inspector's catalog
// queries, with cross-instance invalidation over pubsub.PubSub (Redis in
// production, per the teacher's factory). Grounded on the teacher's
// database.SchemaCache.
type Cache struct {
	mu          sync.RWMutex
	tables      map[string]*TableInfo // key: "schema.table"
	all         []TableInfo
	ttl         time.Duration
	lastRefresh time.Time
	inspector   *Inspector
	stale       bool
	schemas     []string

	ps         pubsub.PubSub
	cancelFunc context.CancelFunc
}

func NewCache(inspector *Inspector, ttl time.Duration) *Cache {
	return &Cache{
		tables:    make(map[string]*TableInfo),
		ttl:       ttl,
		inspector: inspector,
		stale:     true,
	}
}

func makeKey(schema, table string) string { return fmt.Sprintf("%s.%s", schema, table) }

func (c *Cache) needsRefresh() bool {
	return c.stale || time.Since(c.lastRefresh) > c.ttl
}

// GetTable returns cached metadata for one table, refreshing first if
// stale/expired.
func (c *Cache) GetTable(ctx context.Context, schema, table string) (*TableInfo, bool, error) {
	c.mu.RLock()
	if !c.needsRefresh() {
		info, ok := c.tables[makeKey(schema, table)]
		c.mu.RUnlock()
		return info, ok, nil
	}
	c.mu.RUnlock()

	if err := c.Refresh(ctx); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tables[makeKey(schema, table)]
	return info, ok, nil
}

// ResolveFK implements sqlbuild.FKResolver: given a parent/child table pair
// (and an optional `!fkname` hint), finds the single foreign key connecting
// them. Tries both directions — child→parent (the common case: `posts`
// embeds `authors` via posts.author_id) and parent→child (the reverse
// embed: `authors` embeds `posts`) — erroring as ErrAmbiguousFK when more
// than one FK matches and no hint disambiguates (spec §4.1 embed rules).
func (c *Cache) ResolveFK(parentSchema, parentTable, childTable, hint string) (string, string, error) {
	ctx := context.Background()
	parent, ok, err := c.GetTable(ctx, parentSchema, parentTable)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("schema: unknown table %s.%s", parentSchema, parentTable)
	}
	child, ok, err := c.GetTable(ctx, parentSchema, childTable)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("schema: unknown table %s.%s", parentSchema, childTable)
	}

	var matches []ForeignKey
	for _, fk := range child.ForeignKeys {
		if fk.ReferencedTable == parent.Name {
			if hint != "" && fk.Name != hint {
				continue
			}
			matches = append(matches, fk)
		}
	}
	if len(matches) == 1 {
		return matches[0].ReferencedColumn, matches[0].ColumnName, nil
	}
	if len(matches) > 1 {
		return "", "", sqlbuild.ErrAmbiguousFK
	}

	// Reverse direction: parent table holds the FK pointing at child.
	matches = nil
	for _, fk := range parent.ForeignKeys {
		if fk.ReferencedTable == child.Name {
			if hint != "" && fk.Name != hint {
				continue
			}
			matches = append(matches, fk)
		}
	}
	if len(matches) == 1 {
		return matches[0].ColumnName, matches[0].ReferencedColumn, nil
	}
	if len(matches) > 1 {
		return "", "", sqlbuild.ErrAmbiguousFK
	}
	return "", "", fmt.Errorf("schema: no foreign key relates %s and %s", parentTable, childTable)
}

// RLSEnabled reports whether a table requires C5's application-level
// fallback path when session installation degrades.
func (c *Cache) RLSEnabled(ctx context.Context, schema, table string) (bool, error) {
	info, ok, err := c.GetTable(ctx, schema, table)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return info.RLSEnabled, nil
}

// PrimaryKey returns a table's primary key columns, used by sqlbuild's
// UPSERT conflict-target inference.
func (c *Cache) PrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	info, ok, err := c.GetTable(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return info.PrimaryKey, nil
}

// Invalidate marks the cache stale locally only.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// InvalidateAll invalidates locally and broadcasts to other instances —
// call after a migration or any DDL change (spec Part C: Redis-backed
// cross-instance invalidation).
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.Invalidate()
	if c.ps == nil {
		return
	}
	if err := c.ps.Publish(ctx, pubsub.SchemaCacheChannel, []byte("invalidate")); err != nil {
		log.Error().Err(err).Msg("schema: failed to broadcast cache invalidation")
	}
}

// SetPubSub wires cross-instance invalidation; call once at startup.
func (c *Cache) SetPubSub(ps pubsub.PubSub) {
	c.mu.Lock()
	c.ps = ps
	c.mu.Unlock()
	if ps != nil {
		c.listen(ps)
	}
}

func (c *Cache) listen(ps pubsub.PubSub) {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel
	c.mu.Unlock()

	go func() {
		msgCh, err := ps.Subscribe(ctx, pubsub.SchemaCacheChannel)
		if err != nil {
			log.Error().Err(err).Msg("schema: failed to subscribe to invalidation channel")
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				c.Invalidate()
			}
		}
	}()
}

// Close stops the invalidation listener.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
}

// Refresh forces an immediate reload of every schema's table metadata.
func (c *Cache) Refresh(ctx context.Context) error {
	schemas, err := c.inspector.GetSchemas(ctx)
	if err != nil {
		return fmt.Errorf("schema: get schemas: %w", err)
	}

	newTables := make(map[string]*TableInfo)
	var all []TableInfo
	for _, s := range schemas {
		tables, err := c.inspector.GetAllTables(ctx, s)
		if err != nil {
			log.Warn().Err(err).Str("schema", s).Msg("schema: failed to introspect schema")
			continue
		}
		for i := range tables {
			t := tables[i]
			newTables[makeKey(t.Schema, t.Name)] = &t
			all = append(all, t)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = newTables
	c.all = all
	c.schemas = schemas
	c.lastRefresh = time.Now()
	c.stale = false
	log.Debug().Int("tables", len(all)).Int("schemas", len(schemas)).Msg("schema: cache refreshed")
	return nil
}

// RefreshOnMiss implements spec §7c's "rebuild once on 42P01 miss, then
// propagate" rule: a table-not-found error during query execution might
// just mean the cache is stale after a concurrent migration, so a single
// synchronous rebuild is attempted (and broadcast) before treating the miss
// as a genuine 404.
func (c *Cache) RefreshOnMiss(ctx context.Context, schema, table string) (*TableInfo, bool, error) {
	if err := c.Refresh(ctx); err != nil {
		return nil, false, err
	}
	if c.ps != nil {
		if err := c.ps.Publish(ctx, pubsub.SchemaCacheChannel, []byte("invalidate")); err != nil {
			log.Error().Err(err).Msg("schema: failed to broadcast post-miss cache refresh")
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tables[makeKey(schema, table)]
	return info, ok, nil
}

// AllTables returns every cached table across all schemas.
func (c *Cache) AllTables(ctx context.Context) ([]TableInfo, error) {
	c.mu.RLock()
	if !c.needsRefresh() {
		out := make([]TableInfo, len(c.all))
		copy(out, c.all)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TableInfo, len(c.all))
	copy(out, c.all)
	return out, nil
}
