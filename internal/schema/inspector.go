// Package schema implements schema introspection and the foreign-key graph
// C3's embedded-resource expansion (sqlbuild.FKResolver) resolves against.
//
// Grounded on the teacher's internal/database/schema_inspector.go and
// schema_cache.go; adapted to depend on a bare *pgxpool.Pool (via
// internal/engine) rather than the teacher's database.Connection wrapper,
// and to implement internal/sqlbuild.FKResolver directly.
package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TableInfo mirrors the teacher's database.TableInfo shape.
type TableInfo struct {
	Schema      string
	Name        string
	Type        string // "table", "view", "materialized_view"
	Columns     []ColumnInfo
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	RLSEnabled  bool
}

type ColumnInfo struct {
	Name         string
	DataType     string
	IsNullable   bool
	DefaultValue *string
	IsPrimaryKey bool
	IsForeignKey bool
	MaxLength    *int
	Position     int
}

type ForeignKey struct {
	Name             string
	ColumnName       string
	ReferencedSchema string
	ReferencedTable  string
	ReferencedColumn string
	OnDelete         string
	OnUpdate         string
}

// Inspector queries Postgres catalogs directly; Cache is the layer callers
// actually use (it adds TTL caching and cross-instance invalidation).
type Inspector struct {
	pool *pgxpool.Pool
}

func NewInspector(pool *pgxpool.Pool) *Inspector {
	return &Inspector{pool: pool}
}

// GetSchemas lists non-system schemas present in the database.
func (si *Inspector) GetSchemas(ctx context.Context) ([]string, error) {
	rows, err := si.pool.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT IN ('information_schema', 'pg_catalog', 'pg_toast', '_fluxql')
		  AND schema_name NOT LIKE 'pg_%'
		ORDER BY schema_name
	`)
	if err != nil {
		return nil, fmt.Errorf("schema: query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

// GetAllTables retrieves table metadata (name, RLS flag, PK, FKs, columns)
// for every base table in the given schemas.
func (si *Inspector) GetAllTables(ctx context.Context, schemas ...string) ([]TableInfo, error) {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}
	rows, err := si.pool.Query(ctx, `
		SELECT schemaname, tablename,
		       COALESCE((SELECT relrowsecurity FROM pg_class c
		                 JOIN pg_namespace n ON n.oid = c.relnamespace
		                 WHERE n.nspname = t.schemaname AND c.relname = t.tablename), false)
		FROM pg_tables t
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, tablename
	`, schemas)
	if err != nil {
		return nil, fmt.Errorf("schema: query tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.RLSEnabled); err != nil {
			return nil, err
		}
		t.Type = "table"
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		pk, err := si.getPrimaryKey(ctx, tables[i].Schema, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].PrimaryKey = pk

		fks, err := si.getForeignKeys(ctx, tables[i].Schema, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].ForeignKeys = fks

		cols, err := si.getColumns(ctx, tables[i].Schema, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
	}
	return tables, nil
}

func (si *Inspector) getColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	rows, err := si.pool.Query(ctx, `
		SELECT column_name,
		       CASE WHEN data_type = 'USER-DEFINED' THEN udt_name ELSE data_type END,
		       is_nullable, column_default, character_maximum_length, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var isNullable string
		var maxLen *int32
		if err := rows.Scan(&c.Name, &c.DataType, &isNullable, &c.DefaultValue, &maxLen, &c.Position); err != nil {
			return nil, err
		}
		c.IsNullable = isNullable == "YES"
		if maxLen != nil {
			n := int(*maxLen)
			c.MaxLength = &n
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (si *Inspector) getPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := si.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)
	`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		pk = append(pk, col)
	}
	return pk, rows.Err()
}

func (si *Inspector) getForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	rows, err := si.pool.Query(ctx, `
		SELECT tc.constraint_name, kcu.column_name,
		       ccu.table_schema, ccu.table_name, ccu.column_name,
		       rc.delete_rule, rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_name = tc.constraint_name AND rc.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
	`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.ColumnName, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.OnDelete, &fk.OnUpdate); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
