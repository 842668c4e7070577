package restapi

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fluxql/fluxql/internal/access"
	"github.com/fluxql/fluxql/internal/engine"
	"github.com/fluxql/fluxql/internal/observability"
	"github.com/fluxql/fluxql/internal/query"
	"github.com/fluxql/fluxql/internal/schema"
	"github.com/fluxql/fluxql/internal/sqlbuild"
)

// Gateway wires C1-C9 together behind fiber handlers. One Gateway per
// process; stateless across requests beyond the shared pool/cache.
type Gateway struct {
	Pool      *engine.Pool
	Cache     *schema.Cache
	Classify  access.KeyClassifier
	ParseOpts query.Options
	// Metrics is optional; when set, Register mounts the teacher's
	// MetricsMiddleware and every compiled statement is timed through it.
	Metrics *observability.Metrics
}

// tenantPrefix matches an optional leading tenant segment before
// /rest/v1/... (spec §4.6: "An optional tenant prefix segment
// `/<tenant>/rest/v1/...` is stripped before matching").
var tenantPrefix = regexp.MustCompile(`^/[^/]+(/rest/v1/.*)$`)

// Register mounts C8's dispatch routes on a fiber app. Grounded on the
// teacher's server.go route-group structure, retargeted at spec §4.6's
// `/rest/v1/<table>` and `/rest/v1/rpc/<fn>` paths instead of the teacher's
// `/api/v1/tables/...`.
func (g *Gateway) Register(app *fiber.App) {
	if g.Metrics != nil {
		app.Use(g.Metrics.MetricsMiddleware())
	}
	app.Use(func(c *fiber.Ctx) error {
		if m := tenantPrefix.FindStringSubmatch(c.Path()); m != nil {
			c.Path(m[1])
		}
		return c.Next()
	})

	rest := app.Group("/rest/v1")
	rest.Get("/rpc/:fn", g.handleRPC)
	rest.Post("/rpc/:fn", g.handleRPC)
	rest.Get("/:table", g.handleSelect)
	rest.Head("/:table", g.handleSelect)
	rest.Post("/:table", g.handleInsert)
	rest.Patch("/:table", g.handleUpdate)
	rest.Delete("/:table", g.handleDelete)
	rest.Options("/:table", func(c *fiber.Ctx) error { return c.SendStatus(204) })
	rest.All("/:table", MethodNotAllowed)
	rest.All("/rpc/:fn", MethodNotAllowed)
}

// recordQuery reports a compiled statement's duration through the teacher's
// observability.Metrics (RecordDBQuery), when metrics are enabled.
func (g *Gateway) recordQuery(verb, table string, start time.Time, err error) {
	if g.Metrics != nil {
		g.Metrics.RecordDBQuery(verb, table, time.Since(start), err)
	}
}

func (g *Gateway) handleSelect(c *fiber.Ctx) error {
	table := c.Params("table")
	sess, err := access.DeriveContext(fiberHeaders(c), g.Classify)
	if err != nil {
		return MapError(c, err)
	}

	q, err := query.Parse(table, parseValues(c), fiberHeaders(c), nil, g.ParseOpts)
	if err != nil {
		return MapError(c, err)
	}

	tx, installRes, err := engine.BeginWithSession(c.Context(), g.Pool, sess)
	if err != nil {
		return MapError(c, err)
	}
	defer func() { _ = tx.Rollback(c.Context()) }()

	requiresAuth, err := g.Cache.RLSEnabled(c.Context(), q.Schema, q.Table)
	if err != nil {
		return MapError(c, err)
	}
	q = access.ApplyFallback(q, requiresAuth, sess, installRes.Degraded)

	resolver := &cacheResolver{cache: g.Cache, schema: q.Schema}
	result, err := sqlbuild.BuildSelect(q, sqlbuild.Options{Resolver: resolver})
	if err != nil {
		return MapError(c, err)
	}

	queryStart := time.Now()
	rows, err := tx.Query(c.Context(), result.SQL, result.Params...)
	g.recordQuery("SELECT", q.Table, queryStart, err)
	if err != nil {
		return MapError(c, g.refreshAndRemap(c, q, err))
	}
	defer rows.Close()
	out, err := engine.RowsToJSON(rows)
	if err != nil {
		return MapError(c, err)
	}

	var total *int64
	if q.Count != query.CountNone {
		countResult, err := sqlbuild.BuildCount(q, sqlbuild.Options{Resolver: resolver})
		if err != nil {
			return MapError(c, err)
		}
		var n int64
		if err := tx.QueryRow(c.Context(), countResult.SQL, countResult.Params...).Scan(&n); err != nil {
			return MapError(c, err)
		}
		total = &n
	}

	if err := tx.Commit(c.Context()); err != nil {
		return MapError(c, err)
	}
	return WriteSelect(c, q, SelectResult{Rows: out, Total: total}, c.Method() == fiber.MethodHead)
}

func (g *Gateway) handleInsert(c *fiber.Ctx) error {
	return g.handleWrite(c, "INSERT")
}

func (g *Gateway) handleUpdate(c *fiber.Ctx) error {
	return g.handleWrite(c, "UPDATE")
}

func (g *Gateway) handleDelete(c *fiber.Ctx) error {
	return g.handleWrite(c, "DELETE")
}

func (g *Gateway) handleWrite(c *fiber.Ctx, verb string) error {
	table := c.Params("table")
	sess, err := access.DeriveContext(fiberHeaders(c), g.Classify)
	if err != nil {
		return MapError(c, err)
	}

	q, err := query.Parse(table, parseValues(c), fiberHeaders(c), c.Body(), g.ParseOpts)
	if err != nil {
		return MapError(c, err)
	}
	if len(q.OnConflict) > 0 || q.PreferResolution == query.ResolutionMergeDuplicates || q.PreferResolution == query.ResolutionIgnoreDuplicates {
		if verb == "INSERT" {
			verb = "UPSERT"
		}
	}

	tx, installRes, err := engine.BeginWithSession(c.Context(), g.Pool, sess)
	if err != nil {
		return MapError(c, err)
	}
	defer func() { _ = tx.Rollback(c.Context()) }()

	requiresAuth, err := g.Cache.RLSEnabled(c.Context(), q.Schema, q.Table)
	if err != nil {
		return MapError(c, err)
	}
	q = access.ApplyFallback(q, requiresAuth, sess, installRes.Degraded)

	pk, err := g.Cache.PrimaryKey(c.Context(), q.Schema, q.Table)
	if err != nil {
		return MapError(c, err)
	}

	var result sqlbuild.Result
	switch verb {
	case "INSERT":
		result, err = sqlbuild.BuildInsert(q, pk)
	case "UPSERT":
		result, err = sqlbuild.BuildUpsert(q, pk)
	case "UPDATE":
		result, err = sqlbuild.BuildUpdate(q, pk)
	case "DELETE":
		result, err = sqlbuild.BuildDelete(q, pk)
	}
	if err != nil {
		return MapError(c, err)
	}

	var rowsOut []map[string]interface{}
	var affected int64
	queryStart := time.Now()
	if strings.Contains(result.SQL, "RETURNING") {
		rows, err := tx.Query(c.Context(), result.SQL, result.Params...)
		g.recordQuery(verb, q.Table, queryStart, err)
		if err != nil {
			return MapError(c, g.refreshAndRemap(c, q, err))
		}
		rowsOut, err = engine.RowsToJSON(rows)
		rows.Close()
		if err != nil {
			return MapError(c, err)
		}
	} else {
		n, err := tx.ExecWritten(c.Context(), result.SQL, result.Params...)
		g.recordQuery(verb, q.Table, queryStart, err)
		if err != nil {
			return MapError(c, g.refreshAndRemap(c, q, err))
		}
		affected = n
	}

	if err := tx.Commit(c.Context()); err != nil {
		return MapError(c, err)
	}
	return WriteWrite(c, q, verb, rowsOut, affected)
}

func (g *Gateway) handleRPC(c *fiber.Ctx) error {
	fn := c.Params("fn")
	sess, err := access.DeriveContext(fiberHeaders(c), g.Classify)
	if err != nil {
		return MapError(c, err)
	}

	q, err := query.Parse(fn, parseValues(c), fiberHeaders(c), c.Body(), g.ParseOpts)
	if err != nil {
		return MapError(c, err)
	}
	if q.RPCArgs == nil && q.RPCBody == nil && c.Method() == fiber.MethodGet {
		q.RPCArgs = map[string]interface{}{}
		for k, vals := range parseValues(c) {
			if len(vals) > 0 {
				q.RPCArgs[k] = vals[0]
			}
		}
	}

	tx, _, err := engine.BeginWithSession(c.Context(), g.Pool, sess)
	if err != nil {
		return MapError(c, err)
	}
	defer func() { _ = tx.Rollback(c.Context()) }()

	result, err := sqlbuild.BuildRPC(q)
	if err != nil {
		return MapError(c, err)
	}
	rows, err := tx.Query(c.Context(), result.SQL, result.Params...)
	if err != nil {
		return MapError(c, err)
	}
	out, err := engine.RowsToJSON(rows)
	rows.Close()
	if err != nil {
		return MapError(c, err)
	}
	if err := tx.Commit(c.Context()); err != nil {
		return MapError(c, err)
	}
	return c.Status(200).JSON(out)
}

// refreshAndRemap implements spec §7c's 42P01 rebuild-once-then-propagate
// rule: on a table-not-found error, force one synchronous cache rebuild (in
// case a migration just ran) before letting the original error surface.
func (g *Gateway) refreshAndRemap(c *fiber.Ctx, q *query.ParsedQuery, err error) error {
	if !strings.Contains(err.Error(), "42P01") && !strings.Contains(err.Error(), "does not exist") {
		return err
	}
	if _, ok, refreshErr := g.Cache.RefreshOnMiss(c.Context(), q.Schema, q.Table); refreshErr == nil && ok {
		log.Debug().Str("table", q.Table).Msg("restapi: schema cache rebuilt after miss")
	}
	return err
}

// fiberHeaders converts fiber's request headers into a stdlib http.Header
// so C1's Parse (which takes http.Header to stay framework-agnostic) can
// read them directly.
func fiberHeaders(c *fiber.Ctx) http.Header {
	h := http.Header{}
	c.Context().Request.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return h
}

// parseValues converts fiber's query args into stdlib url.Values.
func parseValues(c *fiber.Ctx) url.Values {
	vals := url.Values{}
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		vals.Add(string(k), string(v))
	})
	return vals
}

// cacheResolver adapts schema.Cache to sqlbuild.FKResolver for one request's
// fixed schema.
type cacheResolver struct {
	cache  *schema.Cache
	schema string
}

func (r *cacheResolver) ResolveFK(parentSchema, parentTable, childTable, hint string) (string, string, error) {
	return r.cache.ResolveFK(parentSchema, parentTable, childTable, hint)
}
