// Package engine implements C6 (Executor Adapter): the layer between a
// compiled sqlbuild.Result and a live database connection, responsible for
// cooperative statement timeouts, transaction-scoped session variable
// installation (handing off to internal/access), and passing native
// Postgres errors through untouched for C9 to map.
//
// Grounded on the teacher's internal/database/executor.go (Executor,
// AdminExecutor) and internal/database/errors.go (PgError code helpers).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxql/fluxql/internal/observability"
)

// TxExecutor adapts a pgx.Tx to access.SQLExecer and the narrower surface
// C3-compiled statements need within one request's transaction.
type TxExecutor struct {
	tx      pgx.Tx
	timeout time.Duration
}

// NewTxExecutor wraps an in-flight transaction. timeout bounds every
// statement run through it (spec §4.3's "cooperative timeout racing" —
// the statement either completes or the context is cancelled, whichever
// comes first; pgx honors context cancellation by cancelling the
// in-flight query on the wire).
func NewTxExecutor(tx pgx.Tx, timeout time.Duration) *TxExecutor {
	return &TxExecutor{tx: tx, timeout: timeout}
}

func (e *TxExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Exec satisfies access.SQLExecer: fire-and-forget, error passed through
// unwrapped so C9 can type-assert *pgconn.PgError directly.
func (e *TxExecutor) Exec(ctx context.Context, sql string, args ...interface{}) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	_, err := e.tx.Exec(ctx, sql, args...)
	return err
}

// Query runs a row-returning statement compiled by internal/sqlbuild,
// wrapped in the teacher's db span convention (observability.StartDBSpan).
func (e *TxExecutor) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	spanCtx, span := observability.StartDBSpan(ctx, "query", "")
	rows, err := e.tx.Query(spanCtx, sql, args...)
	observability.EndDBSpan(span, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row.
func (e *TxExecutor) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.tx.QueryRow(ctx, sql, args...)
}

// ExecWritten runs an INSERT/UPDATE/DELETE, returning the affected row
// count alongside any native error.
func (e *TxExecutor) ExecWritten(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	spanCtx, span := observability.StartDBSpan(ctx, "exec", "")
	tag, err := e.tx.Exec(spanCtx, sql, args...)
	observability.EndDBSpan(span, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Commit/Rollback delegate to the wrapped transaction; callers use these
// instead of reaching into the tx directly so degraded-session bookkeeping
// stays in one place.
func (e *TxExecutor) Commit(ctx context.Context) error   { return e.tx.Commit(ctx) }
func (e *TxExecutor) Rollback(ctx context.Context) error { return e.tx.Rollback(ctx) }

// Pool wraps a *pgxpool.Pool and begins the per-request transactions that
// TxExecutor wraps. Grounded on the teacher's database.Connection.
type Pool struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// NewPool constructs a Pool, defaulting statementTimeout when unset.
func NewPool(pool *pgxpool.Pool, statementTimeout time.Duration) *Pool {
	if statementTimeout <= 0 {
		statementTimeout = 30 * time.Second
	}
	return &Pool{pool: pool, statementTimeout: statementTimeout}
}

// Begin starts a new per-request transaction and wraps it for C3/C4/C5.
func (p *Pool) Begin(ctx context.Context) (*TxExecutor, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: begin transaction: %w", err)
	}
	return NewTxExecutor(tx, p.statementTimeout), nil
}

// Health pings the pool (spec's ambient health-check requirement).
func (p *Pool) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Raw exposes the underlying pool for schema introspection and metrics
// collectors that need direct access.
func (p *Pool) Raw() *pgxpool.Pool { return p.pool }
