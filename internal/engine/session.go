package engine

import (
	"context"

	"github.com/fluxql/fluxql/internal/access"
)

// BeginWithSession starts a transaction and installs the session context on
// it in one step (spec §4.3: install happens "at the beginning of each
// database transaction", grounded on the teacher's WrapWithRLS). The
// returned access.InstallResult tells the caller whether C5's fallback
// filter needs to run.
func BeginWithSession(ctx context.Context, pool *Pool, sess access.SessionContext) (*TxExecutor, access.InstallResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, access.InstallResult{}, err
	}
	res := access.Install(ctx, tx, sess)
	return tx, res, nil
}
