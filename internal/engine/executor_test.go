package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout_ZeroTimeoutPassesContextThrough(t *testing.T) {
	e := &TxExecutor{timeout: 0}
	parent := context.Background()
	ctx, cancel := e.withTimeout(parent)
	defer cancel()
	assert.Equal(t, parent, ctx)
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)
}

func TestWithTimeout_PositiveTimeoutSetsDeadline(t *testing.T) {
	e := &TxExecutor{timeout: 30 * time.Second}
	ctx, cancel := e.withTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, 2*time.Second)
}

func TestWithTimeout_NegativeTimeoutPassesContextThrough(t *testing.T) {
	e := &TxExecutor{timeout: -1}
	parent := context.Background()
	ctx, cancel := e.withTimeout(parent)
	defer cancel()
	assert.Equal(t, parent, ctx)
}

func TestNewPool_DefaultsStatementTimeoutWhenUnset(t *testing.T) {
	p := NewPool(nil, 0)
	assert.Equal(t, 30*time.Second, p.statementTimeout)
}

func TestNewPool_KeepsExplicitStatementTimeout(t *testing.T) {
	p := NewPool(nil, 5*time.Second)
	assert.Equal(t, 5*time.Second, p.statementTimeout)
}
