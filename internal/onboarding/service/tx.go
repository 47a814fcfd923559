package service

import (
	"context"
	"sync"
	"time"

	dErrors "onboarding-gateway/pkg/domain-errors"
)

// Tx provides the transactional boundary for a unit of work spanning the
// idempotency and record stores. The function runs with a context that
// carries the transaction; SQL-backed stores join it automatically.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// defaultTxTimeout bounds a unit of work when the caller sets no deadline.
const defaultTxTimeout = 5 * time.Second

// MemoryTx serializes units of work with a single mutex. It pairs with the
// in-memory stores, whose individual operations are already atomic; the
// lock keeps multi-step units from interleaving in tests and local runs.
type MemoryTx struct {
	mu      sync.Mutex
	timeout time.Duration
}

func NewMemoryTx() *MemoryTx {
	return &MemoryTx{}
}

func (t *MemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
