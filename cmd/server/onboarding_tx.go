package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "onboarding-gateway/pkg/domain-errors"
	"onboarding-gateway/pkg/platform/tx"
)

const defaultOnboardingTxTimeout = 5 * time.Second

// onboardingPostgresTx runs a unit of work in one SQL transaction. The
// transaction travels through context so the record, idempotency, and
// audit stores all join it.
type onboardingPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newOnboardingPostgresTx(db *sql.DB) *onboardingPostgresTx {
	return &onboardingPostgresTx{db: db}
}

func (t *onboardingPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultOnboardingTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}
