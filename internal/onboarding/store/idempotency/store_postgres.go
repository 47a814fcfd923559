package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
	txcontext "onboarding-gateway/pkg/platform/tx"
)

// PostgresStore persists idempotency entries in PostgreSQL. It is the
// default store: running inside the same transaction as the record store
// makes the claim and the pending record atomic.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// JoinsTx reports that writes join a context-carried transaction, letting
// the orchestrator complete entries atomically with the decision.
func (s *PostgresStore) JoinsTx() bool { return true }

func (s *PostgresStore) TryBegin(ctx context.Context, requestID id.RequestID, fingerprint string, now time.Time) (*models.BeginResult, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	// ON CONFLICT DO NOTHING makes the insert race-safe; losers fall
	// through to the locked read of the winner's row.
	result, err := exec.ExecContext(ctx, `
		INSERT INTO idempotency_entries (request_id, fingerprint, state, created_at, updated_at)
		VALUES ($1, $2, 'in_progress', $3, $3)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID.String(), fingerprint, now)
	if err != nil {
		return nil, fmt.Errorf("insert idempotency entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert idempotency entry: %w", err)
	}
	if affected == 1 {
		return &models.BeginResult{
			Outcome: models.BeginInserted,
			Entry: &models.IdempotencyEntry{
				RequestID:   requestID,
				Fingerprint: fingerprint,
				State:       models.IdempotencyInProgress,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		}, nil
	}

	row := exec.QueryRowContext(ctx, `
		SELECT request_id, fingerprint, state, result_payload, result_status_code, created_at, updated_at
		FROM idempotency_entries
		WHERE request_id = $1
		FOR UPDATE
	`, requestID.String())
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("find idempotency entry: %w", err)
	}

	if entry.Fingerprint != fingerprint {
		return &models.BeginResult{Outcome: models.BeginConflict, Entry: entry}, nil
	}

	switch entry.State {
	case models.IdempotencyCompleted:
		return &models.BeginResult{Outcome: models.BeginAlreadyCompleted, Entry: entry}, nil
	case models.IdempotencyInProgress:
		return &models.BeginResult{Outcome: models.BeginAlreadyInProgress, Entry: entry}, nil
	}

	// Failed entry with a matching fingerprint: reclaim it for this
	// attempt. The row is locked, so only one caller gets here.
	_, err = exec.ExecContext(ctx, `
		UPDATE idempotency_entries
		SET state = 'in_progress', result_payload = NULL, result_status_code = 0, updated_at = $2
		WHERE request_id = $1
	`, requestID.String(), now)
	if err != nil {
		return nil, fmt.Errorf("reclaim idempotency entry: %w", err)
	}
	entry.State = models.IdempotencyInProgress
	entry.ResultPayload = nil
	entry.ResultStatusCode = 0
	entry.UpdatedAt = now
	return &models.BeginResult{Outcome: models.BeginInserted, Entry: entry}, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, requestID id.RequestID, state models.IdempotencyState, payload []byte, statusCode int, now time.Time) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	result, err := exec.ExecContext(ctx, `
		UPDATE idempotency_entries
		SET state = $2, result_payload = $3, result_status_code = $4, updated_at = $5
		WHERE request_id = $1 AND state = 'in_progress'
	`, requestID.String(), string(state), payload, statusCode, now)
	if err != nil {
		return fmt.Errorf("finalize idempotency entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize idempotency entry: %w", err)
	}
	if affected == 0 {
		if _, findErr := s.Find(ctx, requestID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, requestID id.RequestID) (*models.IdempotencyEntry, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	row := exec.QueryRowContext(ctx, `
		SELECT request_id, fingerprint, state, result_payload, result_status_code, created_at, updated_at
		FROM idempotency_entries
		WHERE request_id = $1
	`, requestID.String())
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find idempotency entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	result, err := exec.ExecContext(ctx, `
		UPDATE idempotency_entries
		SET state = 'failed', updated_at = $1
		WHERE state = 'in_progress' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale idempotency entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap stale idempotency entries: %w", err)
	}
	return int(affected), nil
}

func scanEntry(row *sql.Row) (*models.IdempotencyEntry, error) {
	var (
		entry      models.IdempotencyEntry
		requestID  string
		state      string
		payload    []byte
		statusCode sql.NullInt64
	)
	err := row.Scan(&requestID, &entry.Fingerprint, &state, &payload, &statusCode, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.RequestID = id.RequestID(requestID)
	entry.State = models.IdempotencyState(state)
	entry.ResultPayload = payload
	if statusCode.Valid {
		entry.ResultStatusCode = int(statusCode.Int64)
	}
	return &entry, nil
}
