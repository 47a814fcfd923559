// Package store defines the persistence ports for the onboarding context.
//
// Both stores participate in the caller's transaction when one is carried in
// context, so the idempotency begin and the pending record insert commit or
// roll back together.
package store

import (
	"context"
	"time"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
)

// RecordStore persists onboarding records.
//
// Implementations return sentinel.ErrNotFound for missing records,
// sentinel.ErrConflict when the active-customer uniqueness constraint
// refuses a write, and sentinel.ErrInvalidState when a finalize guard
// fails.
type RecordStore interface {
	// CreatePending inserts the pending record for a new attempt. When a
	// non-terminal record already exists for the same request id (a retry
	// of an aborted attempt), the existing record is adopted and returned
	// instead of inserting a duplicate.
	CreatePending(ctx context.Context, record *models.OnboardingRecord) (*models.OnboardingRecord, error)

	// Finalize persists the single allowed mutation of a record. The
	// implementation guards on the record still being pending.
	Finalize(ctx context.Context, record *models.OnboardingRecord) error

	// FindByReference loads one record by its reference id.
	FindByReference(ctx context.Context, referenceID id.ReferenceID) (*models.OnboardingRecord, error)

	// FindByRequest loads one record by its request id.
	FindByRequest(ctx context.Context, requestID id.RequestID) (*models.OnboardingRecord, error)
}

// TxJoiner is implemented by stores whose writes join a context-carried SQL
// transaction. The orchestrator completes the idempotency entry inside the
// finalization transaction only for stores that report true; for all others
// the entry is completed after the transaction commits, so a decision is
// never cached before it is durable.
type TxJoiner interface {
	JoinsTx() bool
}

// IdempotencyStore persists idempotency entries keyed by request id.
//
// TryBegin is the single atomic claim operation: exactly one concurrent
// caller per request id observes BeginInserted.
type IdempotencyStore interface {
	// TryBegin atomically claims the request id for execution. Outcomes:
	//   - no entry: insert in_progress, BeginInserted
	//   - failed entry, same fingerprint: reset to in_progress, BeginInserted
	//   - in_progress entry, same fingerprint: BeginAlreadyInProgress
	//   - completed entry, same fingerprint: BeginAlreadyCompleted with payload
	//   - any entry, different fingerprint: BeginConflict
	TryBegin(ctx context.Context, requestID id.RequestID, fingerprint string, now time.Time) (*models.BeginResult, error)

	// Finalize transitions an in_progress entry to completed or failed.
	// Completed entries carry the response payload and status code for
	// replays; failed entries carry neither. A non in_progress entry
	// yields sentinel.ErrInvalidState.
	Finalize(ctx context.Context, requestID id.RequestID, state models.IdempotencyState, payload []byte, statusCode int, now time.Time) error

	// Find loads one entry by request id.
	Find(ctx context.Context, requestID id.RequestID) (*models.IdempotencyEntry, error)

	// ReapStale fails in_progress entries last touched before cutoff,
	// releasing claims abandoned by a crashed process. Returns the number
	// of entries reaped.
	ReapStale(ctx context.Context, cutoff time.Time) (int, error)
}
