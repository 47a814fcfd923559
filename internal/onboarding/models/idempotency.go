package models

import (
	"time"

	id "onboarding-gateway/pkg/domain"
)

// IdempotencyState is the lifecycle of one idempotency entry. Entries
// transition in_progress → completed or in_progress → failed exactly once.
type IdempotencyState string

const (
	// IdempotencyInProgress marks an orchestration that has begun but not
	// reached a terminal business decision.
	IdempotencyInProgress IdempotencyState = "in_progress"

	// IdempotencyCompleted marks a definitive answer (success or business
	// rejection) cached with its payload; replays return it verbatim.
	IdempotencyCompleted IdempotencyState = "completed"

	// IdempotencyFailed marks an aborted attempt with no cached payload;
	// a resubmission with the same request id re-executes in full.
	IdempotencyFailed IdempotencyState = "failed"
)

// IdempotencyEntry is one row of the idempotency store.
type IdempotencyEntry struct {
	RequestID        id.RequestID
	Fingerprint      string
	State            IdempotencyState
	ResultPayload    []byte
	ResultStatusCode int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BeginOutcome classifies the result of an atomic TryBegin.
type BeginOutcome string

const (
	// BeginInserted means this caller owns the attempt and must proceed.
	BeginInserted BeginOutcome = "inserted"

	// BeginAlreadyInProgress means an identical request is currently
	// executing; the caller should retry after backoff.
	BeginAlreadyInProgress BeginOutcome = "already_in_progress"

	// BeginAlreadyCompleted means a definitive answer exists; the entry
	// carries the stored payload.
	BeginAlreadyCompleted BeginOutcome = "already_completed"

	// BeginConflict means the request id was reused with a different
	// payload fingerprint.
	BeginConflict BeginOutcome = "conflict"
)

// BeginResult is the outcome of TryBegin plus the current entry when one
// exists.
type BeginResult struct {
	Outcome BeginOutcome
	Entry   *IdempotencyEntry
}
