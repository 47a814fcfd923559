// Package verification defines the shared vocabulary for external
// verification calls: every call maps to exactly one tagged outcome, so
// retry decisions are pure data inspection rather than error-type matching.
package verification

// Outcome classifies the result of one outbound verification call.
type Outcome string

const (
	// OutcomeSuccess is a definitive positive business result.
	OutcomeSuccess Outcome = "success"

	// OutcomeRejected is a definitive negative business result (explicit
	// verification failure or 4xx-equivalent). Never retried: repeating a
	// deterministic rejection cannot change the answer.
	OutcomeRejected Outcome = "rejected"

	// OutcomeTransient is a retryable failure: timeout, connection error,
	// or 5xx-equivalent.
	OutcomeTransient Outcome = "transient"
)

// Classified is implemented by verifier results so the resilience wrapper
// can make retry decisions without knowing the concrete result type.
type Classified interface {
	Class() Outcome
}
