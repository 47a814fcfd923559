// Package audit captures the onboarding decision trail. Events are written
// to a transactional outbox in the same unit of work as the business write,
// then relayed to Kafka; the outbox is the source of truth until publication.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Action names one auditable onboarding lifecycle transition.
type Action string

const (
	// EventOnboardingCreated records a successful customer creation.
	EventOnboardingCreated Action = "onboarding_created"

	// EventOnboardingFailed records a definitive business rejection.
	EventOnboardingFailed Action = "onboarding_failed"

	// EventOnboardingReaped records an abandoned claim released by the
	// reaper.
	EventOnboardingReaped Action = "onboarding_reaped"
)

// Event is one audit trail entry. It carries no raw personal data: the tax
// id appears only as a hash, and addresses are omitted entirely.
type Event struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`

	ReferenceID string `json:"reference_id,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`

	Decision        string `json:"decision,omitempty"`
	Reason          string `json:"reason,omitempty"`
	IdentityStatus  string `json:"identity_status,omitempty"`
	ResidenceStatus string `json:"residence_status,omitempty"`

	// TaxIDHash is the SHA-256 of the tax id, kept for compliance
	// traceability without storing the raw identifier.
	TaxIDHash string `json:"tax_id_hash,omitempty"`
}

// HashTaxID redacts a tax id for audit storage.
func HashTaxID(taxID string) string {
	sum := sha256.Sum256([]byte(taxID))
	return hex.EncodeToString(sum[:])
}
