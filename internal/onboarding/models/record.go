package models

import (
	"time"

	id "onboarding-gateway/pkg/domain"
	dErrors "onboarding-gateway/pkg/domain-errors"
)

// IdentityStatus is the identity verification sub-status.
type IdentityStatus string

const (
	IdentityPending IdentityStatus = "pending"
	IdentityPassed  IdentityStatus = "passed"
	IdentityFailed  IdentityStatus = "failed"
)

// ResidenceStatus is the residence verification sub-status.
type ResidenceStatus string

const (
	ResidencePending  ResidenceStatus = "pending"
	ResidenceVerified ResidenceStatus = "verified"
	ResidenceFailed   ResidenceStatus = "failed"
)

// OverallStatus is the onboarding decision. Pending means no decision has
// been persisted yet; Created and Failed are terminal.
type OverallStatus string

const (
	OverallPending OverallStatus = "pending"
	OverallCreated OverallStatus = "created"
	OverallFailed  OverallStatus = "failed"
)

// Decide applies the onboarding decision rule. The rule is total and
// deterministic: Created iff identity passed and residence verified; every
// other combination fails.
func Decide(identity IdentityStatus, residence ResidenceStatus) OverallStatus {
	if identity == IdentityPassed && residence == ResidenceVerified {
		return OverallCreated
	}
	return OverallFailed
}

// OnboardingRecord is the aggregate for one logical customer-creation
// attempt.
//
// Invariants:
//   - OverallStatus is Created iff IdentityStatus is passed AND
//     ResidenceStatus is verified; any other combination yields Failed
//   - Once OverallStatus is terminal the record is immutable
//   - CustomerID is unique among records that are not Failed
//   - RequestID ties the record to its idempotency entry; one record per
//     logical attempt
//
// Records are created pending inside the same transaction as the
// idempotency begin, mutated exactly once when both verification outcomes
// are known, and never deleted.
type OnboardingRecord struct {
	ReferenceID id.ReferenceID `json:"reference_id"`
	RequestID   id.RequestID   `json:"request_id"`
	CustomerID  id.CustomerID  `json:"customer_id"`

	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile"`
	TaxID       string `json:"tax_id"`
	DateOfBirth string `json:"date_of_birth"`

	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`

	IdentityStatus  IdentityStatus  `json:"identity_status"`
	ResidenceStatus ResidenceStatus `json:"residence_status"`
	OverallStatus   OverallStatus   `json:"overall_status"`

	IdentityReference  string  `json:"identity_reference,omitempty"`
	ResidenceReference string  `json:"residence_reference,omitempty"`
	RiskScore          float64 `json:"risk_score,omitempty"`
	Confidence         float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPendingRecord builds the initial record for a creation request.
func NewPendingRecord(referenceID id.ReferenceID, req *CreateRequest, now time.Time) (*OnboardingRecord, error) {
	if referenceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reference id is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &OnboardingRecord{
		ReferenceID:     referenceID,
		RequestID:       req.RequestID,
		CustomerID:      req.CustomerID,
		FullName:        req.FullName,
		Email:           req.Email,
		Mobile:          req.Mobile,
		TaxID:           req.TaxID,
		DateOfBirth:     req.DateOfBirth,
		AddressLine:     req.AddressLine,
		City:            req.City,
		State:           req.State,
		PostalCode:      req.PostalCode,
		IdentityStatus:  IdentityPending,
		ResidenceStatus: ResidencePending,
		OverallStatus:   OverallPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsTerminal reports whether the onboarding decision has been persisted.
func (r *OnboardingRecord) IsTerminal() bool {
	return r.OverallStatus == OverallCreated || r.OverallStatus == OverallFailed
}

// VerificationOutcome captures both sub-results handed to finalization.
type VerificationOutcome struct {
	IdentityStatus     IdentityStatus
	IdentityReference  string
	RiskScore          float64
	ResidenceStatus    ResidenceStatus
	ResidenceReference string
	Confidence         float64
}

// CanFinalize checks the single-mutation invariant.
// Use with ApplyFinalization; stores enforce the same guard with a
// conditional UPDATE.
func (r *OnboardingRecord) CanFinalize() error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "onboarding record is already finalized")
	}
	return nil
}

// ApplyFinalization records both verification outcomes and the decision.
// Call CanFinalize first.
func (r *OnboardingRecord) ApplyFinalization(outcome VerificationOutcome, now time.Time) {
	r.IdentityStatus = outcome.IdentityStatus
	r.IdentityReference = outcome.IdentityReference
	r.RiskScore = outcome.RiskScore
	r.ResidenceStatus = outcome.ResidenceStatus
	r.ResidenceReference = outcome.ResidenceReference
	r.Confidence = outcome.Confidence
	r.OverallStatus = Decide(outcome.IdentityStatus, outcome.ResidenceStatus)
	r.UpdatedAt = now
}
