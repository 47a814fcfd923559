package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	id "onboarding-gateway/pkg/domain"
	dErrors "onboarding-gateway/pkg/domain-errors"
)

// CreateRequest is the validated inbound payload for one onboarding
// attempt. Field-level syntax (PAN/email/mobile formats) is the API layer's
// concern; the orchestrator only requires presence.
type CreateRequest struct {
	RequestID  id.RequestID  `json:"request_id"`
	CustomerID id.CustomerID `json:"customer_id"`

	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile"`
	TaxID       string `json:"tax_id"`
	DateOfBirth string `json:"date_of_birth"`

	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
}

// Validate enforces presence of the fields the orchestrator depends on.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "request id is required")
	}
	if r.CustomerID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "customer id is required")
	}
	for field, value := range map[string]string{
		"full_name":     r.FullName,
		"email":         r.Email,
		"mobile":        r.Mobile,
		"tax_id":        r.TaxID,
		"date_of_birth": r.DateOfBirth,
		"address_line":  r.AddressLine,
		"city":          r.City,
		"postal_code":   r.PostalCode,
	} {
		if strings.TrimSpace(value) == "" {
			return dErrors.Newf(dErrors.CodeValidation, "%s is required", field)
		}
	}
	return nil
}

// Fingerprint hashes the normalized request body. A resubmission with the
// same request id must carry the same fingerprint or it is rejected as a
// conflict, never silently merged.
//
// Normalization: fields are trimmed, email lowercased, and joined in a
// fixed order, so cosmetic whitespace differences do not change identity.
func (r *CreateRequest) Fingerprint() string {
	parts := []string{
		r.CustomerID.String(),
		strings.TrimSpace(r.FullName),
		strings.ToLower(strings.TrimSpace(r.Email)),
		strings.TrimSpace(r.Mobile),
		strings.TrimSpace(r.TaxID),
		strings.TrimSpace(r.DateOfBirth),
		strings.TrimSpace(r.AddressLine),
		strings.TrimSpace(r.City),
		strings.TrimSpace(r.State),
		strings.TrimSpace(r.PostalCode),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// AddressHash is the opaque address digest sent to the residence partner
// instead of raw address lines.
func (r *CreateRequest) AddressHash() string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(r.AddressLine)),
		strings.ToLower(strings.TrimSpace(r.City)),
		strings.ToLower(strings.TrimSpace(r.State)),
		strings.TrimSpace(r.PostalCode),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// CreateResult is the finalized response for one onboarding attempt. Its
// JSON encoding is stored in the idempotency entry, so replays return the
// identical payload forever.
type CreateResult struct {
	ReferenceID        string          `json:"reference_id"`
	CustomerID         string          `json:"customer_id"`
	IdentityStatus     IdentityStatus  `json:"identity_status"`
	ResidenceStatus    ResidenceStatus `json:"residence_status"`
	OverallStatus      OverallStatus   `json:"overall_status"`
	IdentityReference  string          `json:"identity_reference,omitempty"`
	ResidenceReference string          `json:"residence_reference,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`

	// Replayed marks an idempotent replay; transport surfaces it as a
	// header rather than in the stored payload.
	Replayed bool `json:"-"`
}

// ResultFromRecord projects a finalized record onto the response shape.
func ResultFromRecord(record *OnboardingRecord) *CreateResult {
	return &CreateResult{
		ReferenceID:        record.ReferenceID.String(),
		CustomerID:         record.CustomerID.String(),
		IdentityStatus:     record.IdentityStatus,
		ResidenceStatus:    record.ResidenceStatus,
		OverallStatus:      record.OverallStatus,
		IdentityReference:  record.IdentityReference,
		ResidenceReference: record.ResidenceReference,
		CreatedAt:          record.CreatedAt,
	}
}

// HTTPStatus maps the decision to its HTTP-equivalent status code, stored
// alongside the payload for faithful replays.
func (r *CreateResult) HTTPStatus() int {
	if r.OverallStatus == OverallCreated {
		return http.StatusCreated
	}
	return http.StatusUnprocessableEntity
}
