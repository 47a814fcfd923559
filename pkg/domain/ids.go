// Package domain holds validated domain primitives shared across contexts.
//
// Construct values via the Parse helpers at trust boundaries; direct casting
// bypasses validation.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "onboarding-gateway/pkg/domain-errors"
)

// ReferenceID identifies one onboarding record. System generated, unique.
type ReferenceID uuid.UUID

// NewReferenceID returns a fresh random reference ID.
func NewReferenceID() ReferenceID {
	return ReferenceID(uuid.New())
}

// ParseReferenceID constructs a ReferenceID from external input.
func ParseReferenceID(s string) (ReferenceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ReferenceID{}, dErrors.New(dErrors.CodeValidation, "reference id must be a UUID")
	}
	return ReferenceID(u), nil
}

func (r ReferenceID) String() string { return uuid.UUID(r).String() }

func (r ReferenceID) IsNil() bool { return uuid.UUID(r) == uuid.Nil }

// maxTokenLength bounds caller-supplied identifiers so they stay indexable.
const maxTokenLength = 128

// RequestID is the caller-supplied idempotency token for one logical
// onboarding attempt. Resubmissions with the same RequestID deduplicate
// against each other.
type RequestID string

// ParseRequestID validates a caller-supplied request token.
func ParseRequestID(s string) (RequestID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "request id is required")
	}
	if len(s) > maxTokenLength {
		return "", dErrors.New(dErrors.CodeValidation, "request id must be 128 characters or less")
	}
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return "", dErrors.New(dErrors.CodeValidation, "request id must be printable ASCII without spaces")
		}
	}
	return RequestID(s), nil
}

func (r RequestID) String() string { return string(r) }

func (r RequestID) IsNil() bool { return r == "" }

// CustomerID is the caller-supplied customer identifier, unique among
// active onboarding records.
type CustomerID string

// ParseCustomerID validates a caller-supplied customer identifier.
func ParseCustomerID(s string) (CustomerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "customer id is required")
	}
	if len(s) > maxTokenLength {
		return "", dErrors.New(dErrors.CodeValidation, "customer id must be 128 characters or less")
	}
	return CustomerID(s), nil
}

func (c CustomerID) String() string { return string(c) }

func (c CustomerID) IsNil() bool { return c == "" }
