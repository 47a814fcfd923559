package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "onboarding-gateway/pkg/domain"
	dErrors "onboarding-gateway/pkg/domain-errors"
)

func validRequest(t *testing.T) *CreateRequest {
	t.Helper()
	reqID, err := id.ParseRequestID("req-abc-123")
	require.NoError(t, err)
	custID, err := id.ParseCustomerID("cust-42")
	require.NoError(t, err)
	return &CreateRequest{
		RequestID:   reqID,
		CustomerID:  custID,
		FullName:    "Asha Nair",
		Email:       "Asha.Nair@example.com",
		Mobile:      "+91-9999000011",
		TaxID:       "ABCDE1234F",
		DateOfBirth: "1991-04-12",
		AddressLine: "14 Lake View Road",
		City:        "Pune",
		State:       "MH",
		PostalCode:  "411001",
	}
}

func TestDecide_Totality(t *testing.T) {
	identities := []IdentityStatus{IdentityPending, IdentityPassed, IdentityFailed}
	residences := []ResidenceStatus{ResidencePending, ResidenceVerified, ResidenceFailed}

	for _, iv := range identities {
		for _, rv := range residences {
			got := Decide(iv, rv)
			require.Contains(t, []OverallStatus{OverallCreated, OverallFailed}, got,
				"decision must be terminal for identity=%s residence=%s", iv, rv)
			if iv == IdentityPassed && rv == ResidenceVerified {
				assert.Equal(t, OverallCreated, got)
			} else {
				assert.Equal(t, OverallFailed, got)
			}
		}
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		require.NoError(t, validRequest(t).Validate())
	})

	t.Run("missing request id", func(t *testing.T) {
		req := validRequest(t)
		req.RequestID = ""
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("missing customer id", func(t *testing.T) {
		req := validRequest(t)
		req.CustomerID = ""
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("blank required field", func(t *testing.T) {
		req := validRequest(t)
		req.TaxID = "   "
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("state is optional", func(t *testing.T) {
		req := validRequest(t)
		req.State = ""
		require.NoError(t, req.Validate())
	})
}

func TestCreateRequest_Fingerprint(t *testing.T) {
	t.Run("stable across cosmetic differences", func(t *testing.T) {
		a := validRequest(t)
		b := validRequest(t)
		b.Email = "  ASHA.NAIR@EXAMPLE.COM "
		b.FullName = " Asha Nair "
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("differs when payload differs", func(t *testing.T) {
		a := validRequest(t)
		b := validRequest(t)
		b.TaxID = "ZZZZZ9999Z"
		assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("request id does not affect the fingerprint", func(t *testing.T) {
		a := validRequest(t)
		b := validRequest(t)
		b.RequestID = "req-other-456"
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestCreateRequest_AddressHash(t *testing.T) {
	a := validRequest(t)
	b := validRequest(t)
	b.AddressLine = " 14 LAKE VIEW ROAD "
	assert.Equal(t, a.AddressHash(), b.AddressHash())

	b.PostalCode = "411002"
	assert.NotEqual(t, a.AddressHash(), b.AddressHash())

	// The hash must not leak the raw address.
	assert.NotContains(t, a.AddressHash(), "Lake")
}

func TestNewPendingRecord(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	t.Run("builds a pending record", func(t *testing.T) {
		req := validRequest(t)
		record, err := NewPendingRecord(id.NewReferenceID(), req, now)
		require.NoError(t, err)
		assert.Equal(t, req.RequestID, record.RequestID)
		assert.Equal(t, req.CustomerID, record.CustomerID)
		assert.Equal(t, IdentityPending, record.IdentityStatus)
		assert.Equal(t, ResidencePending, record.ResidenceStatus)
		assert.Equal(t, OverallPending, record.OverallStatus)
		assert.False(t, record.IsTerminal())
	})

	t.Run("rejects nil reference id", func(t *testing.T) {
		_, err := NewPendingRecord(id.ReferenceID{}, validRequest(t), now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects invalid request", func(t *testing.T) {
		req := validRequest(t)
		req.Email = ""
		_, err := NewPendingRecord(id.NewReferenceID(), req, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestOnboardingRecord_Finalization(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	later := now.Add(2 * time.Second)

	newPending := func(t *testing.T) *OnboardingRecord {
		record, err := NewPendingRecord(id.NewReferenceID(), validRequest(t), now)
		require.NoError(t, err)
		return record
	}

	t.Run("applies outcome and decision", func(t *testing.T) {
		record := newPending(t)
		require.NoError(t, record.CanFinalize())
		record.ApplyFinalization(VerificationOutcome{
			IdentityStatus:     IdentityPassed,
			IdentityReference:  "idv-1",
			RiskScore:          0.12,
			ResidenceStatus:    ResidenceVerified,
			ResidenceReference: "res-1",
			Confidence:         0.93,
		}, later)

		assert.Equal(t, OverallCreated, record.OverallStatus)
		assert.True(t, record.IsTerminal())
		assert.Equal(t, later, record.UpdatedAt)
		assert.Equal(t, now, record.CreatedAt)
	})

	t.Run("any non-passing combination fails", func(t *testing.T) {
		record := newPending(t)
		record.ApplyFinalization(VerificationOutcome{
			IdentityStatus:  IdentityPassed,
			ResidenceStatus: ResidenceFailed,
		}, later)
		assert.Equal(t, OverallFailed, record.OverallStatus)
	})

	t.Run("terminal record cannot be finalized again", func(t *testing.T) {
		record := newPending(t)
		record.ApplyFinalization(VerificationOutcome{
			IdentityStatus:  IdentityFailed,
			ResidenceStatus: ResidencePending,
		}, later)
		err := record.CanFinalize()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestCreateResult_HTTPStatus(t *testing.T) {
	created := &CreateResult{OverallStatus: OverallCreated}
	assert.Equal(t, 201, created.HTTPStatus())

	failed := &CreateResult{OverallStatus: OverallFailed}
	assert.Equal(t, 422, failed.HTTPStatus())
}
