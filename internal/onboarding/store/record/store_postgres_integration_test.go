//go:build integration

package record_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding-gateway/internal/onboarding/models"
	"onboarding-gateway/internal/onboarding/store/record"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
	"onboarding-gateway/pkg/testutil/containers"
)

type PostgresRecordSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *record.PostgresStore
}

func TestPostgresRecordSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRecordSuite))
}

func (s *PostgresRecordSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = record.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresRecordSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "onboarding_records")
	s.Require().NoError(err)
}

func (s *PostgresRecordSuite) newPending(requestID, customerID string) *models.OnboardingRecord {
	reqID, err := id.ParseRequestID(requestID)
	s.Require().NoError(err)
	custID, err := id.ParseCustomerID(customerID)
	s.Require().NoError(err)
	rec, err := models.NewPendingRecord(id.NewReferenceID(), &models.CreateRequest{
		RequestID:   reqID,
		CustomerID:  custID,
		FullName:    "Asha Nair",
		Email:       "asha@example.com",
		Mobile:      "+91-9999000011",
		TaxID:       "ABCDE1234F",
		DateOfBirth: "1991-04-12",
		AddressLine: "14 Lake View Road",
		City:        "Pune",
		State:       "MH",
		PostalCode:  "411001",
	}, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return rec
}

func (s *PostgresRecordSuite) TestCreatePendingAndFind() {
	ctx := context.Background()
	rec := s.newPending("req-1", "cust-1")

	created, err := s.store.CreatePending(ctx, rec)
	s.Require().NoError(err)
	s.Equal(rec.ReferenceID, created.ReferenceID)

	found, err := s.store.FindByReference(ctx, rec.ReferenceID)
	s.Require().NoError(err)
	s.Equal(models.OverallPending, found.OverallStatus)
	s.Equal(rec.CustomerID, found.CustomerID)
}

func (s *PostgresRecordSuite) TestCreatePendingAdoptsExistingRow() {
	ctx := context.Background()
	first := s.newPending("req-1", "cust-1")
	_, err := s.store.CreatePending(ctx, first)
	s.Require().NoError(err)

	retry := s.newPending("req-1", "cust-1")
	adopted, err := s.store.CreatePending(ctx, retry)
	s.Require().NoError(err)
	s.Equal(first.ReferenceID, adopted.ReferenceID)
}

func (s *PostgresRecordSuite) TestActiveCustomerUniqueness() {
	ctx := context.Background()
	_, err := s.store.CreatePending(ctx, s.newPending("req-1", "cust-1"))
	s.Require().NoError(err)

	_, err = s.store.CreatePending(ctx, s.newPending("req-2", "cust-1"))
	s.ErrorIs(err, sentinel.ErrConflict)

	// A different customer is unaffected.
	_, err = s.store.CreatePending(ctx, s.newPending("req-3", "cust-2"))
	s.Require().NoError(err)
}

func (s *PostgresRecordSuite) TestFailedRecordFreesCustomer() {
	ctx := context.Background()
	first := s.newPending("req-1", "cust-1")
	_, err := s.store.CreatePending(ctx, first)
	s.Require().NoError(err)

	first.ApplyFinalization(models.VerificationOutcome{
		IdentityStatus:  models.IdentityFailed,
		ResidenceStatus: models.ResidencePending,
	}, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Finalize(ctx, first))

	_, err = s.store.CreatePending(ctx, s.newPending("req-2", "cust-1"))
	s.Require().NoError(err)
}

func (s *PostgresRecordSuite) TestFinalizeIsSingleShot() {
	ctx := context.Background()
	rec := s.newPending("req-1", "cust-1")
	_, err := s.store.CreatePending(ctx, rec)
	s.Require().NoError(err)

	rec.ApplyFinalization(models.VerificationOutcome{
		IdentityStatus:     models.IdentityPassed,
		IdentityReference:  "idv-1",
		RiskScore:          0.2,
		ResidenceStatus:    models.ResidenceVerified,
		ResidenceReference: "res-1",
		Confidence:         0.9,
	}, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Finalize(ctx, rec))

	found, err := s.store.FindByReference(ctx, rec.ReferenceID)
	s.Require().NoError(err)
	s.Equal(models.OverallCreated, found.OverallStatus)
	s.Equal("idv-1", found.IdentityReference)

	s.ErrorIs(s.store.Finalize(ctx, rec), sentinel.ErrInvalidState)
}

func (s *PostgresRecordSuite) TestFindByReferenceNotFound() {
	_, err := s.store.FindByReference(context.Background(), id.NewReferenceID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
