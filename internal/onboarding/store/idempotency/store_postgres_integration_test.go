//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding-gateway/internal/onboarding/models"
	"onboarding-gateway/internal/onboarding/store/idempotency"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
	"onboarding-gateway/pkg/testutil/containers"
)

type PostgresIdempotencySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *idempotency.PostgresStore
}

func TestPostgresIdempotencySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresIdempotencySuite))
}

func (s *PostgresIdempotencySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = idempotency.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresIdempotencySuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "idempotency_entries")
	s.Require().NoError(err)
}

func (s *PostgresIdempotencySuite) TestTryBeginSingleWinner() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	const goroutines = 20

	var wg sync.WaitGroup
	var inserted atomic.Int32
	var inProgress atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.TryBegin(ctx, "req-race", "fp-1", now)
			if err != nil {
				return
			}
			switch result.Outcome {
			case models.BeginInserted:
				inserted.Add(1)
			case models.BeginAlreadyInProgress:
				inProgress.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), inserted.Load(), "exactly one concurrent caller claims the request id")
	s.Equal(int32(goroutines-1), inProgress.Load())
}

func (s *PostgresIdempotencySuite) TestCompletedReplay() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	reqID := id.RequestID("req-1")

	result, err := s.store.TryBegin(ctx, reqID, "fp-1", now)
	s.Require().NoError(err)
	s.Equal(models.BeginInserted, result.Outcome)

	payload := []byte(`{"reference_id":"abc"}`)
	s.Require().NoError(s.store.Finalize(ctx, reqID, models.IdempotencyCompleted, payload, 201, now))

	replay, err := s.store.TryBegin(ctx, reqID, "fp-1", now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(models.BeginAlreadyCompleted, replay.Outcome)
	s.Equal(payload, replay.Entry.ResultPayload)
	s.Equal(201, replay.Entry.ResultStatusCode)
}

func (s *PostgresIdempotencySuite) TestFingerprintConflict() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.store.TryBegin(ctx, "req-1", "fp-1", now)
	s.Require().NoError(err)

	result, err := s.store.TryBegin(ctx, "req-1", "fp-other", now)
	s.Require().NoError(err)
	s.Equal(models.BeginConflict, result.Outcome)
}

func (s *PostgresIdempotencySuite) TestFailedEntryReclaim() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	reqID := id.RequestID("req-1")

	_, err := s.store.TryBegin(ctx, reqID, "fp-1", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Finalize(ctx, reqID, models.IdempotencyFailed, nil, 0, now))

	result, err := s.store.TryBegin(ctx, reqID, "fp-1", now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(models.BeginInserted, result.Outcome)
	s.Equal(models.IdempotencyInProgress, result.Entry.State)
}

func (s *PostgresIdempotencySuite) TestFinalizeGuards() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := s.store.Finalize(ctx, "req-missing", models.IdempotencyCompleted, nil, 201, now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.TryBegin(ctx, "req-1", "fp-1", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Finalize(ctx, "req-1", models.IdempotencyCompleted, []byte("{}"), 201, now))

	err = s.store.Finalize(ctx, "req-1", models.IdempotencyFailed, nil, 0, now)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresIdempotencySuite) TestReapStale() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.store.TryBegin(ctx, "req-old", "fp-1", now.Add(-time.Hour))
	s.Require().NoError(err)
	_, err = s.store.TryBegin(ctx, "req-fresh", "fp-1", now)
	s.Require().NoError(err)

	reaped, err := s.store.ReapStale(ctx, now.Add(-15*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, reaped)

	entry, err := s.store.Find(ctx, "req-old")
	s.Require().NoError(err)
	s.Equal(models.IdempotencyFailed, entry.State)

	entry, err = s.store.Find(ctx, "req-fresh")
	s.Require().NoError(err)
	s.Equal(models.IdempotencyInProgress, entry.State)
}
