package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
)

const fingerprint = "fp-1"

func TestMemoryStore_TryBegin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	reqID := id.RequestID("req-1")

	t.Run("first claim inserts", func(t *testing.T) {
		s := NewMemoryStore()
		result, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		assert.Equal(t, models.BeginInserted, result.Outcome)
		assert.Equal(t, models.IdempotencyInProgress, result.Entry.State)
	})

	t.Run("concurrent duplicate observes in progress", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)

		result, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		assert.Equal(t, models.BeginAlreadyInProgress, result.Outcome)
	})

	t.Run("completed entry replays payload", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		require.NoError(t, s.Finalize(ctx, reqID, models.IdempotencyCompleted, []byte(`{"ok":true}`), 201, now))

		result, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		assert.Equal(t, models.BeginAlreadyCompleted, result.Outcome)
		assert.JSONEq(t, `{"ok":true}`, string(result.Entry.ResultPayload))
		assert.Equal(t, 201, result.Entry.ResultStatusCode)
	})

	t.Run("fingerprint mismatch conflicts", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)

		result, err := s.TryBegin(ctx, reqID, "fp-other", now)
		require.NoError(t, err)
		assert.Equal(t, models.BeginConflict, result.Outcome)
	})

	t.Run("failed entry is reclaimed for re-execution", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		require.NoError(t, s.Finalize(ctx, reqID, models.IdempotencyFailed, nil, 0, now))

		result, err := s.TryBegin(ctx, reqID, fingerprint, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, models.BeginInserted, result.Outcome)
		assert.Equal(t, models.IdempotencyInProgress, result.Entry.State)
		assert.Nil(t, result.Entry.ResultPayload)
	})
}

func TestMemoryStore_Finalize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	reqID := id.RequestID("req-1")

	t.Run("unknown entry", func(t *testing.T) {
		s := NewMemoryStore()
		err := s.Finalize(ctx, reqID, models.IdempotencyCompleted, nil, 201, now)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("terminal entry refuses second finalize", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.TryBegin(ctx, reqID, fingerprint, now)
		require.NoError(t, err)
		require.NoError(t, s.Finalize(ctx, reqID, models.IdempotencyCompleted, []byte("{}"), 201, now))

		err = s.Finalize(ctx, reqID, models.IdempotencyFailed, nil, 0, now)
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})
}

func TestMemoryStore_ReapStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	s := NewMemoryStore()
	_, err := s.TryBegin(ctx, "req-old", fingerprint, now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = s.TryBegin(ctx, "req-fresh", fingerprint, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.TryBegin(ctx, "req-done", fingerprint, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Finalize(ctx, "req-done", models.IdempotencyCompleted, []byte("{}"), 201, now.Add(-29*time.Minute)))

	reaped, err := s.ReapStale(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	// The reaped claim is released: the same request can begin again.
	result, err := s.TryBegin(ctx, "req-old", fingerprint, now)
	require.NoError(t, err)
	assert.Equal(t, models.BeginInserted, result.Outcome)

	// Completed entries are untouched.
	entry, err := s.Find(ctx, "req-done")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyCompleted, entry.State)
}
