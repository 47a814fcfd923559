package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "onboarding-gateway/pkg/platform/audit"
	"onboarding-gateway/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_Emit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists event and stamps timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		publisher := audit.NewPublisher(store)

		err := publisher.Emit(ctx, audit.Event{
			Action:      audit.EventOnboardingCreated,
			ReferenceID: "ref-1",
			Decision:    "created",
		})
		require.NoError(t, err)

		events := store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventOnboardingCreated, events[0].Action)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("preserves caller timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		publisher := audit.NewPublisher(store)
		ts := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

		err := publisher.Emit(ctx, audit.Event{
			Action:    audit.EventOnboardingFailed,
			Timestamp: ts,
		})
		require.NoError(t, err)
		assert.Equal(t, ts, store.Events()[0].Timestamp)
	})

	t.Run("requires an action", func(t *testing.T) {
		publisher := audit.NewPublisher(memory.NewInMemoryStore())
		err := publisher.Emit(ctx, audit.Event{})
		assert.Error(t, err)
	})

	t.Run("fails closed when the store fails", func(t *testing.T) {
		publisher := audit.NewPublisher(failingStore{})
		err := publisher.Emit(ctx, audit.Event{Action: audit.EventOnboardingCreated})
		assert.Error(t, err)
	})
}

func TestHashTaxID(t *testing.T) {
	hash := audit.HashTaxID("ABCDE1234F")
	assert.Len(t, hash, 64)
	assert.NotContains(t, hash, "ABCDE")
	assert.Equal(t, hash, audit.HashTaxID("ABCDE1234F"))
	assert.NotEqual(t, hash, audit.HashTaxID("ZZZZZ9999Z"))
}
