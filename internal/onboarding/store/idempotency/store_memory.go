package idempotency

import (
	"context"
	"sync"
	"time"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
)

// MemoryStore is an in-memory IdempotencyStore for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[id.RequestID]*models.IdempotencyEntry
}

// NewMemoryStore constructs an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[id.RequestID]*models.IdempotencyEntry)}
}

func (s *MemoryStore) TryBegin(_ context.Context, requestID id.RequestID, fingerprint string, now time.Time) (*models.BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok {
		entry = &models.IdempotencyEntry{
			RequestID:   requestID,
			Fingerprint: fingerprint,
			State:       models.IdempotencyInProgress,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.entries[requestID] = entry
		return &models.BeginResult{Outcome: models.BeginInserted, Entry: cloneEntry(entry)}, nil
	}

	if entry.Fingerprint != fingerprint {
		return &models.BeginResult{Outcome: models.BeginConflict, Entry: cloneEntry(entry)}, nil
	}

	switch entry.State {
	case models.IdempotencyCompleted:
		return &models.BeginResult{Outcome: models.BeginAlreadyCompleted, Entry: cloneEntry(entry)}, nil
	case models.IdempotencyInProgress:
		return &models.BeginResult{Outcome: models.BeginAlreadyInProgress, Entry: cloneEntry(entry)}, nil
	default:
		// A failed attempt releases its claim; the retry re-executes.
		entry.State = models.IdempotencyInProgress
		entry.ResultPayload = nil
		entry.ResultStatusCode = 0
		entry.UpdatedAt = now
		return &models.BeginResult{Outcome: models.BeginInserted, Entry: cloneEntry(entry)}, nil
	}
}

func (s *MemoryStore) Finalize(_ context.Context, requestID id.RequestID, state models.IdempotencyState, payload []byte, statusCode int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if entry.State != models.IdempotencyInProgress {
		return sentinel.ErrInvalidState
	}
	entry.State = state
	entry.ResultPayload = payload
	entry.ResultStatusCode = statusCode
	entry.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Find(_ context.Context, requestID id.RequestID) (*models.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEntry(entry), nil
}

func (s *MemoryStore) ReapStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for _, entry := range s.entries {
		if entry.State == models.IdempotencyInProgress && entry.UpdatedAt.Before(cutoff) {
			entry.State = models.IdempotencyFailed
			entry.UpdatedAt = cutoff
			reaped++
		}
	}
	return reaped, nil
}

func cloneEntry(entry *models.IdempotencyEntry) *models.IdempotencyEntry {
	clone := *entry
	clone.ResultPayload = append([]byte(nil), entry.ResultPayload...)
	return &clone
}
