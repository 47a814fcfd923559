package record

import (
	"context"
	"sync"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
)

// MemoryStore is an in-memory RecordStore for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	byRef     map[id.ReferenceID]*models.OnboardingRecord
	byRequest map[id.RequestID]id.ReferenceID
}

// NewMemoryStore constructs an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRef:     make(map[id.ReferenceID]*models.OnboardingRecord),
		byRequest: make(map[id.RequestID]id.ReferenceID),
	}
}

func (s *MemoryStore) CreatePending(_ context.Context, record *models.OnboardingRecord) (*models.OnboardingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.byRequest[record.RequestID]; ok {
		existing := s.byRef[ref]
		if existing.IsTerminal() {
			return nil, sentinel.ErrInvalidState
		}
		return cloneRecord(existing), nil
	}

	for _, existing := range s.byRef {
		if existing.CustomerID == record.CustomerID && existing.OverallStatus != models.OverallFailed {
			return nil, sentinel.ErrConflict
		}
	}

	stored := cloneRecord(record)
	s.byRef[stored.ReferenceID] = stored
	s.byRequest[stored.RequestID] = stored.ReferenceID
	return cloneRecord(stored), nil
}

func (s *MemoryStore) Finalize(_ context.Context, record *models.OnboardingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byRef[record.ReferenceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.OverallStatus != models.OverallPending {
		return sentinel.ErrInvalidState
	}
	s.byRef[record.ReferenceID] = cloneRecord(record)
	return nil
}

func (s *MemoryStore) FindByReference(_ context.Context, referenceID id.ReferenceID) (*models.OnboardingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byRef[referenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) FindByRequest(_ context.Context, requestID id.RequestID) (*models.OnboardingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.byRequest[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(s.byRef[ref]), nil
}

func cloneRecord(record *models.OnboardingRecord) *models.OnboardingRecord {
	clone := *record
	return &clone
}
