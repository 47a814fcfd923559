package memory

import (
	"context"
	"sync"

	audit "onboarding-gateway/pkg/platform/audit"
)

// InMemoryStore collects audit events in memory. Used by unit tests to
// assert on the emitted trail.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything appended so far.
func (s *InMemoryStore) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}

// ByAction filters the trail by action.
func (s *InMemoryStore) ByAction(action audit.Action) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []audit.Event
	for _, event := range s.events {
		if event.Action == action {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
