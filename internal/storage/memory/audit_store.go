package memory

import (
	"context"
	"sync"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu     sync.RWMutex
	events []*domain.SecurityEvent
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ storage.AuditStore = (*AuditStore)(nil)

// Append records a security event.
func (s *AuditStore) Append(_ context.Context, e *domain.SecurityEvent) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eventCopy := *e
	s.events = append(s.events, &eventCopy)
	return nil
}

// Events returns a snapshot of all recorded events. Test helper.
func (s *AuditStore) Events() []*domain.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SecurityEvent, 0, len(s.events))
	for _, e := range s.events {
		eventCopy := *e
		result = append(result, &eventCopy)
	}
	return result
}

// EventsOfType returns recorded events matching the given type. Test helper.
func (s *AuditStore) EventsOfType(eventType string) []*domain.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SecurityEvent
	for _, e := range s.events {
		if e.Type == eventType {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	return result
}
