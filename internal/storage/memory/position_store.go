package memory

import (
	"context"
	"sync"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position ID
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Put inserts or replaces a position. Test helper; the real store is
// written by the external lending service.
func (s *PositionStore) Put(p *domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posCopy := *p
	s.data[p.ID] = &posCopy
}

// GetOpenByMint retrieves all ACTIVE positions collateralized by mint.
func (s *PositionStore) GetOpenByMint(_ context.Context, mint string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Mint == mint && p.Status == domain.PositionActive {
			posCopy := *p
			result = append(result, &posCopy)
		}
	}
	return result, nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	posCopy := *p
	return &posCopy, nil
}

// SetStatus updates a position's status. Test helper.
func (s *PositionStore) SetStatus(positionID string, status domain.PositionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data[positionID]; ok {
		p.Status = status
	}
}
