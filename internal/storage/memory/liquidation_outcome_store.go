package memory

import (
	"context"
	"sync"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// LiquidationOutcomeStore is an in-memory implementation of
// storage.LiquidationOutcomeStore.
type LiquidationOutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LiquidationOutcome // keyed by position ID
}

// NewLiquidationOutcomeStore creates a new in-memory outcome store.
func NewLiquidationOutcomeStore() *LiquidationOutcomeStore {
	return &LiquidationOutcomeStore{
		data: make(map[string]*domain.LiquidationOutcome),
	}
}

var _ storage.LiquidationOutcomeStore = (*LiquidationOutcomeStore)(nil)

// Insert adds a new outcome. Returns ErrDuplicateKey if position_id exists.
func (s *LiquidationOutcomeStore) Insert(_ context.Context, o *domain.LiquidationOutcome) error {
	if o == nil || o.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.PositionID]; exists {
		return storage.ErrDuplicateKey
	}
	outCopy := *o
	s.data[o.PositionID] = &outCopy
	return nil
}

// CountInWindow counts outcomes executed within [start, end] (epoch ms).
func (s *LiquidationOutcomeStore) CountInWindow(_ context.Context, start, end int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, o := range s.data {
		if o.ExecutedAtMs >= start && o.ExecutedAtMs <= end {
			count++
		}
	}
	return count, nil
}

// SumLossInWindow sums realized losses within [start, end] (epoch ms).
func (s *LiquidationOutcomeStore) SumLossInWindow(_ context.Context, start, end int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	for _, o := range s.data {
		if o.ExecutedAtMs >= start && o.ExecutedAtMs <= end {
			sum += o.RealizedLoss
		}
	}
	return sum, nil
}
