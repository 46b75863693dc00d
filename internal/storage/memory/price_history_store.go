package memory

import (
	"context"
	"sort"
	"sync"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PriceRecord // keyed by mint, append order
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string][]*domain.PriceRecord),
	}
}

var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Insert appends an accepted price record.
func (s *PriceHistoryStore) Insert(_ context.Context, rec *domain.PriceRecord) error {
	if rec == nil || rec.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.data[rec.Mint] = append(s.data[rec.Mint], &recCopy)
	return nil
}

// GetLatest retrieves the most recent stored record for a mint.
func (s *PriceHistoryStore) GetLatest(_ context.Context, mint string) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.data[mint]
	if len(recs) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := recs[0]
	for _, r := range recs[1:] {
		if r.ObservedAtMs >= latest.ObservedAtMs {
			latest = r
		}
	}
	recCopy := *latest
	return &recCopy, nil
}

// GetByTimeRange retrieves records for a mint within [start, end] (inclusive).
func (s *PriceHistoryStore) GetByTimeRange(_ context.Context, mint string, start, end int64) ([]*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceRecord
	for _, r := range s.data[mint] {
		if r.ObservedAtMs >= start && r.ObservedAtMs <= end {
			recCopy := *r
			result = append(result, &recCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAtMs < result[j].ObservedAtMs
	})

	return result, nil
}

// Count returns the number of stored records for a mint. Test helper.
func (s *PriceHistoryStore) Count(mint string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[mint])
}
