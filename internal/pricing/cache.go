// Package pricing contains the price cache tiers and the waterfall
// aggregator that resolves prices across the provider adapters.
package pricing

import (
	"sync"
	"time"

	"memecoin-lending-oracle/internal/domain"
)

// DefaultCacheTTL is the freshness window for cached prices.
const DefaultCacheTTL = 5 * time.Second

type cacheEntry struct {
	record   *domain.PriceRecord
	storedAt time.Time
}

// Cache is an in-process TTL price cache keyed by mint.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given TTL. Zero or negative TTL
// selects the default.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached record for a mint if it is still fresh.
func (c *Cache) Get(mint string) (*domain.PriceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[mint]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		return nil, false
	}

	rec := *entry.record
	return &rec, true
}

// GetStale returns the cached record regardless of age, with its age.
// Callers that accept stale data opt in explicitly.
func (c *Cache) GetStale(mint string) (*domain.PriceRecord, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[mint]
	if !ok {
		return nil, 0, false
	}

	rec := *entry.record
	return &rec, c.now().Sub(entry.storedAt), true
}

// Put stores a record for its mint.
func (c *Cache) Put(record *domain.PriceRecord) {
	if record == nil || record.Mint == "" {
		return
	}

	rec := *record

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.Mint] = cacheEntry{record: &rec, storedAt: c.now()}
}

// Len returns the number of cached mints, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
