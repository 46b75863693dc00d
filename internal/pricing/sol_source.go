package pricing

import (
	"context"
	"fmt"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/provider"
)

// SolPriceSource resolves the SOL/USD reference price through the shared
// cache, falling back to a quote adapter on a miss. The bonding-curve
// adapter and the liquidation trigger both depend on it.
type SolPriceSource struct {
	cache   *Cache
	adapter provider.Adapter
}

// NewSolPriceSource creates a reference-price source over the cache and a
// USD quote adapter.
func NewSolPriceSource(cache *Cache, adapter provider.Adapter) *SolPriceSource {
	return &SolPriceSource{cache: cache, adapter: adapter}
}

// Compile-time interface check.
var _ provider.NativePriceSource = (*SolPriceSource)(nil)

// SolanaUSD returns a fresh SOL/USD price. An unresolvable reference is an
// error; callers decide whether to skip or fail.
func (s *SolPriceSource) SolanaUSD(ctx context.Context) (float64, error) {
	if rec, ok := s.cache.Get(domain.WrappedSOLMint); ok && rec.USDPrice > 0 {
		return rec.USDPrice, nil
	}

	results, err := s.adapter.FetchPrices(ctx, []string{domain.WrappedSOLMint})
	if err != nil {
		return 0, fmt.Errorf("fetch SOL reference price: %w", err)
	}
	rec, ok := results[domain.WrappedSOLMint]
	if !ok || rec.USDPrice <= 0 {
		return 0, fmt.Errorf("SOL reference price unavailable")
	}

	s.cache.Put(rec)
	return rec.USDPrice, nil
}

// CachedSolanaUSD returns the last known SOL/USD price regardless of age.
func (s *SolPriceSource) CachedSolanaUSD() (float64, bool) {
	rec, _, ok := s.cache.GetStale(domain.WrappedSOLMint)
	if !ok || rec.USDPrice <= 0 {
		return 0, false
	}
	return rec.USDPrice, true
}
