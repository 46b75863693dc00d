package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/observability"
	"memecoin-lending-oracle/internal/provider"
	"memecoin-lending-oracle/internal/storage"
)

// historyDedupRatio is the minimum relative price move that produces a new
// history row. Smaller moves are duplicates of the latest stored row.
const historyDedupRatio = 0.001

// persistTimeout bounds the background history/audit writes.
const persistTimeout = 10 * time.Second

// Aggregator resolves prices through a fixed waterfall: local cache, shared
// cache, then each provider adapter in configured order. Mints no tier can
// resolve are omitted from the result, never fabricated.
type Aggregator struct {
	cache       *Cache
	distributed DistributedCache
	adapters    []provider.Adapter
	history     storage.PriceHistoryStore
	audit       storage.AuditStore
	logger      *zap.Logger
	now         func() time.Time
	cacheTTL    time.Duration
}

// AggregatorOptions configures optional collaborators.
type AggregatorOptions struct {
	Distributed DistributedCache
	History     storage.PriceHistoryStore
	Audit       storage.AuditStore
	Logger      *zap.Logger
	CacheTTL    time.Duration
}

// NewAggregator creates an aggregator over the given cache and ordered
// adapters. History, audit and the shared cache tier are optional.
func NewAggregator(cache *Cache, adapters []provider.Adapter, opts AggregatorOptions) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Aggregator{
		cache:       cache,
		distributed: opts.Distributed,
		adapters:    adapters,
		history:     opts.History,
		audit:       opts.Audit,
		logger:      logger,
		now:         time.Now,
		cacheTTL:    ttl,
	}
}

// GetPrices resolves prices for the given mints. Unresolvable mints are
// absent from the result. The only hard error is input with no valid mint.
func (a *Aggregator) GetPrices(ctx context.Context, mints []string) (map[string]*domain.PriceRecord, error) {
	valid := make([]string, 0, len(mints))
	seen := make(map[string]bool, len(mints))
	for _, mint := range mints {
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true
		valid = append(valid, mint)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid mints in request")
	}

	results := make(map[string]*domain.PriceRecord, len(valid))
	remaining := make([]string, 0, len(valid))

	for _, mint := range valid {
		if rec, ok := a.cache.Get(mint); ok {
			observability.RecordCacheHit()
			results[mint] = rec
			continue
		}
		observability.RecordCacheMiss()
		remaining = append(remaining, mint)
	}

	remaining = a.fromDistributed(ctx, remaining, results)

	failedAbove := false
	for _, adapter := range a.adapters {
		if len(remaining) == 0 {
			break
		}

		fetched, err := adapter.FetchPrices(ctx, remaining)
		if err != nil {
			a.logger.Warn("provider fetch failed",
				zap.String("provider", string(adapter.Name())),
				zap.Error(err))
			a.recordEvent(domain.EventProviderFailure, domain.SeverityWarning, "",
				fmt.Sprintf("%s: %s", adapter.Name(), provider.FailureClass(err)))
			if errors.Is(err, provider.ErrUnauthorized) {
				a.recordEvent(domain.EventEndpointCredential, domain.SeverityCritical, "",
					fmt.Sprintf("%s rejected credentials", adapter.Name()))
			}
			failedAbove = true
		}

		if len(fetched) > 0 && failedAbove {
			observability.RecordFailover()
			a.recordEvent(domain.EventPriceFailover, domain.SeverityWarning, "",
				fmt.Sprintf("resolved %d mints via %s after earlier tier failed", len(fetched), adapter.Name()))
		}

		next := remaining[:0]
		for _, mint := range remaining {
			rec, ok := fetched[mint]
			if !ok {
				next = append(next, mint)
				continue
			}
			a.accept(rec)
			results[mint] = rec
		}
		remaining = next
	}

	for _, mint := range remaining {
		observability.RecordUnresolved()
		a.recordEvent(domain.EventPriceUnresolved, domain.SeverityCritical, mint,
			"no provider could price the asset")
	}

	return results, nil
}

// GetPrice resolves a single mint.
func (a *Aggregator) GetPrice(ctx context.Context, mint string) (*domain.PriceRecord, error) {
	results, err := a.GetPrices(ctx, []string{mint})
	if err != nil {
		return nil, err
	}
	rec, ok := results[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// Stale returns the last cached record for a mint regardless of age.
func (a *Aggregator) Stale(mint string) (*domain.PriceRecord, time.Duration, bool) {
	return a.cache.GetStale(mint)
}

// fromDistributed fills results from the shared cache tier and returns the
// mints still unresolved. Tier errors degrade to misses.
func (a *Aggregator) fromDistributed(ctx context.Context, mints []string, results map[string]*domain.PriceRecord) []string {
	if a.distributed == nil || len(mints) == 0 {
		return mints
	}

	remaining := mints[:0]
	for _, mint := range mints {
		rec, err := a.distributed.Get(ctx, mint)
		if err != nil {
			a.logger.Warn("distributed cache read failed", zap.String("mint", mint), zap.Error(err))
			remaining = append(remaining, mint)
			continue
		}
		if rec == nil || a.now().UnixMilli()-rec.ObservedAtMs > a.cacheTTL.Milliseconds() {
			remaining = append(remaining, mint)
			continue
		}
		observability.RecordCacheHit()
		a.cache.Put(rec)
		results[mint] = rec
	}
	return remaining
}

// accept records a freshly resolved price: both cache tiers synchronously,
// history persistence in the background.
func (a *Aggregator) accept(rec *domain.PriceRecord) {
	a.cache.Put(rec)

	if a.distributed != nil {
		go func(rec domain.PriceRecord) {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := a.distributed.Set(ctx, &rec, a.cacheTTL); err != nil {
				a.logger.Warn("distributed cache write failed", zap.String("mint", rec.Mint), zap.Error(err))
			}
		}(*rec)
	}

	if a.history != nil {
		go a.persistHistory(*rec)
	}
}

// persistHistory appends the record to the history store unless it is a
// near-duplicate of the latest stored row for the mint.
func (a *Aggregator) persistHistory(rec domain.PriceRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	latest, err := a.history.GetLatest(ctx, rec.Mint)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		a.logger.Warn("history lookup failed", zap.String("mint", rec.Mint), zap.Error(err))
	}
	if latest != nil && latest.USDPrice > 0 {
		if math.Abs(rec.USDPrice-latest.USDPrice)/latest.USDPrice < historyDedupRatio {
			observability.RecordHistoryWrite(true)
			return
		}
	}

	if err := a.history.Insert(ctx, &rec); err != nil {
		a.logger.Warn("history insert failed", zap.String("mint", rec.Mint), zap.Error(err))
		return
	}
	observability.RecordHistoryWrite(false)
}

// recordEvent appends a security event in the background. A missing audit
// store degrades to a log line.
func (a *Aggregator) recordEvent(eventType string, severity domain.Severity, mint, detail string) {
	if a.audit == nil {
		a.logger.Info("security event",
			zap.String("type", eventType),
			zap.String("severity", string(severity)),
			zap.String("mint", mint),
			zap.String("detail", detail))
		return
	}

	event := &domain.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Mint:        mint,
		Detail:      detail,
		CreatedAtMs: a.now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := a.audit.Append(ctx, event); err != nil {
			a.logger.Warn("audit append failed", zap.String("type", eventType), zap.Error(err))
		}
	}()
}
