package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/observability"
)

// DexScreenerBaseURL is the public aggregator API.
const DexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreenerTimeout bounds each pair lookup.
const DexScreenerTimeout = 5 * time.Second

// DexScreenerAdapter resolves prices from the DexScreener pair aggregator,
// one request per mint, choosing the deepest pool by USD liquidity.
type DexScreenerAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewDexScreenerAdapter creates a DexScreener adapter. An empty baseURL
// selects the public API.
func NewDexScreenerAdapter(baseURL string, logger *zap.Logger) *DexScreenerAdapter {
	if baseURL == "" {
		baseURL = DexScreenerBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DexScreenerAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DexScreenerTimeout},
		logger:  logger,
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ Adapter = (*DexScreenerAdapter)(nil)

// Name identifies the adapter.
func (a *DexScreenerAdapter) Name() domain.PriceSource { return domain.SourceDexScreener }

// SupportsBatch reports batch support; pairs are looked up per mint.
func (a *DexScreenerAdapter) SupportsBatch() bool { return false }

// FetchPrices resolves prices for the given mints one request at a time.
// Mints without a tradable pair are omitted; partial results are returned
// with a nil error.
func (a *DexScreenerAdapter) FetchPrices(ctx context.Context, mints []string) (map[string]*domain.PriceRecord, error) {
	if len(mints) == 0 {
		return map[string]*domain.PriceRecord{}, nil
	}

	results := make(map[string]*domain.PriceRecord)
	var lastErr error
	for _, mint := range mints {
		start := a.now()
		rec, err := a.fetchOne(ctx, mint)
		observability.RecordProviderRequest(string(a.Name()), a.now().Sub(start).Seconds())
		if err != nil {
			lastErr = err
			observability.RecordProviderFailure(string(a.Name()), FailureClass(err))
			a.logger.Debug("dexscreener lookup failed",
				zap.String("mint", mint),
				zap.Error(err))
			continue
		}
		results[mint] = rec
	}

	if len(results) == 0 && lastErr != nil {
		return results, lastErr
	}
	return results, nil
}

// dexPair is the subset of the pair payload the adapter reads.
type dexPair struct {
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

func (a *DexScreenerAdapter) fetchOne(ctx context.Context, mint string) (*domain.PriceRecord, error) {
	reqURL := fmt.Sprintf("%s/latest/dex/tokens/%s", a.baseURL, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var payload dexResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(payload.Pairs) == 0 {
		return nil, ErrNoData
	}

	// Deepest pool wins; ties keep the first seen.
	best := &payload.Pairs[0]
	for i := 1; i < len(payload.Pairs); i++ {
		if payload.Pairs[i].Liquidity.USD > best.Liquidity.USD {
			best = &payload.Pairs[i]
		}
	}

	usd, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || usd <= 0 {
		return nil, fmt.Errorf("%w: unparseable priceUsd %q", ErrBadPayload, best.PriceUSD)
	}

	rec := &domain.PriceRecord{
		Mint:           mint,
		USDPrice:       usd,
		PriceChange24h: best.PriceChange.H24,
		Source:         domain.SourceDexScreener,
		ObservedAtMs:   a.now().UnixMilli(),
	}
	if native, err := strconv.ParseFloat(best.PriceNative, 64); err == nil && native > 0 {
		rec.NativePrice = native
	}
	return rec, nil
}
