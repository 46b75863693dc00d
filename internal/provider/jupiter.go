package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/endpoint"
	"memecoin-lending-oracle/internal/observability"
)

// JupiterTimeout bounds each quote API request.
const JupiterTimeout = 5 * time.Second

// JupiterAdapter fetches USD prices from the Jupiter quote API in one
// batched call per request, rotating over pooled endpoints on failure.
type JupiterAdapter struct {
	pool   *endpoint.Pool
	logger *zap.Logger
	now    func() time.Time

	// one http.Client per endpoint, so per-endpoint proxies stay isolated
	clientsMu sync.Mutex
	clients   map[string]*http.Client
}

// NewJupiterAdapter creates a Jupiter adapter over the given endpoint pool.
func NewJupiterAdapter(pool *endpoint.Pool, logger *zap.Logger) *JupiterAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JupiterAdapter{
		pool:    pool,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*http.Client),
	}
}

// Compile-time interface check.
var _ Adapter = (*JupiterAdapter)(nil)

// Name identifies the adapter.
func (a *JupiterAdapter) Name() domain.PriceSource { return domain.SourceJupiter }

// SupportsBatch reports batch support; Jupiter prices many mints per call.
func (a *JupiterAdapter) SupportsBatch() bool { return true }

// FetchPrices resolves prices for the given mints in one batched call.
// On endpoint failure it rotates to the next pooled endpoint, up to one
// attempt per configured endpoint. A well-formed response that simply does
// not list the requested mints is a successful (possibly empty) fetch, not
// an endpoint fault: the endpoint stays healthy and no rotation happens.
func (a *JupiterAdapter) FetchPrices(ctx context.Context, mints []string) (map[string]*domain.PriceRecord, error) {
	if len(mints) == 0 {
		return map[string]*domain.PriceRecord{}, nil
	}

	attempts := a.pool.Size()
	if attempts == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		ep := a.pool.Select()

		start := a.now()
		results, err := a.fetchOnce(ctx, ep, mints)
		elapsed := a.now().Sub(start)

		observability.RecordProviderRequest(string(a.Name()), elapsed.Seconds())

		if err == nil {
			a.pool.RecordSuccess(ep, elapsed)
			return results, nil
		}

		lastErr = err
		a.pool.RecordFailure(ep, statusOf(err))
		observability.RecordProviderFailure(string(a.Name()), FailureClass(err))
		a.logger.Warn("jupiter fetch failed, rotating endpoint",
			zap.String("endpoint", ep.ID),
			zap.Error(err))
	}

	return nil, lastErr
}

// statusErr carries the HTTP status alongside the typed failure so the
// endpoint pool can classify the cooldown.
type statusErr struct {
	err  error
	code int
}

func (e *statusErr) Error() string { return fmt.Sprintf("%v (status %d)", e.err, e.code) }
func (e *statusErr) Unwrap() error { return e.err }

func statusOf(err error) int {
	var se *statusErr
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// jupiterResponse is the quote API payload: data keyed by mint.
type jupiterResponse struct {
	Data map[string]*jupiterPrice `json:"data"`
}

type jupiterPrice struct {
	ID    string `json:"id"`
	Price string `json:"price"`
}

// fetchOnce performs one batched request against a single endpoint.
func (a *JupiterAdapter) fetchOnce(ctx context.Context, ep *endpoint.Endpoint, mints []string) (map[string]*domain.PriceRecord, error) {
	reqURL := fmt.Sprintf("%s/price/v2?ids=%s", strings.TrimRight(ep.URL, "/"), url.QueryEscape(strings.Join(mints, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if ep.APIKey != "" {
		req.Header.Set("x-api-key", ep.APIKey)
	}

	client, err := a.clientFor(ep)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusErr{err: classifyStatus(resp.StatusCode), code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var payload jupiterResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	observedAt := a.now().UnixMilli()
	results := make(map[string]*domain.PriceRecord, len(payload.Data))
	for mint, p := range payload.Data {
		if p == nil || p.Price == "" {
			continue
		}
		usd, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || usd <= 0 {
			a.logger.Warn("jupiter returned unparseable price",
				zap.String("mint", mint),
				zap.String("price", p.Price))
			continue
		}
		results[mint] = &domain.PriceRecord{
			Mint:         mint,
			USDPrice:     usd,
			Source:       domain.SourceJupiter,
			ObservedAtMs: observedAt,
		}
	}

	return results, nil
}

// clientFor returns the cached HTTP client for an endpoint, honoring its
// egress proxy.
func (a *JupiterAdapter) clientFor(ep *endpoint.Endpoint) (*http.Client, error) {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()

	if c, ok := a.clients[ep.ID]; ok {
		return c, nil
	}

	transport := &http.Transport{}
	if ep.ProxyURL != "" {
		proxyURL, err := url.Parse(ep.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url for endpoint %s: %w", ep.ID, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &http.Client{Timeout: JupiterTimeout, Transport: transport}
	a.clients[ep.ID] = c
	return c, nil
}
