package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/endpoint"
)

func jupiterPool(urls ...string) *endpoint.Pool {
	var configs []endpoint.Config
	for i, u := range urls {
		configs = append(configs, endpoint.Config{ID: string(rune('a' + i)), URL: u})
	}
	return endpoint.NewPool(configs, endpoint.PoolOptions{})
}

func TestJupiterAdapter_FetchPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("expected x-api-key header, got %q", got)
		}
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"MintA": map[string]string{"id": "MintA", "price": "0.0123"},
				"MintB": map[string]string{"id": "MintB", "price": "4.56"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	pool := endpoint.NewPool([]endpoint.Config{
		{ID: "a", URL: server.URL, APIKey: "secret"},
	}, endpoint.PoolOptions{})
	adapter := NewJupiterAdapter(pool, nil)

	results, err := adapter.FetchPrices(context.Background(), []string{"MintA", "MintB"})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["MintA"].USDPrice != 0.0123 {
		t.Errorf("expected MintA price 0.0123, got %v", results["MintA"].USDPrice)
	}
	if results["MintA"].Source != domain.SourceJupiter {
		t.Errorf("expected source %s, got %s", domain.SourceJupiter, results["MintA"].Source)
	}
}

func TestJupiterAdapter_SkipsUnparseablePrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Good": map[string]string{"id": "Good", "price": "1.5"},
				"Bad":  map[string]string{"id": "Bad", "price": "not-a-number"},
				"Zero": map[string]string{"id": "Zero", "price": "0"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewJupiterAdapter(jupiterPool(server.URL), nil)
	results, err := adapter.FetchPrices(context.Background(), []string{"Good", "Bad", "Zero"})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if _, ok := results["Good"]; !ok {
		t.Error("expected Good in results")
	}
}

func TestJupiterAdapter_RotatesOnFailure(t *testing.T) {
	var firstHits atomic.Int64
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstHits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer failing.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"MintA": map[string]string{"id": "MintA", "price": "2.0"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer healthy.Close()

	adapter := NewJupiterAdapter(jupiterPool(failing.URL, healthy.URL), nil)

	// Two calls guarantee the failing endpoint was tried once and sent
	// into cooldown, regardless of rotation start.
	for i := 0; i < 2; i++ {
		results, err := adapter.FetchPrices(context.Background(), []string{"MintA"})
		if err != nil {
			t.Fatalf("FetchPrices should succeed via healthy endpoint: %v", err)
		}
		if results["MintA"] == nil || results["MintA"].USDPrice != 2.0 {
			t.Fatalf("unexpected results: %+v", results)
		}
	}
	if firstHits.Load() != 1 {
		t.Fatalf("expected exactly 1 hit on rate-limited endpoint, got %d", firstHits.Load())
	}

	// The rate-limited endpoint stays out of rotation during cooldown.
	if _, err := adapter.FetchPrices(context.Background(), []string{"MintA"}); err != nil {
		t.Fatalf("third FetchPrices: %v", err)
	}
	if firstHits.Load() != 1 {
		t.Error("rate-limited endpoint was called again during cooldown")
	}
}

func TestJupiterAdapter_AllEndpointsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewJupiterAdapter(jupiterPool(server.URL), nil)
	_, err := adapter.FetchPrices(context.Background(), []string{"MintA"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestJupiterAdapter_UnlistedMintsKeepEndpointsHealthy(t *testing.T) {
	// Mints Jupiter does not list resolve at a lower waterfall tier; the
	// endpoint answered correctly and must not be charged a failure.
	var hits atomic.Int64
	emptyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
	})

	first := httptest.NewServer(emptyHandler)
	defer first.Close()
	second := httptest.NewServer(emptyHandler)
	defer second.Close()

	pool := jupiterPool(first.URL, second.URL)
	adapter := NewJupiterAdapter(pool, nil)

	for cycle := 0; cycle < 3; cycle++ {
		results, err := adapter.FetchPrices(context.Background(), []string{"PumpOnlyMint"})
		if err != nil {
			t.Fatalf("cycle %d: FetchPrices: %v", cycle, err)
		}
		if len(results) != 0 {
			t.Fatalf("cycle %d: expected empty results, got %d", cycle, len(results))
		}
	}

	// One request per cycle: an empty answer must not rotate to the
	// remaining endpoints.
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests across 3 cycles, got %d", hits.Load())
	}

	for _, ep := range pool.Endpoints() {
		h := ep.Health()
		if !h.Healthy {
			t.Errorf("endpoint %s unhealthy after empty answers", ep.ID)
		}
		if h.ConsecutiveFailures != 0 {
			t.Errorf("endpoint %s has %d consecutive failures", ep.ID, h.ConsecutiveFailures)
		}
		if !h.CooldownUntil.IsZero() {
			t.Errorf("endpoint %s in cooldown until %v", ep.ID, h.CooldownUntil)
		}
	}
}
