package endpoint

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"memecoin-lending-oracle/internal/observability"
)

// fakeClock is an adjustable clock for cooldown tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPool(n int, clock *fakeClock) *Pool {
	var configs []Config
	for i := 0; i < n; i++ {
		configs = append(configs, Config{
			ID:  string(rune('a' + i)),
			URL: "https://example.test/" + string(rune('a'+i)),
		})
	}
	return NewPool(configs, PoolOptions{Now: clock.Now})
}

func TestPool_SelectRotation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(3, clock)

	counts := make(map[string]int)
	for i := 0; i < 30; i++ {
		ep := pool.Select()
		if ep == nil {
			t.Fatal("Select returned nil with healthy endpoints")
		}
		counts[ep.ID]++
	}

	for id, n := range counts {
		if n != 10 {
			t.Errorf("endpoint %s selected %d times, expected 10", id, n)
		}
	}
}

func TestPool_SelectEmpty(t *testing.T) {
	pool := NewPool(nil, PoolOptions{})
	if ep := pool.Select(); ep != nil {
		t.Errorf("expected nil from empty pool, got %v", ep.ID)
	}
}

func TestPool_RateLimitCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(2, clock)

	limited := pool.endpoints[0]
	pool.RecordFailure(limited, http.StatusTooManyRequests)

	// The limited endpoint must be skipped while cooling down.
	for i := 0; i < 10; i++ {
		if ep := pool.Select(); ep.ID == limited.ID {
			t.Fatal("selected rate-limited endpoint during cooldown")
		}
	}

	// After the cooldown it rejoins rotation.
	clock.Advance(RateLimitCooldown + time.Second)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		seen[pool.Select().ID] = true
	}
	if !seen[limited.ID] {
		t.Error("rate-limited endpoint not restored after cooldown")
	}

	h := limited.Health()
	if h.Last429At.IsZero() {
		t.Error("last429At not recorded")
	}
}

func TestPool_CredentialCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(2, clock)

	bad := pool.endpoints[1]
	pool.RecordFailure(bad, http.StatusUnauthorized)

	// Still excluded after the rate-limit window: credential failures get
	// the long cooldown.
	clock.Advance(RateLimitCooldown + time.Second)
	for i := 0; i < 10; i++ {
		if ep := pool.Select(); ep.ID == bad.ID {
			t.Fatal("selected endpoint during credential cooldown")
		}
	}

	clock.Advance(CredentialCooldown)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		seen[pool.Select().ID] = true
	}
	if !seen[bad.ID] {
		t.Error("endpoint not restored after credential cooldown")
	}
}

func TestPool_GenericFailureThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(2, clock)

	flaky := pool.endpoints[0]

	// Below the threshold the endpoint stays in rotation.
	pool.RecordFailure(flaky, 0)
	pool.RecordFailure(flaky, http.StatusInternalServerError)
	if !flaky.Health().Healthy {
		t.Fatal("endpoint unhealthy before reaching the failure threshold")
	}

	pool.RecordFailure(flaky, 0)
	if flaky.Health().Healthy {
		t.Fatal("endpoint still healthy after consecutive failure threshold")
	}

	for i := 0; i < 10; i++ {
		if ep := pool.Select(); ep.ID == flaky.ID {
			t.Fatal("selected unhealthy endpoint during generic cooldown")
		}
	}
}

func TestPool_SuccessResetsFailureStreak(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(1, clock)

	ep := pool.endpoints[0]
	pool.RecordFailure(ep, 0)
	pool.RecordFailure(ep, 0)
	pool.RecordSuccess(ep, 100*time.Millisecond)

	if got := ep.Health().ConsecutiveFailures; got != 0 {
		t.Errorf("expected failure streak reset, got %d", got)
	}

	// A third failure after a success must not trip the threshold.
	pool.RecordFailure(ep, 0)
	if !ep.Health().Healthy {
		t.Error("endpoint unhealthy after streak was reset")
	}
}

func TestPool_AllCoolingDownFallsBackToEarliestExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(2, clock)

	// Endpoint 0 recovers in 30s, endpoint 1 in 5m.
	pool.RecordFailure(pool.endpoints[0], http.StatusTooManyRequests)
	pool.RecordFailure(pool.endpoints[1], http.StatusForbidden)

	ep := pool.Select()
	if ep == nil {
		t.Fatal("Select returned nil with all endpoints cooling down")
	}
	if ep.ID != pool.endpoints[0].ID {
		t.Errorf("expected earliest-expiry endpoint %s, got %s", pool.endpoints[0].ID, ep.ID)
	}
}

func TestPool_LatencyEMA(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(1, clock)
	ep := pool.endpoints[0]

	pool.RecordSuccess(ep, 100*time.Millisecond)
	if got := ep.Health().RollingAvgLatencyMs; got != 100 {
		t.Fatalf("first observation should seed the average, got %v", got)
	}

	pool.RecordSuccess(ep, 200*time.Millisecond)
	want := 100*0.9 + 200*0.1
	if got := ep.Health().RollingAvgLatencyMs; got != want {
		t.Errorf("expected EMA %v, got %v", want, got)
	}
}

func TestPool_CooldownMetricPerClass(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(3, clock)

	rateLimit := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("rate_limit"))
	credential := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("credential"))
	generic := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("generic"))

	pool.RecordFailure(pool.endpoints[0], http.StatusTooManyRequests)
	pool.RecordFailure(pool.endpoints[1], http.StatusForbidden)

	// Generic failures only count once the threshold marks the endpoint
	// unhealthy.
	for i := 0; i < DefaultFailureThreshold; i++ {
		pool.RecordFailure(pool.endpoints[2], http.StatusInternalServerError)
	}

	if got := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("rate_limit")) - rateLimit; got != 1 {
		t.Errorf("expected 1 rate_limit cooldown, got %v", got)
	}
	if got := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("credential")) - credential; got != 1 {
		t.Errorf("expected 1 credential cooldown, got %v", got)
	}
	if got := testutil.ToFloat64(observability.DefaultMetrics.EndpointCooldowns.WithLabelValues("generic")) - generic; got != 1 {
		t.Errorf("expected 1 generic cooldown, got %v", got)
	}
}

func TestPool_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pool := newTestPool(2, clock)

	pool.RecordFailure(pool.endpoints[0], http.StatusUnauthorized)
	pool.RecordFailure(pool.endpoints[1], http.StatusTooManyRequests)

	pool.Reset()

	for _, ep := range pool.endpoints {
		h := ep.Health()
		if !h.Healthy || !h.CooldownUntil.IsZero() || h.ConsecutiveFailures != 0 {
			t.Errorf("endpoint %s not fully restored: %+v", ep.ID, h)
		}
	}
}
