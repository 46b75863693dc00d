// Package endpoint manages a pool of credentialed upstream endpoints:
// round-robin rotation, health tracking, and failure cooldowns.
package endpoint

import (
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/observability"
)

// Cooldown durations per failure class.
const (
	// RateLimitCooldown applies after a 429 response.
	RateLimitCooldown = 30 * time.Second
	// CredentialCooldown applies after a 401/403 response. Long, because it
	// indicates a configuration problem, not transient load.
	CredentialCooldown = 5 * time.Minute
	// GenericCooldown applies after the consecutive-failure threshold.
	GenericCooldown = 60 * time.Second

	// DefaultFailureThreshold is the consecutive generic failures before an
	// endpoint is marked unhealthy.
	DefaultFailureThreshold = 3

	// latency EMA weights: 0.9 old, 0.1 new
	latencyEMAOld = 0.9
	latencyEMANew = 0.1
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// FailureThreshold overrides DefaultFailureThreshold when > 0.
	FailureThreshold int
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger is optional.
	Logger *zap.Logger
}

// Pool owns a fixed set of endpoints and rotates over the healthy ones.
type Pool struct {
	endpoints        []*Endpoint
	cursor           atomic.Uint64
	failureThreshold int
	now              func() time.Time
	logger           *zap.Logger
}

// NewPool creates a pool from endpoint configs. The endpoint set is fixed
// for the life of the pool.
func NewPool(configs []Config, opts PoolOptions) *Pool {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		failureThreshold: threshold,
		now:              now,
		logger:           logger,
	}
	for _, cfg := range configs {
		p.endpoints = append(p.endpoints, &Endpoint{
			ID:       cfg.ID,
			URL:      cfg.URL,
			APIKey:   cfg.APIKey,
			ProxyURL: cfg.ProxyURL,
			healthy:  true,
		})
	}
	return p
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Endpoints returns the configured endpoints, for status reporting.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// Select returns the next endpoint in round-robin order, skipping endpoints
// still in cooldown. An endpoint whose cooldown has elapsed is restored to
// healthy before selection. When every endpoint is cooling down, the one
// with the earliest cooldown expiry is returned anyway: callers must still
// attempt the request rather than hard-fail. Returns nil only for an empty
// pool.
func (p *Pool) Select() *Endpoint {
	n := len(p.endpoints)
	if n == 0 {
		return nil
	}

	now := p.now()
	start := p.cursor.Add(1)

	for i := 0; i < n; i++ {
		ep := p.endpoints[(start+uint64(i))%uint64(n)]
		if p.restoreIfCooldownElapsed(ep, now) {
			return ep
		}
	}

	// All endpoints unhealthy: degrade gracefully to the one that recovers
	// soonest instead of refusing to serve.
	best := p.endpoints[0]
	bestUntil := best.Health().CooldownUntil
	for _, ep := range p.endpoints[1:] {
		if until := ep.Health().CooldownUntil; until.Before(bestUntil) {
			best = ep
			bestUntil = until
		}
	}
	p.logger.Warn("all endpoints in cooldown, selecting earliest expiry",
		zap.String("endpoint", best.ID),
		zap.Time("cooldown_until", bestUntil))
	return best
}

// restoreIfCooldownElapsed reports whether ep is usable now, restoring its
// health if a cooldown has run out.
func (p *Pool) restoreIfCooldownElapsed(ep *Endpoint, now time.Time) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.healthy && ep.cooldownUntil.IsZero() {
		return true
	}
	if !now.Before(ep.cooldownUntil) {
		ep.healthy = true
		ep.consecutiveFailures = 0
		ep.cooldownUntil = time.Time{}
		return true
	}
	return false
}

// RecordSuccess resets the failure streak, clears any cooldown, and folds
// the observed latency into the rolling average.
func (p *Pool) RecordSuccess(ep *Endpoint, latency time.Duration) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.totalRequests++
	ep.consecutiveFailures = 0
	ep.healthy = true
	ep.cooldownUntil = time.Time{}

	ms := float64(latency.Milliseconds())
	if ep.rollingAvgLatencyMs == 0 {
		ep.rollingAvgLatencyMs = ms
	} else {
		ep.rollingAvgLatencyMs = ep.rollingAvgLatencyMs*latencyEMAOld + ms*latencyEMANew
	}
}

// RecordFailure classifies the failure by status code and applies the
// matching cooldown. statusCode 0 means a transport-level failure.
func (p *Pool) RecordFailure(ep *Endpoint, statusCode int) {
	now := p.now()

	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.totalRequests++
	ep.totalFailures++
	ep.consecutiveFailures++
	ep.lastFailureAt = now

	switch {
	case statusCode == http.StatusTooManyRequests:
		ep.last429At = now
		ep.healthy = false
		ep.cooldownUntil = now.Add(RateLimitCooldown)
		observability.RecordEndpointCooldown("rate_limit")
		p.logger.Warn("endpoint rate limited",
			zap.String("endpoint", ep.ID),
			zap.Duration("cooldown", RateLimitCooldown))

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		ep.healthy = false
		ep.cooldownUntil = now.Add(CredentialCooldown)
		observability.RecordEndpointCooldown("credential")
		p.logger.Error("endpoint credential failure, needs operator attention",
			zap.String("endpoint", ep.ID),
			zap.Int("status", statusCode),
			zap.Duration("cooldown", CredentialCooldown))

	default:
		if ep.consecutiveFailures >= p.failureThreshold {
			ep.healthy = false
			ep.cooldownUntil = now.Add(GenericCooldown)
			observability.RecordEndpointCooldown("generic")
			p.logger.Warn("endpoint unhealthy after consecutive failures",
				zap.String("endpoint", ep.ID),
				zap.Int("failures", ep.consecutiveFailures))
		}
	}
}

// Reset restores all endpoints to healthy. Operator action.
func (p *Pool) Reset() {
	for _, ep := range p.endpoints {
		ep.mu.Lock()
		ep.healthy = true
		ep.consecutiveFailures = 0
		ep.cooldownUntil = time.Time{}
		ep.mu.Unlock()
	}
	p.logger.Info("endpoint pool reset")
}
