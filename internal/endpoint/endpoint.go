package endpoint

import (
	"sync"
	"time"
)

// Endpoint is a credentialed upstream endpoint, optionally routed through a
// distinct egress proxy. Health fields are mutated after every request and
// guarded by mu; endpoints are created at startup and never deleted.
type Endpoint struct {
	// ID identifies the endpoint in logs and metrics.
	ID string
	// URL is the base URL of the upstream API.
	URL string
	// APIKey is the credential sent with each request.
	APIKey string
	// ProxyURL routes requests through an egress proxy when non-empty.
	ProxyURL string

	mu                  sync.Mutex
	consecutiveFailures int
	lastFailureAt       time.Time
	last429At           time.Time
	totalRequests       int64
	totalFailures       int64
	rollingAvgLatencyMs float64
	healthy             bool
	cooldownUntil       time.Time
}

// Config describes one endpoint in configuration.
type Config struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	ProxyURL string `yaml:"proxy_url"`
}

// Health is a snapshot of an endpoint's mutable health state.
type Health struct {
	ConsecutiveFailures int
	LastFailureAt       time.Time
	Last429At           time.Time
	TotalRequests       int64
	TotalFailures       int64
	RollingAvgLatencyMs float64
	Healthy             bool
	CooldownUntil       time.Time
}

// Health returns a consistent snapshot of the endpoint's health state.
func (e *Endpoint) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		ConsecutiveFailures: e.consecutiveFailures,
		LastFailureAt:       e.lastFailureAt,
		Last429At:           e.last429At,
		TotalRequests:       e.totalRequests,
		TotalFailures:       e.totalFailures,
		RollingAvgLatencyMs: e.rollingAvgLatencyMs,
		Healthy:             e.healthy,
		CooldownUntil:       e.cooldownUntil,
	}
}
