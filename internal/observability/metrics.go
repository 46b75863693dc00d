// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the oracle core.
type Metrics struct {
	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Endpoint pool metrics
	EndpointCooldowns *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Aggregator metrics
	PriceFailovers   prometheus.Counter
	PricesUnresolved prometheus.Counter
	HistoryRowsWritten prometheus.Counter
	HistoryRowsDeduped prometheus.Counter

	// Stream metrics
	StreamReconnects     prometheus.Counter
	StreamUpdatesAccepted prometheus.Counter
	StreamUpdatesRejected prometheus.Counter
	PriceAnomalies       prometheus.Counter

	// Liquidation metrics
	LiquidationsTriggered prometheus.Counter
	LiquidationsFailed    prometheus.Counter

	// Circuit breaker metrics
	BreakerTripped prometheus.Gauge
	BreakerChecks  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_oracle"
	}

	return &Metrics{
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider fetch calls",
		}, []string{"provider"}),
		ProviderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "failures_total",
			Help:      "Total number of provider fetch failures by class",
		}, []string{"provider", "class"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		EndpointCooldowns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "cooldowns_total",
			Help:      "Total number of endpoint cooldowns by class",
		}, []string{"class"}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of fresh price cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of price cache misses",
		}),

		PriceFailovers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "failovers_total",
			Help:      "Total number of cross-provider failovers",
		}),
		PricesUnresolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "unresolved_total",
			Help:      "Total number of assets no provider could price",
		}),
		HistoryRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "rows_written_total",
			Help:      "Total number of price history rows written",
		}),
		HistoryRowsDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "rows_deduped_total",
			Help:      "Total number of price history rows skipped by dedup",
		}),

		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of stream reconnect attempts",
		}),
		StreamUpdatesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_accepted_total",
			Help:      "Total number of accepted live price updates",
		}),
		StreamUpdatesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_rejected_total",
			Help:      "Total number of live price updates rejected by validation",
		}),
		PriceAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "anomalies_total",
			Help:      "Total number of high-deviation price anomalies",
		}),

		LiquidationsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "triggered_total",
			Help:      "Total number of liquidation dispatches",
		}),
		LiquidationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "failed_total",
			Help:      "Total number of failed liquidation executions",
		}),

		BreakerTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "tripped",
			Help:      "1 when the circuit breaker is tripped, 0 otherwise",
		}),
		BreakerChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "checks_total",
			Help:      "Total number of breaker evaluations",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProviderRequest records one provider fetch and its latency.
func RecordProviderRequest(provider string, seconds float64) {
	DefaultMetrics.ProviderRequests.WithLabelValues(provider).Inc()
	DefaultMetrics.ProviderLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordProviderFailure records a provider failure by class.
func RecordProviderFailure(provider, class string) {
	DefaultMetrics.ProviderFailures.WithLabelValues(provider, class).Inc()
}

// RecordEndpointCooldown records an endpoint entering cooldown by class.
func RecordEndpointCooldown(class string) {
	DefaultMetrics.EndpointCooldowns.WithLabelValues(class).Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() { DefaultMetrics.CacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() { DefaultMetrics.CacheMisses.Inc() }

// RecordFailover increments the cross-provider failover counter.
func RecordFailover() { DefaultMetrics.PriceFailovers.Inc() }

// RecordUnresolved increments the unresolved-asset counter.
func RecordUnresolved() { DefaultMetrics.PricesUnresolved.Inc() }

// RecordHistoryWrite records a history persist, deduped or written.
func RecordHistoryWrite(deduped bool) {
	if deduped {
		DefaultMetrics.HistoryRowsDeduped.Inc()
	} else {
		DefaultMetrics.HistoryRowsWritten.Inc()
	}
}

// RecordStreamReconnect increments the stream reconnect counter.
func RecordStreamReconnect() { DefaultMetrics.StreamReconnects.Inc() }

// RecordStreamUpdate records an inbound live update.
func RecordStreamUpdate(accepted bool) {
	if accepted {
		DefaultMetrics.StreamUpdatesAccepted.Inc()
	} else {
		DefaultMetrics.StreamUpdatesRejected.Inc()
	}
}

// RecordAnomaly increments the price anomaly counter.
func RecordAnomaly() { DefaultMetrics.PriceAnomalies.Inc() }

// RecordLiquidation records a liquidation dispatch outcome.
func RecordLiquidation(failed bool) {
	DefaultMetrics.LiquidationsTriggered.Inc()
	if failed {
		DefaultMetrics.LiquidationsFailed.Inc()
	}
}

// SetBreakerTripped updates the breaker state gauge.
func SetBreakerTripped(tripped bool) {
	if tripped {
		DefaultMetrics.BreakerTripped.Set(1)
	} else {
		DefaultMetrics.BreakerTripped.Set(0)
	}
}

// RecordBreakerCheck increments the breaker evaluation counter.
func RecordBreakerCheck() { DefaultMetrics.BreakerChecks.Inc() }
