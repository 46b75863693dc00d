package domain

// Severity grades a security event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Security event types emitted by the oracle core. Anything that touches
// financial risk is recorded through these, independent of application logs.
const (
	EventProviderFailure      = "provider_failure"
	EventPriceFailover        = "price_failover"
	EventPriceUnresolved      = "price_unresolved"
	EventPriceAnomaly         = "price_anomaly"
	EventPriceRejected        = "price_rejected"
	EventStreamGaveUp         = "stream_gave_up"
	EventLiquidationTriggered = "liquidation_triggered"
	EventLiquidationFailed    = "liquidation_failed"
	EventLiquidationSkipped   = "liquidation_skipped"
	EventBreakerTripped       = "circuit_breaker_tripped"
	EventBreakerReset         = "circuit_breaker_reset"
	EventBreakerQueryFailed   = "circuit_breaker_query_failed"
	EventEndpointCredential   = "endpoint_credential_failure"
)

// SecurityEvent is an audit row describing a risk-relevant occurrence.
type SecurityEvent struct {
	Type        string   // one of the Event* constants
	Severity    Severity // event severity
	Mint        string   // affected mint, empty if not asset-scoped
	Detail      string   // human-readable context
	CreatedAtMs int64    // Unix timestamp in milliseconds
}
