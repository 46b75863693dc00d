package liquidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/observability"
	"memecoin-lending-oracle/internal/storage"
)

// BreakerConfig holds the protocol-wide risk thresholds. A zero threshold
// disables that check.
type BreakerConfig struct {
	MaxLoss1h         float64 // realized SOL loss over the trailing hour
	MaxLoss24h        float64 // realized SOL loss over the trailing day
	MaxLiquidations1h int     // liquidation count over the trailing hour
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxLiquidations1h: 10,
	}
}

// Breaker is a one-way circuit breaker over liquidation outcomes. Once
// tripped it stays tripped until an operator resets it; tripping again is
// idempotent. Failures querying its own store never trip it.
type Breaker struct {
	config   BreakerConfig
	outcomes storage.LiquidationOutcomeStore
	audit    storage.AuditStore
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	tripped bool
	reason  string
}

// NewBreaker creates a circuit breaker over the outcome store.
func NewBreaker(config BreakerConfig, outcomes storage.LiquidationOutcomeStore, audit storage.AuditStore, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		config:   config,
		outcomes: outcomes,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// Allow reports whether new liquidations may be dispatched.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.tripped
}

// State returns the current trip state and reason.
func (b *Breaker) State() (tripped bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.reason
}

// Evaluate checks the trailing loss and velocity windows and trips the
// breaker when any configured threshold is breached. An already tripped
// breaker skips the window queries; tripping is one-way, so there is
// nothing left to decide. Store failures are logged and audited but
// never trip.
func (b *Breaker) Evaluate(ctx context.Context) error {
	observability.RecordBreakerCheck()

	b.mu.Lock()
	tripped := b.tripped
	b.mu.Unlock()
	if tripped {
		return nil
	}

	nowMs := b.now().UnixMilli()
	hourAgo := nowMs - time.Hour.Milliseconds()
	dayAgo := nowMs - 24*time.Hour.Milliseconds()

	if b.config.MaxLiquidations1h > 0 {
		count, err := b.outcomes.CountInWindow(ctx, hourAgo, nowMs)
		if err != nil {
			return b.queryFailed("count liquidations in 1h window", err)
		}
		if count >= b.config.MaxLiquidations1h {
			b.Trip(fmt.Sprintf("%d liquidations in the last hour (limit %d)", count, b.config.MaxLiquidations1h))
			return nil
		}
	}

	if b.config.MaxLoss1h > 0 {
		loss, err := b.outcomes.SumLossInWindow(ctx, hourAgo, nowMs)
		if err != nil {
			return b.queryFailed("sum losses in 1h window", err)
		}
		if loss >= b.config.MaxLoss1h {
			b.Trip(fmt.Sprintf("%g SOL lost in the last hour (limit %g)", loss, b.config.MaxLoss1h))
			return nil
		}
	}

	if b.config.MaxLoss24h > 0 {
		loss, err := b.outcomes.SumLossInWindow(ctx, dayAgo, nowMs)
		if err != nil {
			return b.queryFailed("sum losses in 24h window", err)
		}
		if loss >= b.config.MaxLoss24h {
			b.Trip(fmt.Sprintf("%g SOL lost in the last 24 hours (limit %g)", loss, b.config.MaxLoss24h))
			return nil
		}
	}

	return nil
}

// Trip moves the breaker to the tripped state. Tripping an already tripped
// breaker is a no-op; the original reason is kept.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	if b.tripped {
		b.mu.Unlock()
		return
	}
	b.tripped = true
	b.reason = reason
	b.mu.Unlock()

	observability.SetBreakerTripped(true)
	b.logger.Error("circuit breaker tripped", zap.String("reason", reason))
	b.recordEvent(domain.EventBreakerTripped, domain.SeverityCritical, reason)
}

// Reset restores the breaker. Operator identity is recorded in the audit
// log; authorizing the operator is the caller's concern.
func (b *Breaker) Reset(operator string) {
	b.mu.Lock()
	wasTripped := b.tripped
	b.tripped = false
	b.reason = ""
	b.mu.Unlock()

	if !wasTripped {
		return
	}

	observability.SetBreakerTripped(false)
	b.logger.Warn("circuit breaker reset", zap.String("operator", operator))
	b.recordEvent(domain.EventBreakerReset, domain.SeverityWarning,
		fmt.Sprintf("reset by %s", operator))
}

// RunMonitor evaluates the breaker on a fixed interval until the context
// is cancelled.
func (b *Breaker) RunMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Evaluate(ctx); err != nil {
				b.logger.Warn("breaker evaluation failed", zap.Error(err))
			}
		}
	}
}

func (b *Breaker) queryFailed(op string, err error) error {
	b.logger.Error("breaker store query failed", zap.String("op", op), zap.Error(err))
	b.recordEvent(domain.EventBreakerQueryFailed, domain.SeverityWarning,
		fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%s: %w", op, err)
}

func (b *Breaker) recordEvent(eventType string, severity domain.Severity, detail string) {
	if b.audit == nil {
		return
	}
	event := &domain.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Detail:      detail,
		CreatedAtMs: b.now().UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.audit.Append(ctx, event); err != nil {
		b.logger.Warn("audit append failed", zap.String("type", eventType), zap.Error(err))
	}
}
