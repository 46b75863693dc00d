// Package liquidation evaluates liquidation thresholds on accepted price
// updates and gates dispatch through a protocol-wide circuit breaker.
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

// executeTimeout bounds one liquidation dispatch.
const executeTimeout = 30 * time.Second

// Executor drives the external liquidation transaction. The real signer
// lives outside this module.
type Executor interface {
	// Liquidate executes the liquidation of a position at the trigger
	// price and returns the realized outcome.
	Liquidate(ctx context.Context, position *domain.Position, triggerPrice float64) (*domain.LiquidationOutcome, error)
}

// SolReference supplies the last known SOL/USD price for converting
// USD-only records to native units.
type SolReference interface {
	CachedSolanaUSD() (float64, bool)
}

// Trigger checks accepted price records against open positions and
// dispatches liquidations, one goroutine per position.
type Trigger struct {
	positions storage.PositionStore
	outcomes  storage.LiquidationOutcomeStore
	audit     storage.AuditStore
	executor  Executor
	breaker   *Breaker
	solRef    SolReference
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewTrigger creates a liquidation trigger. The breaker and audit store
// may be nil in tests.
func NewTrigger(positions storage.PositionStore, outcomes storage.LiquidationOutcomeStore, audit storage.AuditStore, executor Executor, breaker *Breaker, solRef SolReference, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		positions: positions,
		outcomes:  outcomes,
		audit:     audit,
		executor:  executor,
		breaker:   breaker,
		solRef:    solRef,
		logger:    logger,
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

// CheckMint evaluates all open positions for a mint against an accepted
// price record. Positions at or below their liquidation price are
// dispatched asynchronously; the call itself never blocks on execution.
func (t *Trigger) CheckMint(ctx context.Context, rec *domain.PriceRecord) error {
	if rec == nil || rec.Mint == "" {
		return fmt.Errorf("nil or unkeyed price record")
	}

	nativePrice, ok := t.nativePrice(rec)
	if !ok {
		t.recordEvent(domain.EventLiquidationSkipped, domain.SeverityWarning, rec.Mint,
			"no native price and no SOL reference, check skipped")
		return nil
	}

	positions, err := t.positions.GetOpenByMint(ctx, rec.Mint)
	if err != nil {
		return fmt.Errorf("load open positions for %s: %w", rec.Mint, err)
	}

	for _, pos := range positions {
		if nativePrice > pos.LiquidationPrice {
			continue
		}

		if t.breaker != nil && !t.breaker.Allow() {
			t.recordEvent(domain.EventLiquidationSkipped, domain.SeverityWarning, rec.Mint,
				fmt.Sprintf("position %s liquidatable but circuit breaker is tripped", pos.ID))
			continue
		}

		if !t.claim(pos.ID) {
			continue
		}

		t.logger.Info("liquidation triggered",
			zap.String("position", pos.ID),
			zap.String("mint", rec.Mint),
			zap.Float64("price", nativePrice),
			zap.Float64("threshold", pos.LiquidationPrice))

		go t.execute(pos, nativePrice)
	}

	return nil
}

// nativePrice converts a record to SOL-per-token. A USD-only record divides
// by the cached SOL/USD reference; with neither, the price is unknown.
func (t *Trigger) nativePrice(rec *domain.PriceRecord) (float64, bool) {
	if rec.HasNativePrice() {
		return rec.NativePrice, true
	}
	if rec.USDPrice <= 0 || t.solRef == nil {
		return 0, false
	}
	solUSD, ok := t.solRef.CachedSolanaUSD()
	if !ok || solUSD <= 0 {
		return 0, false
	}
	return rec.USDPrice / solUSD, true
}

// claim marks a position in flight. A position already claimed is being
// liquidated by an earlier price event and must not be dispatched again.
func (t *Trigger) claim(positionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[positionID] {
		return false
	}
	t.inFlight[positionID] = true
	return true
}

func (t *Trigger) release(positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, positionID)
}

// execute runs one liquidation to completion, records the outcome and
// releases the in-flight claim.
func (t *Trigger) execute(pos *domain.Position, triggerPrice float64) {
	defer t.release(pos.ID)

	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	outcome, err := t.executor.Liquidate(ctx, pos, triggerPrice)
	if err != nil {
		observability.RecordLiquidation(true)
		t.logger.Error("liquidation execution failed",
			zap.String("position", pos.ID),
			zap.Error(err))
		t.recordEvent(domain.EventLiquidationFailed, domain.SeverityCritical, pos.Mint,
			fmt.Sprintf("position %s: %v", pos.ID, err))
		return
	}

	observability.RecordLiquidation(false)
	t.recordEvent(domain.EventLiquidationTriggered, domain.SeverityInfo, pos.Mint,
		fmt.Sprintf("position %s liquidated at %g SOL, realized loss %g", pos.ID, triggerPrice, outcome.RealizedLoss))

	if t.outcomes != nil {
		if err := t.outcomes.Insert(ctx, outcome); err != nil {
			t.logger.Error("outcome insert failed",
				zap.String("position", pos.ID),
				zap.Error(err))
		}
	}

	if t.breaker != nil {
		if err := t.breaker.Evaluate(ctx); err != nil {
			t.logger.Warn("breaker evaluation failed", zap.Error(err))
		}
	}
}

func (t *Trigger) recordEvent(eventType string, severity domain.Severity, mint, detail string) {
	if t.audit == nil {
		return
	}
	event := &domain.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Mint:        mint,
		Detail:      detail,
		CreatedAtMs: t.now().UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.audit.Append(ctx, event); err != nil {
		t.logger.Warn("audit append failed", zap.String("type", eventType), zap.Error(err))
	}
}

const persistTimeout = 10 * time.Second
