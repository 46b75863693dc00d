package liquidation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
)

// DryRunExecutor logs dispatches instead of sending transactions. It is
// the default executor until an external signer is wired in.
type DryRunExecutor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewDryRunExecutor creates a logging executor.
func NewDryRunExecutor(logger *zap.Logger) *DryRunExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunExecutor{logger: logger, now: time.Now}
}

// Compile-time interface check.
var _ Executor = (*DryRunExecutor)(nil)

// Liquidate records the would-be liquidation with zero realized loss.
func (e *DryRunExecutor) Liquidate(_ context.Context, position *domain.Position, triggerPrice float64) (*domain.LiquidationOutcome, error) {
	e.logger.Info("dry-run liquidation",
		zap.String("position", position.ID),
		zap.String("mint", position.Mint),
		zap.Float64("trigger_price", triggerPrice))

	return &domain.LiquidationOutcome{
		PositionID:   position.ID,
		Mint:         position.Mint,
		RealizedLoss: 0,
		TriggerPrice: triggerPrice,
		ExecutedAtMs: e.now().UnixMilli(),
	}, nil
}
