package postgres

import (
	"context"
	"fmt"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// LiquidationOutcomeStore implements storage.LiquidationOutcomeStore using
// PostgreSQL.
type LiquidationOutcomeStore struct {
	pool *Pool
}

// NewLiquidationOutcomeStore creates a new LiquidationOutcomeStore.
func NewLiquidationOutcomeStore(pool *Pool) *LiquidationOutcomeStore {
	return &LiquidationOutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LiquidationOutcomeStore = (*LiquidationOutcomeStore)(nil)

// Insert adds a new outcome. Returns ErrDuplicateKey if position_id exists.
func (s *LiquidationOutcomeStore) Insert(ctx context.Context, o *domain.LiquidationOutcome) error {
	query := `
		INSERT INTO liquidation_outcomes (
			position_id, mint, realized_loss, trigger_price, executed_at_ms
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		o.PositionID, o.Mint, o.RealizedLoss, o.TriggerPrice, o.ExecutedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert liquidation outcome: %w", err)
	}
	return nil
}

// CountInWindow counts outcomes executed within [start, end] (epoch ms).
func (s *LiquidationOutcomeStore) CountInWindow(ctx context.Context, start, end int64) (int, error) {
	query := `
		SELECT count(*) FROM liquidation_outcomes
		WHERE executed_at_ms >= $1 AND executed_at_ms <= $2
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("count outcomes in window: %w", err)
	}
	return count, nil
}

// SumLossInWindow sums realized losses within [start, end] (epoch ms).
func (s *LiquidationOutcomeStore) SumLossInWindow(ctx context.Context, start, end int64) (float64, error) {
	query := `
		SELECT coalesce(sum(realized_loss), 0) FROM liquidation_outcomes
		WHERE executed_at_ms >= $1 AND executed_at_ms <= $2
	`

	var sum float64
	if err := s.pool.QueryRow(ctx, query, start, end).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum losses in window: %w", err)
	}
	return sum, nil
}
