package storage

import (
	"context"

	"memecoin-lending-oracle/internal/domain"
)

// PositionStore provides read access to open lending positions. Positions
// are owned by the external lending service; the oracle core only queries
// them for liquidation-threshold checks.
type PositionStore interface {
	// GetOpenByMint retrieves all ACTIVE positions collateralized by mint.
	GetOpenByMint(ctx context.Context, mint string) ([]*domain.Position, error)

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)
}

// PriceHistoryStore provides access to the append-only price history.
type PriceHistoryStore interface {
	// Insert appends an accepted price record.
	Insert(ctx context.Context, rec *domain.PriceRecord) error

	// GetLatest retrieves the most recent stored record for a mint.
	// Returns ErrNotFound if the mint has no history.
	GetLatest(ctx context.Context, mint string) (*domain.PriceRecord, error)

	// GetByTimeRange retrieves records for a mint within [start, end]
	// (inclusive, epoch ms), ordered by observation time ASC.
	GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.PriceRecord, error)
}

// LiquidationOutcomeStore provides access to completed liquidation outcomes,
// the circuit breaker's input.
type LiquidationOutcomeStore interface {
	// Insert adds a new outcome. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, o *domain.LiquidationOutcome) error

	// CountInWindow counts outcomes executed within [start, end] (epoch ms).
	CountInWindow(ctx context.Context, start, end int64) (int, error)

	// SumLossInWindow sums realized losses within [start, end] (epoch ms).
	SumLossInWindow(ctx context.Context, start, end int64) (float64, error)
}

// AuditStore provides append access to the security/audit log. Failures
// that touch financial risk are recorded here independently of normal
// application logging.
type AuditStore interface {
	// Append records a security event.
	Append(ctx context.Context, e *domain.SecurityEvent) error
}
