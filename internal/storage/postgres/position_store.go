package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// GetOpenByMint retrieves all ACTIVE positions collateralized by mint.
func (s *PositionStore) GetOpenByMint(ctx context.Context, mint string) ([]*domain.Position, error) {
	query := `
		SELECT position_id, borrower, mint, collateral_amount, sol_borrowed,
		       liquidation_price, status, created_at_ms
		FROM positions
		WHERE mint = $1 AND status = $2
		ORDER BY created_at_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, mint, string(domain.PositionActive))
	if err != nil {
		return nil, fmt.Errorf("get open positions by mint: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `
		SELECT position_id, borrower, mint, collateral_amount, sol_borrowed,
		       liquidation_price, status, created_at_ms
		FROM positions
		WHERE position_id = $1
	`

	var p domain.Position
	var status string
	err := s.pool.QueryRow(ctx, query, positionID).Scan(
		&p.ID, &p.Borrower, &p.Mint, &p.CollateralAmount, &p.SolBorrowed,
		&p.LiquidationPrice, &status, &p.CreatedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}

	p.Status = domain.PositionStatus(status)
	return &p, nil
}

// Insert adds a new position. Used by tests and backfill tooling; the
// lending service owns writes in production.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO positions (
			position_id, borrower, mint, collateral_amount, sol_borrowed,
			liquidation_price, status, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Borrower, p.Mint, p.CollateralAmount, p.SolBorrowed,
		p.LiquidationPrice, string(p.Status), p.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// scanPositions scans multiple position rows.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var p domain.Position
		var status string

		err := rows.Scan(
			&p.ID, &p.Borrower, &p.Mint, &p.CollateralAmount, &p.SolBorrowed,
			&p.LiquidationPrice, &status, &p.CreatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}

		p.Status = domain.PositionStatus(status)
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
