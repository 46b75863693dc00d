package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
	pgstore "memecoin-lending-oracle/internal/storage/postgres"
)

func testPosition(id, mint string, status domain.PositionStatus) *domain.Position {
	return &domain.Position{
		ID:               id,
		Borrower:         "Borrower" + id,
		Mint:             mint,
		CollateralAmount: 1_000_000,
		SolBorrowed:      2_000_000_000,
		LiquidationPrice: 0.0042,
		Status:           status,
		CreatedAtMs:      1700000000000,
	}
}

func TestPositionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewPositionStore(pool)
	ctx := context.Background()

	pos := testPosition("pos-1", "MintA", domain.PositionActive)
	require.NoError(t, store.Insert(ctx, pos))

	got, err := store.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, pos.Borrower, got.Borrower)
	assert.Equal(t, pos.Mint, got.Mint)
	assert.Equal(t, pos.CollateralAmount, got.CollateralAmount)
	assert.Equal(t, pos.SolBorrowed, got.SolBorrowed)
	assert.Equal(t, pos.LiquidationPrice, got.LiquidationPrice)
	assert.Equal(t, domain.PositionActive, got.Status)

	// Duplicate insert
	err = store.Insert(ctx, pos)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPositionStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewPositionStore(pool)
	_, err := store.GetByID(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_GetOpenByMint(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPosition("pos-1", "MintA", domain.PositionActive)))
	require.NoError(t, store.Insert(ctx, testPosition("pos-2", "MintA", domain.PositionRepaid)))
	require.NoError(t, store.Insert(ctx, testPosition("pos-3", "MintA", domain.PositionLiquidated)))
	require.NoError(t, store.Insert(ctx, testPosition("pos-4", "MintB", domain.PositionActive)))

	open, err := store.GetOpenByMint(ctx, "MintA")
	require.NoError(t, err)
	require.Len(t, open, 1, "only ACTIVE positions for the mint")
	assert.Equal(t, "pos-1", open[0].ID)

	none, err := store.GetOpenByMint(ctx, "MintZ")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLiquidationOutcomeStore_Windows(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewLiquidationOutcomeStore(pool)
	ctx := context.Background()

	outcomes := []*domain.LiquidationOutcome{
		{PositionID: "pos-1", Mint: "MintA", RealizedLoss: 10, TriggerPrice: 0.004, ExecutedAtMs: 1000},
		{PositionID: "pos-2", Mint: "MintA", RealizedLoss: 20, TriggerPrice: 0.003, ExecutedAtMs: 2000},
		{PositionID: "pos-3", Mint: "MintB", RealizedLoss: 40, TriggerPrice: 0.002, ExecutedAtMs: 3000},
	}
	for _, o := range outcomes {
		require.NoError(t, store.Insert(ctx, o))
	}

	// Duplicate position
	err := store.Insert(ctx, outcomes[0])
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	count, err := store.CountInWindow(ctx, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sum, err := store.SumLossInWindow(ctx, 1500, 3000)
	require.NoError(t, err)
	assert.Equal(t, 60.0, sum)

	// Empty window sums to zero, not an error.
	sum, err = store.SumLossInWindow(ctx, 9000, 9999)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum)
}

func TestAuditStore_Append(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewAuditStore(pool)
	ctx := context.Background()

	err := store.Append(ctx, &domain.SecurityEvent{
		Type:        domain.EventBreakerTripped,
		Severity:    domain.SeverityCritical,
		Detail:      "12 liquidations in the last hour",
		CreatedAtMs: 1700000000000,
	})
	require.NoError(t, err)

	var count int
	err = pool.QueryRow(ctx, "SELECT count(*) FROM security_events WHERE event_type = $1",
		domain.EventBreakerTripped).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
