package clickhouse

import (
	"context"
	"fmt"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// History is append-only; MergeTree ordering by (mint, observed_at_ms) keeps
// latest-by-mint reads cheap.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Insert appends an accepted price record.
func (s *PriceHistoryStore) Insert(ctx context.Context, rec *domain.PriceRecord) error {
	if rec == nil || rec.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_history (
			mint, usd_price, native_price, price_change_24h, source, observed_at_ms, decimals
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		rec.Mint, rec.USDPrice, rec.NativePrice, rec.PriceChange24h,
		string(rec.Source), uint64(rec.ObservedAtMs), uint8(rec.Decimals),
	)
	if err != nil {
		return fmt.Errorf("insert price history row: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent stored record for a mint.
func (s *PriceHistoryStore) GetLatest(ctx context.Context, mint string) (*domain.PriceRecord, error) {
	query := `
		SELECT mint, usd_price, native_price, price_change_24h, source, observed_at_ms, decimals
		FROM price_history
		WHERE mint = ?
		ORDER BY observed_at_ms DESC
		LIMIT 1
	`

	var rec domain.PriceRecord
	var source string
	var observedAtMs uint64
	var decimals uint8

	err := s.conn.QueryRow(ctx, query, mint).Scan(
		&rec.Mint, &rec.USDPrice, &rec.NativePrice, &rec.PriceChange24h,
		&source, &observedAtMs, &decimals,
	)
	if err != nil {
		// clickhouse-go returns sql.ErrNoRows-compatible errors as plain
		// errors; an empty result set surfaces here.
		return nil, storage.ErrNotFound
	}

	rec.Source = domain.PriceSource(source)
	rec.ObservedAtMs = int64(observedAtMs)
	rec.Decimals = int(decimals)
	return &rec, nil
}

// GetByTimeRange retrieves records for a mint within [start, end] (inclusive).
func (s *PriceHistoryStore) GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.PriceRecord, error) {
	query := `
		SELECT mint, usd_price, native_price, price_change_24h, source, observed_at_ms, decimals
		FROM price_history
		WHERE mint = ? AND observed_at_ms >= ? AND observed_at_ms <= ?
		ORDER BY observed_at_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, mint, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query price history by time range: %w", err)
	}
	defer rows.Close()

	var records []*domain.PriceRecord
	for rows.Next() {
		var rec domain.PriceRecord
		var source string
		var observedAtMs uint64
		var decimals uint8

		err := rows.Scan(
			&rec.Mint, &rec.USDPrice, &rec.NativePrice, &rec.PriceChange24h,
			&source, &observedAtMs, &decimals,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}

		rec.Source = domain.PriceSource(source)
		rec.ObservedAtMs = int64(observedAtMs)
		rec.Decimals = int(decimals)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	return records, nil
}
