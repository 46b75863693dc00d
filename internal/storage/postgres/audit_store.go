package postgres

import (
	"context"
	"fmt"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Append records a security event.
func (s *AuditStore) Append(ctx context.Context, e *domain.SecurityEvent) error {
	query := `
		INSERT INTO security_events (event_type, severity, mint, detail, created_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		e.Type, string(e.Severity), e.Mint, e.Detail, e.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}
