package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

// EnsureTenant creates the tenant row if it does not exist yet.
func (s *Store) EnsureTenant(ctx context.Context, tenantID, name string, now time.Time) error {
	if tenantID == "" {
		return ErrNoTenant
	}
	if name == "" {
		name = tenantID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, tenantID, name, now)
	if err != nil {
		return fmt.Errorf("store: ensure tenant %s: %w", tenantID, err)
	}
	return nil
}

// GetTenant loads one tenant row.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`, tenantID,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListTenants returns all tenants, for the scheduler's fan-out.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
