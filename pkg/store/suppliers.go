package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

// CreateSupplier inserts a locally managed supplier.
func (r *Repo) CreateSupplier(ctx context.Context, s *domain.Supplier) error {
	id, err := r.NextID(ctx, "supplier")
	if err != nil {
		return err
	}
	s.ID = id
	s.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO suppliers (tenant_id, id, name, email, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.TenantID, s.ID, s.Name, s.Email, s.ExternalID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create supplier: %w", err)
	}
	return nil
}

// GetSupplier loads one supplier within the tenant.
func (r *Repo) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	var s domain.Supplier
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, name, email, external_id, created_at, updated_at
		FROM suppliers WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id).Scan(&s.TenantID, &s.ID, &s.Name, &s.Email, &s.ExternalID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSuppliers returns the tenant's supplier directory ordered by name.
func (r *Repo) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, name, email, external_id, created_at, updated_at
		FROM suppliers WHERE tenant_id = $1 ORDER BY name ASC, id ASC
	`, r.tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var suppliers []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		if err := rows.Scan(&s.TenantID, &s.ID, &s.Name, &s.Email, &s.ExternalID,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

// UpsertSupplierMirror applies one pulled ERP supplier record, keyed by
// (tenant_id, external_id). Returns true when a new row was created.
func (r *Repo) UpsertSupplierMirror(ctx context.Context, externalID, name, email string, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE suppliers SET name = $3, email = $4, updated_at = $5
		WHERE tenant_id = $1 AND external_id = $2
	`, r.tenantID, externalID, name, email, now)
	if err != nil {
		return false, fmt.Errorf("store: mirror supplier %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	s := &domain.Supplier{
		Name:       name,
		Email:      email,
		ExternalID: &externalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.CreateSupplier(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}
