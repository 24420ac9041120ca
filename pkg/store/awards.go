package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurahq/procura/pkg/domain"
)

// CreateAward inserts the decision record for an RFQ.
func (r *Repo) CreateAward(ctx context.Context, a *domain.Award) error {
	id, err := r.NextID(ctx, "award")
	if err != nil {
		return err
	}
	a.ID = id
	a.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO awards (tenant_id, id, rfq_id, supplier_name, status, reason, purchase_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.TenantID, a.ID, a.RfqID, a.SupplierName, a.Status, a.Reason, a.PurchaseOrderID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create award: %w", err)
	}
	return nil
}

// GetAward loads one award within the tenant.
func (r *Repo) GetAward(ctx context.Context, id int64) (*domain.Award, error) {
	var a domain.Award
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, rfq_id, supplier_name, status, reason, purchase_order_id, created_at, updated_at
		FROM awards WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id).Scan(&a.TenantID, &a.ID, &a.RfqID, &a.SupplierName, &a.Status,
		&a.Reason, &a.PurchaseOrderID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// LatestAwardForRfq returns the most recent award on an RFQ, awarded or not.
func (r *Repo) LatestAwardForRfq(ctx context.Context, rfqID int64) (*domain.Award, error) {
	var a domain.Award
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, rfq_id, supplier_name, status, reason, purchase_order_id, created_at, updated_at
		FROM awards WHERE tenant_id = $1 AND rfq_id = $2
		ORDER BY id DESC LIMIT 1
	`, r.tenantID, rfqID).Scan(&a.TenantID, &a.ID, &a.RfqID, &a.SupplierName, &a.Status,
		&a.Reason, &a.PurchaseOrderID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateAward persists status and the back-reference to the order.
func (r *Repo) UpdateAward(ctx context.Context, a *domain.Award) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE awards SET supplier_name = $3, status = $4, reason = $5, purchase_order_id = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, a.ID, a.SupplierName, a.Status, a.Reason, a.PurchaseOrderID, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update award %d: %w", a.ID, err)
	}
	return nil
}
