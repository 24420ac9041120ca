package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurahq/procura/pkg/domain"
)

// CreateRfq inserts the RFQ header.
func (r *Repo) CreateRfq(ctx context.Context, rfq *domain.Rfq) error {
	id, err := r.NextID(ctx, "rfq")
	if err != nil {
		return err
	}
	rfq.ID = id
	rfq.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO rfqs (tenant_id, id, title, status, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rfq.TenantID, rfq.ID, rfq.Title, rfq.Status, rfq.CancelReason, rfq.CreatedAt, rfq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create rfq: %w", err)
	}
	return nil
}

// GetRfq loads one RFQ within the tenant.
func (r *Repo) GetRfq(ctx context.Context, id int64) (*domain.Rfq, error) {
	var rfq domain.Rfq
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, title, status, cancel_reason, created_at, updated_at
		FROM rfqs WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id).Scan(&rfq.TenantID, &rfq.ID, &rfq.Title, &rfq.Status,
		&rfq.CancelReason, &rfq.CreatedAt, &rfq.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rfq, nil
}

// UpdateRfq persists mutable header fields.
func (r *Repo) UpdateRfq(ctx context.Context, rfq *domain.Rfq) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE rfqs SET title = $3, status = $4, cancel_reason = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, rfq.ID, rfq.Title, rfq.Status, rfq.CancelReason, rfq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update rfq %d: %w", rfq.ID, err)
	}
	return nil
}

// CreateRfqItem snapshots a request item into the RFQ.
func (r *Repo) CreateRfqItem(ctx context.Context, item *domain.RfqItem) error {
	id, err := r.NextID(ctx, "rfq_item")
	if err != nil {
		return err
	}
	item.ID = id
	item.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO rfq_items (tenant_id, id, rfq_id, purchase_request_item_id, description, quantity, uom)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.TenantID, item.ID, item.RfqID, item.RequestItemID, item.Description, item.Quantity, item.Uom)
	if err != nil {
		return fmt.Errorf("store: create rfq item: %w", err)
	}
	return nil
}

// ListRfqItems returns the RFQ's items in insertion order.
func (r *Repo) ListRfqItems(ctx context.Context, rfqID int64) ([]domain.RfqItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, rfq_id, purchase_request_item_id, description, quantity, uom
		FROM rfq_items WHERE tenant_id = $1 AND rfq_id = $2 ORDER BY id ASC
	`, r.tenantID, rfqID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.RfqItem
	for rows.Next() {
		var it domain.RfqItem
		if err := rows.Scan(&it.TenantID, &it.ID, &it.RfqID, &it.RequestItemID,
			&it.Description, &it.Quantity, &it.Uom); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// BindItemSupplier records that a supplier was asked to quote one RFQ item.
// Duplicate bindings are ignored.
func (r *Repo) BindItemSupplier(ctx context.Context, rfqItemID, supplierID int64) error {
	id, err := r.NextID(ctx, "rfq_item_supplier")
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO rfq_item_suppliers (tenant_id, id, rfq_item_id, supplier_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, rfq_item_id, supplier_id) DO NOTHING
	`, r.tenantID, id, rfqItemID, supplierID)
	if err != nil {
		return fmt.Errorf("store: bind item supplier: %w", err)
	}
	return nil
}

// ItemIDsForSupplier returns the RFQ item ids the supplier was invited to
// quote within one RFQ.
func (r *Repo) ItemIDsForSupplier(ctx context.Context, rfqID, supplierID int64) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT ris.rfq_item_id
		FROM rfq_item_suppliers ris
		JOIN rfq_items ri ON ri.tenant_id = ris.tenant_id AND ri.id = ris.rfq_item_id
		WHERE ris.tenant_id = $1 AND ri.rfq_id = $2 AND ris.supplier_id = $3
		ORDER BY ris.rfq_item_id ASC
	`, r.tenantID, rfqID, supplierID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
