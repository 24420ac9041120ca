package store

import (
	"context"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

// UpsertReceiptMirror applies one pulled goods-receipt record, keyed by
// (tenant_id, external_id). Returns true when a new row was created.
func (r *Repo) UpsertReceiptMirror(ctx context.Context, externalID string, orderID int64,
	status domain.ReceiptStatus, receivedAt *time.Time, now time.Time) (bool, error) {

	res, err := r.q.ExecContext(ctx, `
		UPDATE receipts SET purchase_order_id = $3, status = $4, received_at = $5, updated_at = $6
		WHERE tenant_id = $1 AND external_id = $2
	`, r.tenantID, externalID, orderID, status, receivedAt, now)
	if err != nil {
		return false, fmt.Errorf("store: mirror receipt %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	id, err := r.NextID(ctx, "receipt")
	if err != nil {
		return false, err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO receipts (tenant_id, id, purchase_order_id, external_id, status, received_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tenantID, id, orderID, externalID, status, receivedAt, now, now)
	if err != nil {
		return false, fmt.Errorf("store: create receipt: %w", err)
	}
	return true, nil
}

// ListReceiptsForOrder returns the order's receipts, oldest first.
func (r *Repo) ListReceiptsForOrder(ctx context.Context, orderID int64) ([]domain.Receipt, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, purchase_order_id, external_id, status, received_at, created_at, updated_at
		FROM receipts WHERE tenant_id = $1 AND purchase_order_id = $2 ORDER BY id ASC
	`, r.tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []domain.Receipt
	for rows.Next() {
		var rec domain.Receipt
		if err := rows.Scan(&rec.TenantID, &rec.ID, &rec.OrderID, &rec.ExternalID,
			&rec.Status, &rec.ReceivedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}
