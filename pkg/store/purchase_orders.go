package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

const purchaseOrderCols = `tenant_id, id, number, award_id, supplier_name, status, currency,
	total_amount, erp_last_error, external_id, created_at, updated_at`

func scanPurchaseOrder(row interface{ Scan(...any) error }) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := row.Scan(&po.TenantID, &po.ID, &po.Number, &po.AwardID, &po.SupplierName, &po.Status,
		&po.Currency, &po.TotalAmount, &po.ErpLastError, &po.ExternalID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

// CreatePurchaseOrder allocates id and number and inserts the order.
func (r *Repo) CreatePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error {
	id, err := r.NextID(ctx, "purchase_order")
	if err != nil {
		return err
	}
	po.ID = id
	po.TenantID = r.tenantID
	if po.Number == "" {
		po.Number = fmt.Sprintf("PO-%06d", id)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO purchase_orders (`+purchaseOrderCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, po.TenantID, po.ID, po.Number, po.AwardID, po.SupplierName, po.Status, po.Currency,
		po.TotalAmount, po.ErpLastError, po.ExternalID, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create purchase order: %w", err)
	}
	return nil
}

// GetPurchaseOrder loads one order within the tenant.
func (r *Repo) GetPurchaseOrder(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+purchaseOrderCols+` FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id)
	return scanPurchaseOrder(row)
}

// GetPurchaseOrderByExternalID resolves an ERP-assigned id back to the order.
func (r *Repo) GetPurchaseOrderByExternalID(ctx context.Context, externalID string) (*domain.PurchaseOrder, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+purchaseOrderCols+` FROM purchase_orders
		WHERE tenant_id = $1 AND external_id = $2
	`, r.tenantID, externalID)
	return scanPurchaseOrder(row)
}

// UpdatePurchaseOrder persists mutable fields including ERP delivery state.
func (r *Repo) UpdatePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE purchase_orders
		SET number = $3, award_id = $4, supplier_name = $5, status = $6, currency = $7,
		    total_amount = $8, erp_last_error = $9, external_id = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, po.ID, po.Number, po.AwardID, po.SupplierName, po.Status, po.Currency,
		po.TotalAmount, po.ErpLastError, po.ExternalID, po.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update purchase order %d: %w", po.ID, err)
	}
	return nil
}

// SetOrderErpState updates only the ERP delivery columns. The outbox worker
// uses this so concurrent edits to other fields are never clobbered.
func (r *Repo) SetOrderErpState(ctx context.Context, id int64, status domain.OrderStatus,
	erpLastError, externalID *string, now time.Time) error {

	_, err := r.q.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $3, erp_last_error = $4, external_id = COALESCE($5, external_id), updated_at = $6
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id, status, erpLastError, externalID, now)
	if err != nil {
		return fmt.Errorf("store: set order erp state %d: %w", id, err)
	}
	return nil
}

// CreateOrderLine inserts one order line.
func (r *Repo) CreateOrderLine(ctx context.Context, line *domain.PurchaseOrderLine) error {
	id, err := r.NextID(ctx, "purchase_order_line")
	if err != nil {
		return err
	}
	line.ID = id
	line.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO purchase_order_lines
			(tenant_id, id, purchase_order_id, line_no, product_code, description, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, line.TenantID, line.ID, line.OrderID, line.LineNo, line.ProductCode, line.Description,
		line.Quantity, line.UnitPrice, line.TotalPrice)
	if err != nil {
		return fmt.Errorf("store: create order line: %w", err)
	}
	return nil
}

// ListOrderLines returns the order's lines ordered by line_no.
func (r *Repo) ListOrderLines(ctx context.Context, orderID int64) ([]domain.PurchaseOrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, purchase_order_id, line_no, product_code, description, quantity, unit_price, total_price
		FROM purchase_order_lines
		WHERE tenant_id = $1 AND purchase_order_id = $2
		ORDER BY line_no ASC
	`, r.tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []domain.PurchaseOrderLine
	for rows.Next() {
		var l domain.PurchaseOrderLine
		if err := rows.Scan(&l.TenantID, &l.ID, &l.OrderID, &l.LineNo, &l.ProductCode,
			&l.Description, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
