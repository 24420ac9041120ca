package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

const purchaseRequestCols = `tenant_id, id, number, status, priority, requested_by, department,
	needed_at, external_id, erp_num_cot, erp_num_pct, erp_sent_at, created_at, updated_at`

func scanPurchaseRequest(row interface{ Scan(...any) error }) (*domain.PurchaseRequest, error) {
	var pr domain.PurchaseRequest
	err := row.Scan(&pr.TenantID, &pr.ID, &pr.Number, &pr.Status, &pr.Priority, &pr.RequestedBy,
		&pr.Department, &pr.NeededAt, &pr.ExternalID, &pr.ErpNumCot, &pr.ErpNumPct, &pr.ErpSentAt,
		&pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pr, nil
}

// CreatePurchaseRequest allocates the id and number and inserts the row.
func (r *Repo) CreatePurchaseRequest(ctx context.Context, pr *domain.PurchaseRequest) error {
	id, err := r.NextID(ctx, "purchase_request")
	if err != nil {
		return err
	}
	pr.ID = id
	pr.TenantID = r.tenantID
	if pr.Number == "" {
		pr.Number = fmt.Sprintf("PR-%06d", id)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO purchase_requests (`+purchaseRequestCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, pr.TenantID, pr.ID, pr.Number, pr.Status, pr.Priority, pr.RequestedBy, pr.Department,
		pr.NeededAt, pr.ExternalID, pr.ErpNumCot, pr.ErpNumPct, pr.ErpSentAt, pr.CreatedAt, pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create purchase request: %w", err)
	}
	return nil
}

// GetPurchaseRequest loads one request within the tenant.
func (r *Repo) GetPurchaseRequest(ctx context.Context, id int64) (*domain.PurchaseRequest, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+purchaseRequestCols+` FROM purchase_requests
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id)
	return scanPurchaseRequest(row)
}

// GetPurchaseRequestByExternalID resolves an ERP-mirrored request by its
// source id.
func (r *Repo) GetPurchaseRequestByExternalID(ctx context.Context, externalID string) (*domain.PurchaseRequest, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+purchaseRequestCols+` FROM purchase_requests
		WHERE tenant_id = $1 AND external_id = $2
	`, r.tenantID, externalID)
	return scanPurchaseRequest(row)
}

// UpdatePurchaseRequest persists mutable fields.
func (r *Repo) UpdatePurchaseRequest(ctx context.Context, pr *domain.PurchaseRequest) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE purchase_requests
		SET status = $3, priority = $4, requested_by = $5, department = $6, needed_at = $7,
		    external_id = $8, erp_num_cot = $9, erp_num_pct = $10, erp_sent_at = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, pr.ID, pr.Status, pr.Priority, pr.RequestedBy, pr.Department, pr.NeededAt,
		pr.ExternalID, pr.ErpNumCot, pr.ErpNumPct, pr.ErpSentAt, pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update purchase request %d: %w", pr.ID, err)
	}
	return nil
}

// DeletePurchaseRequest removes a request and its items. Used when creation
// leaves no valid items behind.
func (r *Repo) DeletePurchaseRequest(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM purchase_request_items WHERE tenant_id = $1 AND purchase_request_id = $2`,
		r.tenantID, id); err != nil {
		return fmt.Errorf("store: delete request items: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM purchase_requests WHERE tenant_id = $1 AND id = $2`,
		r.tenantID, id); err != nil {
		return fmt.Errorf("store: delete purchase request %d: %w", id, err)
	}
	return nil
}

// CreateRequestItem inserts one demand line.
func (r *Repo) CreateRequestItem(ctx context.Context, item *domain.PurchaseRequestItem) error {
	id, err := r.NextID(ctx, "purchase_request_item")
	if err != nil {
		return err
	}
	item.ID = id
	item.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO purchase_request_items
			(tenant_id, id, purchase_request_id, line_no, description, quantity, uom, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.TenantID, item.ID, item.RequestID, item.LineNo, item.Description, item.Quantity, item.Uom, item.Category)
	if err != nil {
		return fmt.Errorf("store: create request item: %w", err)
	}
	return nil
}

// ListRequestItems returns a request's lines ordered by line_no.
func (r *Repo) ListRequestItems(ctx context.Context, requestID int64) ([]domain.PurchaseRequestItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, purchase_request_id, line_no, description, quantity, uom, category
		FROM purchase_request_items
		WHERE tenant_id = $1 AND purchase_request_id = $2
		ORDER BY line_no ASC
	`, r.tenantID, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.PurchaseRequestItem
	for rows.Next() {
		var it domain.PurchaseRequestItem
		if err := rows.Scan(&it.TenantID, &it.ID, &it.RequestID, &it.LineNo, &it.Description,
			&it.Quantity, &it.Uom, &it.Category); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetRequestItem loads a single item within the tenant.
func (r *Repo) GetRequestItem(ctx context.Context, id int64) (*domain.PurchaseRequestItem, error) {
	var it domain.PurchaseRequestItem
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, purchase_request_id, line_no, description, quantity, uom, category
		FROM purchase_request_items
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id).Scan(&it.TenantID, &it.ID, &it.RequestID, &it.LineNo, &it.Description,
		&it.Quantity, &it.Uom, &it.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

// UpsertPurchaseRequestMirror applies one pulled ERP record, keyed by
// (tenant_id, external_id). Mirrored rows are read-only in the service.
func (r *Repo) UpsertPurchaseRequestMirror(ctx context.Context, externalID, number string,
	status domain.RequestStatus, priority domain.Priority, requestedBy, department string,
	erpSentAt *time.Time, now time.Time) (bool, error) {

	res, err := r.q.ExecContext(ctx, `
		UPDATE purchase_requests
		SET number = $3, status = $4, priority = $5, requested_by = $6, department = $7,
		    erp_sent_at = $8, updated_at = $9
		WHERE tenant_id = $1 AND external_id = $2
	`, r.tenantID, externalID, number, status, priority, requestedBy, department, erpSentAt, now)
	if err != nil {
		return false, fmt.Errorf("store: mirror purchase request %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	pr := &domain.PurchaseRequest{
		Number:      number,
		Status:      status,
		Priority:    priority,
		RequestedBy: requestedBy,
		Department:  department,
		ExternalID:  &externalID,
		ErpSentAt:   erpSentAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.CreatePurchaseRequest(ctx, pr); err != nil {
		return false, err
	}
	return true, nil
}
