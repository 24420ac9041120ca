package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurahq/procura/pkg/domain"
)

// CreateQuote inserts a quote header. Uniqueness of (rfq, supplier) is
// enforced by the schema; callers upsert via GetQuoteForSupplier first.
func (r *Repo) CreateQuote(ctx context.Context, q *domain.Quote) error {
	id, err := r.NextID(ctx, "quote")
	if err != nil {
		return err
	}
	q.ID = id
	q.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO quotes (tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, q.TenantID, q.ID, q.RfqID, q.SupplierID, q.Currency, q.Status, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create quote: %w", err)
	}
	return nil
}

// GetQuote loads one quote within the tenant.
func (r *Repo) GetQuote(ctx context.Context, id int64) (*domain.Quote, error) {
	var q domain.Quote
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at
		FROM quotes WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id).Scan(&q.TenantID, &q.ID, &q.RfqID, &q.SupplierID, &q.Currency,
		&q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// GetQuoteForSupplier returns the supplier's quote on one RFQ.
func (r *Repo) GetQuoteForSupplier(ctx context.Context, rfqID, supplierID int64) (*domain.Quote, error) {
	var q domain.Quote
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at
		FROM quotes WHERE tenant_id = $1 AND rfq_id = $2 AND supplier_id = $3
	`, r.tenantID, rfqID, supplierID).Scan(&q.TenantID, &q.ID, &q.RfqID, &q.SupplierID,
		&q.Currency, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// UpdateQuote persists the header.
func (r *Repo) UpdateQuote(ctx context.Context, q *domain.Quote) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE quotes SET currency = $3, status = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, q.ID, q.Currency, q.Status, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update quote %d: %w", q.ID, err)
	}
	return nil
}

// DeleteQuote removes a quote and its items.
func (r *Repo) DeleteQuote(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM quote_items WHERE tenant_id = $1 AND quote_id = $2`, r.tenantID, id); err != nil {
		return fmt.Errorf("store: delete quote items: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM quotes WHERE tenant_id = $1 AND id = $2`, r.tenantID, id); err != nil {
		return fmt.Errorf("store: delete quote %d: %w", id, err)
	}
	return nil
}

// UpsertQuoteItem writes one price line, replacing any previous price the
// supplier gave for the same RFQ item.
func (r *Repo) UpsertQuoteItem(ctx context.Context, item *domain.QuoteItem) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE quote_items SET unit_price = $4, lead_time_days = $5
		WHERE tenant_id = $1 AND quote_id = $2 AND rfq_item_id = $3
	`, r.tenantID, item.QuoteID, item.RfqItemID, item.UnitPrice, item.LeadTimeDays)
	if err != nil {
		return fmt.Errorf("store: upsert quote item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	id, err := r.NextID(ctx, "quote_item")
	if err != nil {
		return err
	}
	item.ID = id
	item.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO quote_items (tenant_id, id, quote_id, rfq_item_id, unit_price, lead_time_days)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.TenantID, item.ID, item.QuoteID, item.RfqItemID, item.UnitPrice, item.LeadTimeDays)
	if err != nil {
		return fmt.Errorf("store: insert quote item: %w", err)
	}
	return nil
}

// ListQuoteItems returns a quote's price lines ordered by RFQ item.
func (r *Repo) ListQuoteItems(ctx context.Context, quoteID int64) ([]domain.QuoteItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, quote_id, rfq_item_id, unit_price, lead_time_days
		FROM quote_items WHERE tenant_id = $1 AND quote_id = $2 ORDER BY rfq_item_id ASC
	`, r.tenantID, quoteID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.QuoteItem
	for rows.Next() {
		var it domain.QuoteItem
		if err := rows.Scan(&it.TenantID, &it.ID, &it.QuoteID, &it.RfqItemID,
			&it.UnitPrice, &it.LeadTimeDays); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListQuotesForRfq returns every quote on the RFQ for comparison views.
func (r *Repo) ListQuotesForRfq(ctx context.Context, rfqID int64) ([]domain.Quote, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at
		FROM quotes WHERE tenant_id = $1 AND rfq_id = $2 ORDER BY id ASC
	`, r.tenantID, rfqID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var quotes []domain.Quote
	for rows.Next() {
		var q domain.Quote
		if err := rows.Scan(&q.TenantID, &q.ID, &q.RfqID, &q.SupplierID, &q.Currency,
			&q.Status, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
