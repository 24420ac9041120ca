package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurahq/procura/pkg/domain"
)

const inviteCols = `tenant_id, id, rfq_id, supplier_id, token, status, expires_at,
	opened_at, submitted_at, created_at, updated_at`

func scanInvite(row interface{ Scan(...any) error }) (*domain.RfqSupplierInvite, error) {
	var inv domain.RfqSupplierInvite
	err := row.Scan(&inv.TenantID, &inv.ID, &inv.RfqID, &inv.SupplierID, &inv.Token, &inv.Status,
		&inv.ExpiresAt, &inv.OpenedAt, &inv.SubmittedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// CreateInvite inserts one supplier invite.
func (r *Repo) CreateInvite(ctx context.Context, inv *domain.RfqSupplierInvite) error {
	id, err := r.NextID(ctx, "rfq_supplier_invite")
	if err != nil {
		return err
	}
	inv.ID = id
	inv.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO rfq_supplier_invites (`+inviteCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inv.TenantID, inv.ID, inv.RfqID, inv.SupplierID, inv.Token, inv.Status, inv.ExpiresAt,
		inv.OpenedAt, inv.SubmittedAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create invite: %w", err)
	}
	return nil
}

// GetInvite loads one invite within the tenant.
func (r *Repo) GetInvite(ctx context.Context, id int64) (*domain.RfqSupplierInvite, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+inviteCols+` FROM rfq_supplier_invites
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id)
	return scanInvite(row)
}

// GetInviteByToken resolves a portal token. Tokens are globally unique but
// the lookup is still tenant-scoped: a token from another workspace is a miss.
func (r *Repo) GetInviteByToken(ctx context.Context, token string) (*domain.RfqSupplierInvite, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+inviteCols+` FROM rfq_supplier_invites
		WHERE tenant_id = $1 AND token = $2
	`, r.tenantID, token)
	return scanInvite(row)
}

// FindInviteTenantByToken resolves which tenant a portal token belongs to.
// The supplier portal is unauthenticated, so this is the one deliberate
// cross-tenant lookup in the store; it returns only the owning tenant id.
func (s *Store) FindInviteTenantByToken(ctx context.Context, token string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM rfq_supplier_invites WHERE token = $1`, token,
	).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

// UpdateInvite persists the invite's status and timestamps.
func (r *Repo) UpdateInvite(ctx context.Context, inv *domain.RfqSupplierInvite) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE rfq_supplier_invites
		SET status = $3, expires_at = $4, opened_at = $5, submitted_at = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, inv.ID, inv.Status, inv.ExpiresAt, inv.OpenedAt, inv.SubmittedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update invite %d: %w", inv.ID, err)
	}
	return nil
}

// ListInvitesForRfq returns all invites of one RFQ, newest first.
func (r *Repo) ListInvitesForRfq(ctx context.Context, rfqID int64) ([]domain.RfqSupplierInvite, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+inviteCols+` FROM rfq_supplier_invites
		WHERE tenant_id = $1 AND rfq_id = $2 ORDER BY id DESC
	`, r.tenantID, rfqID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invites []domain.RfqSupplierInvite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

// ActiveInvite returns the pending or opened invite for (rfq, supplier),
// or ErrNotFound when none is live.
func (r *Repo) ActiveInvite(ctx context.Context, rfqID, supplierID int64) (*domain.RfqSupplierInvite, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+inviteCols+` FROM rfq_supplier_invites
		WHERE tenant_id = $1 AND rfq_id = $2 AND supplier_id = $3
		  AND status IN ('pending', 'opened')
		ORDER BY id DESC LIMIT 1
	`, r.tenantID, rfqID, supplierID)
	return scanInvite(row)
}
