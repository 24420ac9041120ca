package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

const (
	inviteTokenBytes       = 24
	inviteValidDaysDefault = 7
	inviteValidDaysMax     = 30
)

// newInviteToken returns a 24-byte URL-safe random token.
func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// InviteSuppliersInput invites suppliers to quote a subset of RFQ items.
// Empty ItemIDs means every item of the RFQ.
type InviteSuppliersInput struct {
	SupplierIDs []int64 `json:"supplier_ids"`
	ItemIDs     []int64 `json:"rfq_item_ids,omitempty"`
	ValidDays   int     `json:"invite_valid_days,omitempty"`
}

// InvitedSupplier is one issued invite with its shareable URL.
type InvitedSupplier struct {
	SupplierID int64  `json:"supplier_id"`
	InviteID   int64  `json:"invite_id"`
	Token      string `json:"token"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expires_at"`
}

// InviteSuppliers idempotently binds suppliers to RFQ items and issues fresh
// invites, cancelling any prior active invite for the same pair.
func (s *Service) InviteSuppliers(ctx context.Context, rfqID int64, in InviteSuppliersInput) domain.Result {
	if len(in.SupplierIDs) == 0 {
		return domain.Fail(domain.Validation("suppliers_required", "at least one supplier id is required"))
	}
	validDays := in.ValidDays
	if validDays == 0 {
		validDays = inviteValidDaysDefault
	}
	if validDays < 1 || validDays > inviteValidDaysMax {
		return domain.Fail(domain.Validation("invalid_valid_days",
			fmt.Sprintf("invite_valid_days must be between 1 and %d", inviteValidDaysMax)))
	}

	var issued []InvitedSupplier
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		rfq, err := r.GetRfq(ctx, rfqID)
		if err != nil {
			return mapStoreErr(err, "rfq")
		}
		if e := guard(flow.StageForRfq(rfq.Status), string(rfq.Status), domain.ActionInviteSuppliers); e != nil {
			return e
		}

		itemIDs := in.ItemIDs
		if len(itemIDs) == 0 {
			items, err := r.ListRfqItems(ctx, rfqID)
			if err != nil {
				return domain.System(err)
			}
			for _, it := range items {
				itemIDs = append(itemIDs, it.ID)
			}
		}
		if len(itemIDs) == 0 {
			return domain.Validation("rfq_has_no_items", "rfq has no items to invite suppliers for")
		}

		now := s.now()
		expiresAt := now.AddDate(0, 0, validDays)

		for _, supplierID := range in.SupplierIDs {
			if _, err := r.GetSupplier(ctx, supplierID); err != nil {
				return mapStoreErr(err, "supplier")
			}
			for _, itemID := range itemIDs {
				if err := r.BindItemSupplier(ctx, itemID, supplierID); err != nil {
					return domain.System(err)
				}
			}

			// One live invite per (rfq, supplier): retire the previous one.
			if prior, err := r.ActiveInvite(ctx, rfqID, supplierID); err == nil {
				prior.Status = domain.InviteCancelled
				prior.UpdatedAt = now
				if err := r.UpdateInvite(ctx, prior); err != nil {
					return domain.System(err)
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				return domain.System(err)
			}

			token, err := newInviteToken()
			if err != nil {
				return domain.System(err)
			}
			inv := &domain.RfqSupplierInvite{
				RfqID:      rfqID,
				SupplierID: supplierID,
				Token:      token,
				Status:     domain.InvitePending,
				ExpiresAt:  expiresAt,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := r.CreateInvite(ctx, inv); err != nil {
				return domain.System(err)
			}
			issued = append(issued, InvitedSupplier{
				SupplierID: supplierID,
				InviteID:   inv.ID,
				Token:      token,
				URL:        s.publicAppURL + "/fornecedor/convite/" + token,
				ExpiresAt:  expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusCreated, map[string]any{"invites": issued})
}

// inviteExpiredError is the 410 raised when a token is past its expiry.
func inviteExpiredError() *domain.Error {
	e := domain.Validation("invite_expired", "this invitation has expired")
	e.Status = http.StatusGone
	return e
}

// OpenSupplierInvite resolves a portal token and transitions pending invites
// to opened. Expiry is applied lazily here: a past-due invite is marked
// expired before the call fails with 410, so the expiry sticks even though
// the request itself errors.
func (s *Service) OpenSupplierInvite(ctx context.Context, token string) domain.Result {
	tenantID, err := s.store.FindInviteTenantByToken(ctx, token)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "invite"))
	}
	r, err := s.store.Tenant(tenantID)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	inv, err := r.GetInviteByToken(ctx, token)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "invite"))
	}
	now := s.now()

	if inv.Status == domain.InviteCancelled {
		return domain.Fail(domain.NotFound("invite"))
	}
	if inv.Status != domain.InviteExpired && inv.Expired(now) {
		inv.Status = domain.InviteExpired
		inv.UpdatedAt = now
		if err := r.UpdateInvite(ctx, inv); err != nil {
			return domain.Fail(domain.System(err))
		}
		return domain.Fail(inviteExpiredError())
	}
	if inv.Status == domain.InviteExpired {
		return domain.Fail(inviteExpiredError())
	}

	if inv.Status == domain.InvitePending {
		inv.Status = domain.InviteOpened
		inv.OpenedAt = &now
		inv.UpdatedAt = now
		if err := r.UpdateInvite(ctx, inv); err != nil {
			return domain.Fail(domain.System(err))
		}
	}

	rfq, err := r.GetRfq(ctx, inv.RfqID)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "rfq"))
	}
	itemIDs, err := r.ItemIDsForSupplier(ctx, inv.RfqID, inv.SupplierID)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	all, err := r.ListRfqItems(ctx, inv.RfqID)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	invited := map[int64]bool{}
	for _, id := range itemIDs {
		invited[id] = true
	}
	var items []domain.RfqItem
	for _, it := range all {
		if invited[it.ID] {
			items = append(items, it)
		}
	}

	return domain.OK(http.StatusOK, map[string]any{
		"invite": inv,
		"rfq":    map[string]any{"id": rfq.ID, "title": rfq.Title},
		"items":  items,
	})
}

// CancelInvite retires an invite. Critical action.
func (s *Service) CancelInvite(ctx context.Context, inviteID int64, c confirm.Confirmation) domain.Result {
	var cancelled *domain.RfqSupplierInvite
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		inv, err := r.GetInvite(ctx, inviteID)
		if err != nil {
			return mapStoreErr(err, "invite")
		}
		if e := guard(flow.StageForInvite(inv.Status), string(inv.Status), domain.ActionCancelInvite); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCancelInvite, "invite", inviteID, c); e != nil {
			return e
		}

		now := s.now()
		inv.Status = domain.InviteCancelled
		inv.UpdatedAt = now
		if err := r.UpdateInvite(ctx, inv); err != nil {
			return domain.System(err)
		}
		cancelled = inv
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, cancelled)
}
