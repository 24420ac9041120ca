package service

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"golang.org/x/text/currency"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

// QuoteItemInput is one priced line of a supplier proposal.
type QuoteItemInput struct {
	RfqItemID    int64   `json:"rfq_item_id"`
	UnitPrice    float64 `json:"unit_price"`
	LeadTimeDays *int    `json:"lead_time_days,omitempty"`
}

// SubmitQuoteInput is the supplier portal submission payload.
type SubmitQuoteInput struct {
	Currency string           `json:"currency,omitempty"`
	Items    []QuoteItemInput `json:"items"`
}

// validateCurrency normalizes and checks an ISO 4217 code, defaulting BRL.
func validateCurrency(code string) (string, *domain.Error) {
	if code == "" {
		return "BRL", nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", domain.Validation("invalid_currency", "currency must be a valid ISO 4217 code")
	}
	return unit.String(), nil
}

// SubmitSupplierQuote records a proposal arriving through a portal token.
// Only items the supplier was invited to are accepted; items outside the
// invitation are silently dropped from the intersection, while a payload
// made only of uninvited items fails.
func (s *Service) SubmitSupplierQuote(ctx context.Context, token string, in SubmitQuoteInput) domain.Result {
	if len(in.Items) == 0 {
		return domain.Fail(domain.Validation("items_required", "at least one priced item is required"))
	}
	cur, derr := validateCurrency(in.Currency)
	if derr != nil {
		return domain.Fail(derr)
	}
	for _, it := range in.Items {
		if it.UnitPrice < 0 {
			return domain.Fail(domain.Validation("invalid_unit_price", "unit_price must not be negative"))
		}
		if it.LeadTimeDays != nil && *it.LeadTimeDays < 0 {
			return domain.Fail(domain.Validation("invalid_lead_time", "lead_time_days must not be negative"))
		}
	}

	tenantID, err := s.store.FindInviteTenantByToken(ctx, token)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "invite"))
	}

	var (
		quote    *domain.Quote
		accepted int
	)
	var typed *domain.Error
	txErr := s.store.WithTenantTx(ctx, tenantID, func(r *store.Repo) error {
		inv, err := r.GetInviteByToken(ctx, token)
		if err != nil {
			return err
		}
		now := s.now()

		if inv.Status == domain.InviteCancelled {
			typed = domain.NotFound("invite")
			return typed
		}
		if inv.Status == domain.InviteExpired || inv.Expired(now) {
			typed = inviteExpiredError()
			return typed
		}
		if e := guard(flow.StageForInvite(inv.Status), string(inv.Status), domain.ActionSubmitQuote); e != nil {
			typed = e
			return typed
		}

		invitedIDs, err := r.ItemIDsForSupplier(ctx, inv.RfqID, inv.SupplierID)
		if err != nil {
			return err
		}
		invited := map[int64]bool{}
		for _, id := range invitedIDs {
			invited[id] = true
		}
		var priced []QuoteItemInput
		for _, it := range in.Items {
			if invited[it.RfqItemID] {
				priced = append(priced, it)
			}
		}
		if len(priced) == 0 {
			typed = domain.Validation("supplier_not_invited_for_items",
				"none of the submitted items belong to this invitation")
			offending := make([]int64, 0, len(in.Items))
			for _, it := range in.Items {
				offending = append(offending, it.RfqItemID)
			}
			typed.WithDetail("supplier_not_invited_for_items", offending)
			return typed
		}

		q, err := r.GetQuoteForSupplier(ctx, inv.RfqID, inv.SupplierID)
		if errors.Is(err, store.ErrNotFound) {
			q = &domain.Quote{
				RfqID:      inv.RfqID,
				SupplierID: inv.SupplierID,
				Currency:   cur,
				Status:     "submitted",
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := r.CreateQuote(ctx, q); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			q.Currency = cur
			q.Status = "submitted"
			q.UpdatedAt = now
			if err := r.UpdateQuote(ctx, q); err != nil {
				return err
			}
		}

		for _, it := range priced {
			item := &domain.QuoteItem{
				QuoteID:      q.ID,
				RfqItemID:    it.RfqItemID,
				UnitPrice:    it.UnitPrice,
				LeadTimeDays: it.LeadTimeDays,
			}
			if err := r.UpsertQuoteItem(ctx, item); err != nil {
				return err
			}
		}

		inv.Status = domain.InviteSubmitted
		inv.SubmittedAt = &now
		inv.UpdatedAt = now
		if err := r.UpdateInvite(ctx, inv); err != nil {
			return err
		}

		rfq, err := r.GetRfq(ctx, inv.RfqID)
		if err != nil {
			return err
		}
		if rfq.Status != domain.RfqCollectingQuotes {
			prev := string(rfq.Status)
			rfq.Status = domain.RfqCollectingQuotes
			rfq.UpdatedAt = now
			if err := r.UpdateRfq(ctx, rfq); err != nil {
				return err
			}
			if e := appendEvent(ctx, r, domain.EntityRfq, rfq.ID, &prev,
				string(domain.RfqCollectingQuotes), domain.ReasonQuoteReceived, now); e != nil {
				typed = e
				return typed
			}
		}

		quote = q
		accepted = len(priced)
		return nil
	})
	if typed != nil {
		return domain.Fail(typed)
	}
	if txErr != nil {
		return domain.Fail(mapStoreErr(txErr, "invite"))
	}

	return domain.OK(http.StatusCreated, map[string]any{
		"quote_id":       quote.ID,
		"currency":       quote.Currency,
		"items_accepted": accepted,
	})
}

// SaveSupplierQuote is the internal (buyer-side) variant: every submitted
// rfq_item_id must belong to the supplier's invitation, partial acceptance
// is forbidden and the offending ids are echoed back.
func (s *Service) SaveSupplierQuote(ctx context.Context, rfqID, supplierID int64, in SubmitQuoteInput) domain.Result {
	if len(in.Items) == 0 {
		return domain.Fail(domain.Validation("items_required", "at least one priced item is required"))
	}
	cur, derr := validateCurrency(in.Currency)
	if derr != nil {
		return domain.Fail(derr)
	}
	for _, it := range in.Items {
		if it.UnitPrice < 0 {
			return domain.Fail(domain.Validation("invalid_unit_price", "unit_price must not be negative"))
		}
		if it.LeadTimeDays != nil && *it.LeadTimeDays < 0 {
			return domain.Fail(domain.Validation("invalid_lead_time", "lead_time_days must not be negative"))
		}
	}

	var quote *domain.Quote
	err := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		if _, err := r.GetRfq(ctx, rfqID); err != nil {
			return mapStoreErr(err, "rfq")
		}
		invitedIDs, err := r.ItemIDsForSupplier(ctx, rfqID, supplierID)
		if err != nil {
			return domain.System(err)
		}
		invited := map[int64]bool{}
		for _, id := range invitedIDs {
			invited[id] = true
		}
		var offending []int64
		for _, it := range in.Items {
			if !invited[it.RfqItemID] {
				offending = append(offending, it.RfqItemID)
			}
		}
		if len(offending) > 0 {
			sort.Slice(offending, func(i, j int) bool { return offending[i] < offending[j] })
			e := domain.Validation("supplier_not_invited_for_items",
				"supplier was not invited for some of the submitted items")
			e.WithDetail("supplier_not_invited_for_items", offending)
			return e
		}

		now := s.now()
		q, qerr := r.GetQuoteForSupplier(ctx, rfqID, supplierID)
		if errors.Is(qerr, store.ErrNotFound) {
			q = &domain.Quote{
				RfqID:      rfqID,
				SupplierID: supplierID,
				Currency:   cur,
				Status:     "draft",
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := r.CreateQuote(ctx, q); err != nil {
				return domain.System(err)
			}
		} else if qerr != nil {
			return domain.System(qerr)
		} else {
			q.Currency = cur
			q.UpdatedAt = now
			if err := r.UpdateQuote(ctx, q); err != nil {
				return domain.System(err)
			}
		}

		for _, it := range in.Items {
			item := &domain.QuoteItem{
				QuoteID:      q.ID,
				RfqItemID:    it.RfqItemID,
				UnitPrice:    it.UnitPrice,
				LeadTimeDays: it.LeadTimeDays,
			}
			if err := r.UpsertQuoteItem(ctx, item); err != nil {
				return domain.System(err)
			}
		}
		quote = q
		return nil
	})
	if err != nil {
		return domain.Fail(err)
	}
	return domain.OK(http.StatusOK, quote)
}

// CompareQuotes returns every quote on the RFQ with its priced lines, for
// the decision screen.
func (s *Service) CompareQuotes(ctx context.Context, rfqID int64) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	if _, err := r.GetRfq(ctx, rfqID); err != nil {
		return domain.Fail(mapStoreErr(err, "rfq"))
	}
	quotes, err := r.ListQuotesForRfq(ctx, rfqID)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	type quoteView struct {
		Quote    domain.Quote       `json:"quote"`
		Supplier *domain.Supplier   `json:"supplier,omitempty"`
		Items    []domain.QuoteItem `json:"items"`
	}
	views := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		items, err := r.ListQuoteItems(ctx, q.ID)
		if err != nil {
			return domain.Fail(domain.System(err))
		}
		v := quoteView{Quote: q, Items: items}
		if sup, err := r.GetSupplier(ctx, q.SupplierID); err == nil {
			v.Supplier = sup
		}
		views = append(views, v)
	}
	return domain.OK(http.StatusOK, map[string]any{"rfq_id": rfqID, "quotes": views})
}

// DeleteSupplierProposal removes a supplier's quote. Critical action. A
// submitted invite is downgraded back to opened so the supplier can price
// again.
func (s *Service) DeleteSupplierProposal(ctx context.Context, rfqID, supplierID int64, c confirm.Confirmation) domain.Result {
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		q, err := r.GetQuoteForSupplier(ctx, rfqID, supplierID)
		if err != nil {
			return mapStoreErr(err, "quote")
		}
		if e := s.gate.Require(ctx, domain.ActionDeleteProposal, "quote", q.ID, c); e != nil {
			return e
		}

		now := s.now()
		if err := r.DeleteQuote(ctx, q.ID); err != nil {
			return domain.System(err)
		}

		invites, err := r.ListInvitesForRfq(ctx, rfqID)
		if err != nil {
			return domain.System(err)
		}
		for i := range invites {
			inv := &invites[i]
			if inv.SupplierID == supplierID && inv.Status == domain.InviteSubmitted {
				inv.Status = domain.InviteOpened
				inv.SubmittedAt = nil
				inv.UpdatedAt = now
				if err := r.UpdateInvite(ctx, inv); err != nil {
					return domain.System(err)
				}
			}
		}
		return appendEvent(ctx, r, domain.EntityRfq, rfqID, nil,
			string(domain.RfqCollectingQuotes), domain.ReasonProposalDeleted, now)
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, map[string]any{"deleted": true})
}
