package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

// CreateRfqInput selects purchase request items to bundle into one RFQ.
type CreateRfqInput struct {
	Title                  string  `json:"title"`
	PurchaseRequestItemIDs []int64 `json:"purchase_request_item_ids"`
}

// CreateRfq creates an RFQ in open, clones the selected items, and moves
// each parent request from pending_rfq to in_rfq.
func (s *Service) CreateRfq(ctx context.Context, in CreateRfqInput) domain.Result {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Fail(domain.Validation("title_required", "rfq title is required"))
	}
	if len(in.PurchaseRequestItemIDs) == 0 {
		return domain.Fail(domain.Validation("items_required", "at least one purchase request item id is required"))
	}

	var (
		rfq      *domain.Rfq
		rfqItems []domain.RfqItem
	)
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		now := s.now()

		// Resolve items and their parent requests first; the whole command
		// fails before any write when an id is unknown.
		parents := map[int64]*domain.PurchaseRequest{}
		var items []*domain.PurchaseRequestItem
		for _, itemID := range in.PurchaseRequestItemIDs {
			item, err := r.GetRequestItem(ctx, itemID)
			if err != nil {
				return mapStoreErr(err, "purchase_request_item")
			}
			items = append(items, item)
			if _, seen := parents[item.RequestID]; seen {
				continue
			}
			pr, err := r.GetPurchaseRequest(ctx, item.RequestID)
			if err != nil {
				return mapStoreErr(err, "purchase_request")
			}
			if pr.ErpManaged() {
				return domain.ErpManagedReadonly("purchase_request")
			}
			if e := guard(flow.StageForPurchaseRequest(pr.Status), string(pr.Status), domain.ActionCreateRfq); e != nil {
				return e
			}
			parents[pr.ID] = pr
		}

		rfq = &domain.Rfq{
			Title:     strings.TrimSpace(in.Title),
			Status:    domain.RfqOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.CreateRfq(ctx, rfq); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityRfq, rfq.ID, nil,
			string(domain.RfqOpen), domain.ReasonRfqCreated, now); e != nil {
			return e
		}

		for _, item := range items {
			ri := &domain.RfqItem{
				RfqID:         rfq.ID,
				RequestItemID: item.ID,
				Description:   item.Description,
				Quantity:      item.Quantity,
				Uom:           item.Uom,
			}
			if err := r.CreateRfqItem(ctx, ri); err != nil {
				return domain.System(err)
			}
			rfqItems = append(rfqItems, *ri)
		}

		for _, pr := range parents {
			prev := string(pr.Status)
			pr.Status = domain.RequestInRfq
			pr.UpdatedAt = now
			if err := r.UpdatePurchaseRequest(ctx, pr); err != nil {
				return domain.System(err)
			}
			if e := appendEvent(ctx, r, domain.EntityPurchaseRequest, pr.ID, &prev,
				string(domain.RequestInRfq), domain.ReasonRfqCreated, now); e != nil {
				return e
			}
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}

	return domain.OK(http.StatusCreated, map[string]any{
		"id":     rfq.ID,
		"title":  rfq.Title,
		"status": rfq.Status,
		"items":  rfqItems,
	})
}

// GetRfq returns the RFQ, its items, invites and the actions legal now.
func (s *Service) GetRfq(ctx context.Context, id int64) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	repo, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	rfq, err := repo.GetRfq(ctx, id)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "rfq"))
	}
	items, err := repo.ListRfqItems(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	invites, err := repo.ListInvitesForRfq(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	quotes, err := repo.ListQuotesForRfq(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	stage := flow.StageForRfq(rfq.Status)
	return domain.OK(http.StatusOK, map[string]any{
		"rfq":             rfq,
		"items":           items,
		"invites":         invites,
		"quotes":          quotes,
		"allowed_actions": flow.AllowedActions(stage, string(rfq.Status)),
		"primary_action":  flow.PrimaryAction(stage, string(rfq.Status)),
		"steps":           flow.ProcessSteps(stage),
	})
}

// CancelRfq cancels an RFQ. Critical action. cancelReason is free text kept
// on the row; the event reason stays in the controlled vocabulary.
func (s *Service) CancelRfq(ctx context.Context, id int64, cancelReason string, c confirm.Confirmation) domain.Result {
	var cancelled *domain.Rfq
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		rfq, err := r.GetRfq(ctx, id)
		if err != nil {
			return mapStoreErr(err, "rfq")
		}
		if e := guard(flow.StageForRfq(rfq.Status), string(rfq.Status), domain.ActionCancelRfq); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCancelRfq, string(domain.EntityRfq), id, c); e != nil {
			return e
		}

		now := s.now()
		prev := string(rfq.Status)
		rfq.Status = domain.RfqCancelled
		if reason := strings.TrimSpace(cancelReason); reason != "" {
			rfq.CancelReason = &reason
		}
		rfq.UpdatedAt = now
		if err := r.UpdateRfq(ctx, rfq); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityRfq, rfq.ID, &prev,
			string(domain.RfqCancelled), domain.ReasonRfqCancelled, now); e != nil {
			return e
		}
		cancelled = rfq
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, cancelled)
}
