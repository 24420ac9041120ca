package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

// RequestItemInput is one demand line of a new purchase request.
type RequestItemInput struct {
	LineNo      int     `json:"line_no,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Uom         string  `json:"uom"`
	Category    *string `json:"category,omitempty"`
}

// CreatePurchaseRequestInput is the create command payload.
type CreatePurchaseRequestInput struct {
	RequestedBy string             `json:"requested_by"`
	Department  string             `json:"department"`
	Priority    domain.Priority    `json:"priority"`
	NeededAt    *time.Time         `json:"needed_at,omitempty"`
	Items       []RequestItemInput `json:"items"`
}

// CreatePurchaseRequest creates a request with its items. Items with an
// empty description or non-positive quantity are dropped; when nothing
// survives the filter the whole command fails with items_required.
func (s *Service) CreatePurchaseRequest(ctx context.Context, in CreatePurchaseRequestInput) domain.Result {
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(in.Priority) {
		return domain.Fail(domain.Validation("invalid_priority", "priority must be one of low, medium, high, urgent"))
	}

	var valid []RequestItemInput
	for _, it := range in.Items {
		if strings.TrimSpace(it.Description) == "" || it.Quantity <= 0 {
			continue
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return domain.Fail(domain.Validation("items_required", "at least one item with description and positive quantity is required"))
	}

	now := s.now()
	pr := &domain.PurchaseRequest{
		Status:      domain.RequestPendingRfq,
		Priority:    in.Priority,
		RequestedBy: in.RequestedBy,
		Department:  in.Department,
		NeededAt:    in.NeededAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var items []domain.PurchaseRequestItem
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		if err := r.CreatePurchaseRequest(ctx, pr); err != nil {
			return domain.System(err)
		}
		for i, it := range valid {
			uom := it.Uom
			if uom == "" {
				uom = "un"
			}
			item := &domain.PurchaseRequestItem{
				RequestID:   pr.ID,
				LineNo:      i + 1,
				Description: strings.TrimSpace(it.Description),
				Quantity:    it.Quantity,
				Uom:         uom,
				Category:    it.Category,
			}
			if err := r.CreateRequestItem(ctx, item); err != nil {
				return domain.System(err)
			}
			items = append(items, *item)
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}

	return domain.OK(http.StatusCreated, map[string]any{
		"id":            pr.ID,
		"number":        pr.Number,
		"status":        pr.Status,
		"priority":      pr.Priority,
		"items_created": len(items),
		"items":         items,
	})
}

// GetPurchaseRequest returns the request, its items and the actions legal
// at its current status.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	repo, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	pr, err := repo.GetPurchaseRequest(ctx, id)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "purchase_request"))
	}
	items, err := repo.ListRequestItems(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	stage := flow.StageForPurchaseRequest(pr.Status)
	return domain.OK(http.StatusOK, map[string]any{
		"request":         pr,
		"items":           items,
		"erp_managed":     pr.ErpManaged(),
		"allowed_actions": flow.AllowedActions(stage, string(pr.Status)),
		"primary_action":  flow.PrimaryAction(stage, string(pr.Status)),
		"steps":           flow.ProcessSteps(stage),
	})
}

// UpdatePurchaseRequestInput carries the PATCH fields; nil means unchanged.
type UpdatePurchaseRequestInput struct {
	Priority   *domain.Priority `json:"priority,omitempty"`
	Department *string          `json:"department,omitempty"`
	NeededAt   *time.Time       `json:"needed_at,omitempty"`
}

// UpdatePurchaseRequest applies a partial edit. ERP-managed rows refuse.
func (s *Service) UpdatePurchaseRequest(ctx context.Context, id int64, in UpdatePurchaseRequestInput) domain.Result {
	var updated *domain.PurchaseRequest
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		pr, err := r.GetPurchaseRequest(ctx, id)
		if err != nil {
			return mapStoreErr(err, "purchase_request")
		}
		if pr.ErpManaged() {
			return domain.ErpManagedReadonly("purchase_request")
		}
		if e := guard(flow.StageForPurchaseRequest(pr.Status), string(pr.Status), domain.ActionEditRequest); e != nil {
			return e
		}

		if in.Priority != nil {
			if !domain.ValidPriority(*in.Priority) {
				return domain.Validation("invalid_priority", "priority must be one of low, medium, high, urgent")
			}
			pr.Priority = *in.Priority
		}
		if in.Department != nil {
			pr.Department = *in.Department
		}
		if in.NeededAt != nil {
			pr.NeededAt = in.NeededAt
		}
		pr.UpdatedAt = s.now()
		if err := r.UpdatePurchaseRequest(ctx, pr); err != nil {
			return domain.System(err)
		}
		updated = pr
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, updated)
}

// CancelPurchaseRequest cancels a request. Critical action.
func (s *Service) CancelPurchaseRequest(ctx context.Context, id int64, c confirm.Confirmation) domain.Result {
	var cancelled *domain.PurchaseRequest
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		pr, err := r.GetPurchaseRequest(ctx, id)
		if err != nil {
			return mapStoreErr(err, "purchase_request")
		}
		if pr.ErpManaged() {
			return domain.ErpManagedReadonly("purchase_request")
		}
		if e := guard(flow.StageForPurchaseRequest(pr.Status), string(pr.Status), domain.ActionCancelRequest); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCancelRequest, string(domain.EntityPurchaseRequest), id, c); e != nil {
			return e
		}

		now := s.now()
		prev := string(pr.Status)
		pr.Status = domain.RequestCancelled
		pr.UpdatedAt = now
		if err := r.UpdatePurchaseRequest(ctx, pr); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityPurchaseRequest, pr.ID, &prev,
			string(domain.RequestCancelled), domain.ReasonRequestCancelled, now); e != nil {
			return e
		}
		cancelled = pr
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, cancelled)
}
