package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/outbox"
	"github.com/procurahq/procura/pkg/store"
)

// CreatePurchaseOrderFromAward converts an award into a purchase order in
// approved. Critical action; an award can convert at most once. Lines are
// derived from the awarded supplier's quote items.
func (s *Service) CreatePurchaseOrderFromAward(ctx context.Context, awardID int64, c confirm.Confirmation) domain.Result {
	var po *domain.PurchaseOrder
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		award, err := r.GetAward(ctx, awardID)
		if err != nil {
			return mapStoreErr(err, "award")
		}
		if award.PurchaseOrderID != nil {
			return domain.Validation("award_already_converted",
				"this award already has a purchase order").
				WithDetail("purchase_order_id", *award.PurchaseOrderID)
		}
		if e := guard(flow.StageForAward(award.Status), string(award.Status), domain.ActionCreateOrder); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCreateOrder, string(domain.EntityAward), awardID, c); e != nil {
			return e
		}

		now := s.now()

		// Order lines come from the awarded supplier's quote, matched by
		// supplier name over the RFQ's quotes.
		currency := "BRL"
		var total float64
		type lineSrc struct {
			desc  string
			qty   float64
			price float64
		}
		var lines []lineSrc

		quote, e := awardedQuote(ctx, r, award.RfqID, award.SupplierName)
		if e != nil {
			return e
		}
		if quote != nil {
			rfqItems, err := r.ListRfqItems(ctx, award.RfqID)
			if err != nil {
				return domain.System(err)
			}
			itemByID := map[int64]domain.RfqItem{}
			for _, it := range rfqItems {
				itemByID[it.ID] = it
			}
			currency = quote.Currency
			qItems, err := r.ListQuoteItems(ctx, quote.ID)
			if err != nil {
				return domain.System(err)
			}
			for _, qi := range qItems {
				src := itemByID[qi.RfqItemID]
				lines = append(lines, lineSrc{desc: src.Description, qty: src.Quantity, price: qi.UnitPrice})
				total += src.Quantity * qi.UnitPrice
			}
		}
		if len(lines) == 0 {
			return domain.Validation("award_has_no_priced_items",
				"no quote items found for the awarded supplier")
		}

		po = &domain.PurchaseOrder{
			AwardID:      &awardID,
			SupplierName: award.SupplierName,
			Status:       domain.OrderApproved,
			Currency:     currency,
			TotalAmount:  total,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.CreatePurchaseOrder(ctx, po); err != nil {
			return domain.System(err)
		}
		for i, l := range lines {
			line := &domain.PurchaseOrderLine{
				OrderID:     po.ID,
				LineNo:      i + 1,
				Description: l.desc,
				Quantity:    l.qty,
				UnitPrice:   l.price,
				TotalPrice:  l.qty * l.price,
			}
			if err := r.CreateOrderLine(ctx, line); err != nil {
				return domain.System(err)
			}
		}

		award.PurchaseOrderID = &po.ID
		award.Status = domain.AwardConvertedToPo
		award.UpdatedAt = now
		if err := r.UpdateAward(ctx, award); err != nil {
			return domain.System(err)
		}

		return appendEvent(ctx, r, domain.EntityPurchaseOrder, po.ID, nil,
			string(domain.OrderApproved), domain.ReasonPoCreatedFromAward, now)
	})
	if derr != nil {
		return domain.Fail(derr)
	}

	return domain.OK(http.StatusCreated, map[string]any{
		"purchase_order_id": po.ID,
		"number":            po.Number,
		"status":            po.Status,
		"total_amount":      po.TotalAmount,
		"currency":          po.Currency,
	})
}

// awardedQuote finds the quote submitted by the awarded supplier, matched
// by supplier name. A supplier row deleted since quoting skips that quote;
// any other lookup failure aborts the conversion.
func awardedQuote(ctx context.Context, r *store.Repo, rfqID int64, supplierName string) (*domain.Quote, *domain.Error) {
	quotes, err := r.ListQuotesForRfq(ctx, rfqID)
	if err != nil {
		return nil, domain.System(err)
	}
	for i := range quotes {
		sup, err := r.GetSupplier(ctx, quotes[i].SupplierID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, domain.System(err)
		}
		if sup.Name == supplierName {
			return &quotes[i], nil
		}
	}
	return nil, nil
}

// GetPurchaseOrder returns the order, its lines, receipts and the
// presentation classification of its ERP standing.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	po, err := r.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "purchase_order"))
	}
	lines, err := r.ListOrderLines(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	receipts, err := r.ListReceiptsForOrder(ctx, id)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	retryPending := false
	if _, err := r.FindPendingOutboxRunForOrder(ctx, id); err == nil {
		retryPending = true
	}

	stage := flow.StageForPurchaseOrder(po.Status)
	return domain.OK(http.StatusOK, map[string]any{
		"order":           po,
		"lines":           lines,
		"receipts":        receipts,
		"erp_managed":     po.ErpManaged(),
		"erp_status_key":  erp.StatusKey(po.Status, retryPending),
		"allowed_actions": flow.AllowedActions(stage, string(po.Status)),
		"primary_action":  flow.PrimaryAction(stage, string(po.Status)),
		"steps":           flow.ProcessSteps(stage),
	})
}

// CancelOrder cancels a purchase order. Critical action; ERP-accepted
// orders are read-only and refuse through the flow policy.
func (s *Service) CancelOrder(ctx context.Context, id int64, c confirm.Confirmation) domain.Result {
	var cancelled *domain.PurchaseOrder
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		po, err := r.GetPurchaseOrder(ctx, id)
		if err != nil {
			return mapStoreErr(err, "purchase_order")
		}
		if po.ErpManaged() {
			return domain.ErpManagedReadonly("purchase_order")
		}
		if e := guard(flow.StageForPurchaseOrder(po.Status), string(po.Status), domain.ActionCancelOrder); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCancelOrder, string(domain.EntityPurchaseOrder), id, c); e != nil {
			return e
		}

		now := s.now()
		prev := string(po.Status)
		po.Status = domain.OrderCancelled
		po.UpdatedAt = now
		if err := r.UpdatePurchaseOrder(ctx, po); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityPurchaseOrder, po.ID, &prev,
			string(domain.OrderCancelled), domain.ReasonOrderCancelled, now); e != nil {
			return e
		}
		cancelled = po
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, cancelled)
}

// EnqueueErpPush queues a purchase order for delivery. Critical action.
// Orders already accepted return success without new work; a pending outbox
// entry makes the call idempotent and returns the existing run id.
func (s *Service) EnqueueErpPush(ctx context.Context, id int64, c confirm.Confirmation) domain.Result {
	var payload map[string]any
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		po, err := r.GetPurchaseOrder(ctx, id)
		if err != nil {
			return mapStoreErr(err, "purchase_order")
		}

		if po.Status == domain.OrderErpAccepted {
			payload = map[string]any{
				"status":           po.Status,
				"already_accepted": true,
				"queued":           false,
			}
			return nil
		}
		if existing, err := r.FindPendingOutboxRunForOrder(ctx, po.ID); err == nil {
			payload = map[string]any{
				"status":      po.Status,
				"sync_run_id": existing.ID,
				"queued":      true,
			}
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.System(err)
		}

		action := domain.ActionPushToErp
		if po.Status == domain.OrderErpError {
			action = domain.ActionRetryErpPush
		}
		if e := guard(flow.StageForPurchaseOrder(po.Status), string(po.Status), action); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, action, string(domain.EntityPurchaseOrder), id, c); e != nil {
			return e
		}

		lines, err := r.ListOrderLines(ctx, po.ID)
		if err != nil {
			return domain.System(err)
		}
		if len(lines) == 0 {
			return domain.Validation("order_has_no_lines", "purchase order has no lines to push")
		}

		now := s.now()
		runID, _, err := outbox.Enqueue(ctx, r, po, lines, now)
		if err != nil {
			return domain.System(err)
		}

		prev := string(po.Status)
		reason := domain.ReasonPoPushQueued
		if action == domain.ActionRetryErpPush {
			reason = domain.ReasonPoPushRetryStarted
		}
		po.Status = domain.OrderSentToErp
		po.ErpLastError = nil
		po.UpdatedAt = now
		if err := r.UpdatePurchaseOrder(ctx, po); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityPurchaseOrder, po.ID, &prev,
			string(domain.OrderSentToErp), reason, now); e != nil {
			return e
		}

		payload = map[string]any{
			"status":      po.Status,
			"sync_run_id": runID,
			"queued":      true,
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, payload)
}

// RetryOutboxRun re-opens a dead-lettered push as a fresh attempt chain
// rooted at the dead run. Critical action; the order returns to sent_to_erp
// and the worker picks the new run up on its next cycle.
func (s *Service) RetryOutboxRun(ctx context.Context, runID int64, c confirm.Confirmation) domain.Result {
	var out map[string]any
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		run, err := r.GetSyncRun(ctx, runID)
		if err != nil {
			return mapStoreErr(err, "sync_run")
		}
		if run.Scope != string(domain.EntityPurchaseOrder) || len(run.PayloadRef) == 0 {
			return domain.Validation("not_an_outbox_run", "sync run is not an ERP push")
		}
		p, err := outbox.ParsePayload(run.PayloadRef)
		if err != nil {
			return domain.System(err)
		}
		if run.Status != domain.SyncFailed || !p.DeadLetter {
			return &domain.Error{
				Kind:    domain.KindFlowPolicy,
				Code:    "run_not_dead_lettered",
				Message: "only dead-lettered pushes can be reopened",
				Status:  http.StatusConflict,
			}
		}

		po, err := r.GetPurchaseOrder(ctx, p.PurchaseOrderID)
		if err != nil {
			return mapStoreErr(err, "purchase_order")
		}
		if e := guard(flow.StageForPurchaseOrder(po.Status), string(po.Status), domain.ActionRetryErpPush); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionRetryErpPush, string(domain.EntityPurchaseOrder), po.ID, c); e != nil {
			return e
		}

		now := s.now()
		child := *p
		child.DeadLetter = false
		child.DeadLetterReason = ""
		child.NextAttemptAt = &now
		raw, err := child.Encode()
		if err != nil {
			return domain.System(err)
		}
		parent := run.ID
		fresh := &domain.SyncRun{
			Scope:           string(domain.EntityPurchaseOrder),
			Status:          domain.SyncRunning,
			Attempt:         1,
			ParentSyncRunID: &parent,
			PayloadRef:      raw,
			NextAttemptAt:   &now,
			StartedAt:       now,
		}
		created, err := r.CreateOutboxRun(ctx, fresh, po.ID)
		if err != nil {
			return domain.System(err)
		}
		if !created {
			existing, err := r.FindPendingOutboxRunForOrder(ctx, po.ID)
			if err != nil {
				return domain.System(err)
			}
			out = map[string]any{"sync_run_id": existing.ID, "status": po.Status, "queued": true}
			return nil
		}

		prev := string(po.Status)
		po.Status = domain.OrderSentToErp
		po.ErpLastError = nil
		po.UpdatedAt = now
		if err := r.UpdatePurchaseOrder(ctx, po); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityPurchaseOrder, po.ID, &prev,
			string(domain.OrderSentToErp), domain.ReasonPoPushRetryStarted, now); e != nil {
			return e
		}
		out = map[string]any{
			"sync_run_id":        fresh.ID,
			"parent_sync_run_id": run.ID,
			"status":             po.Status,
			"queued":             true,
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, out)
}

// ListOutboxRuns returns recent push attempts for the admin view.
func (s *Service) ListOutboxRuns(ctx context.Context, limit int) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	runs, err := r.ListOutboxRuns(ctx, limit)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	return domain.OK(http.StatusOK, map[string]any{"runs": runs})
}
