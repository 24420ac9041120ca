// Package erpsync pulls ERP entities incrementally per (tenant, scope),
// advancing a watermark after each successful batch.
package erpsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/store"
)

// ErpSystem names the integrated ERP in integration_watermarks.
const ErpSystem = "senior"

// Supported pull scopes.
const (
	ScopeSupplier        = "supplier"
	ScopePurchaseRequest = "purchase_request"
	ScopePurchaseOrder   = "purchase_order"
	ScopeReceipt         = "receipt"
	ScopeQuote           = "quote"
	ScopeQuoteProcess    = "quote_process"
	ScopeQuoteSupplier   = "quote_supplier"
)

// KnownScope reports whether the scope has a mapper.
func KnownScope(scope string) bool {
	switch scope {
	case ScopeSupplier, ScopePurchaseRequest, ScopePurchaseOrder, ScopeReceipt,
		ScopeQuote, ScopeQuoteProcess, ScopeQuoteSupplier:
		return true
	}
	return false
}

func fieldStr(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldTime(fields map[string]any, key string) *time.Time {
	raw := fieldStr(fields, key)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	return nil
}

// normalizeReceiptStatus coerces free-form ERP receipt statuses onto the
// local vocabulary, logging when a value had to be guessed.
func normalizeReceiptStatus(raw string, log *slog.Logger) domain.ReceiptStatus {
	switch domain.ReceiptStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.ReceiptPending:
		return domain.ReceiptPending
	case domain.ReceiptPartiallyReceived:
		return domain.ReceiptPartiallyReceived
	case domain.ReceiptReceived:
		return domain.ReceiptReceived
	}
	lowered := strings.ToLower(raw)
	switch {
	case strings.Contains(lowered, "parcial") || strings.Contains(lowered, "partial"):
		log.Warn("receipt status coerced", "raw", raw, "normalized", domain.ReceiptPartiallyReceived)
		return domain.ReceiptPartiallyReceived
	case strings.Contains(lowered, "receb") || strings.Contains(lowered, "receiv") ||
		strings.Contains(lowered, "conclu") || strings.Contains(lowered, "complete"):
		log.Warn("receipt status coerced", "raw", raw, "normalized", domain.ReceiptReceived)
		return domain.ReceiptReceived
	default:
		log.Warn("receipt status coerced", "raw", raw, "normalized", domain.ReceiptPending)
		return domain.ReceiptPending
	}
}

// normalizeRequestStatus maps pulled request statuses onto the local set,
// defaulting to pending_rfq.
func normalizeRequestStatus(raw string) domain.RequestStatus {
	switch domain.RequestStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.RequestPendingRfq, domain.RequestInRfq, domain.RequestAwarded,
		domain.RequestOrdered, domain.RequestPartiallyReceived,
		domain.RequestReceived, domain.RequestCancelled:
		return domain.RequestStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
	return domain.RequestPendingRfq
}

func normalizePriority(raw string) domain.Priority {
	p := domain.Priority(strings.ToLower(strings.TrimSpace(raw)))
	if domain.ValidPriority(p) {
		return p
	}
	return domain.PriorityMedium
}

// upsertRecord applies one pulled record for a scope. It returns whether a
// row was created.
func upsertRecord(ctx context.Context, repo *store.Repo, scope string, rec erp.Record,
	now time.Time, log *slog.Logger) (bool, error) {

	switch scope {
	case ScopeSupplier:
		return repo.UpsertSupplierMirror(ctx, rec.ExternalID,
			fieldStr(rec.Fields, "name"), fieldStr(rec.Fields, "email"), now)

	case ScopePurchaseRequest:
		return repo.UpsertPurchaseRequestMirror(ctx, rec.ExternalID,
			fieldStr(rec.Fields, "number"),
			normalizeRequestStatus(fieldStr(rec.Fields, "status")),
			normalizePriority(fieldStr(rec.Fields, "priority")),
			fieldStr(rec.Fields, "requested_by"),
			fieldStr(rec.Fields, "department"),
			fieldTime(rec.Fields, "erp_sent_at"), now)

	case ScopePurchaseOrder:
		return upsertOrderStatus(ctx, repo, rec, now)

	case ScopeReceipt:
		return upsertReceipt(ctx, repo, rec, now, log)

	case ScopeQuote, ScopeQuoteProcess, ScopeQuoteSupplier:
		// Quote-side scopes mirror ERP-born quotation processes onto the
		// request rows they reference: the ERP's numbers land on the
		// request so the UI can link both systems.
		return upsertQuoteRefs(ctx, repo, rec, now)

	default:
		return false, fmt.Errorf("erpsync: unknown scope %q", scope)
	}
}

// upsertOrderStatus applies ERP-driven status changes to orders we pushed.
// Orders unknown locally are ignored: this system only tracks its own POs.
// Any other lookup failure fails the record so the watermark cannot advance
// past it.
func upsertOrderStatus(ctx context.Context, repo *store.Repo, rec erp.Record, now time.Time) (bool, error) {
	po, err := repo.GetPurchaseOrderByExternalID(ctx, rec.ExternalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	var next domain.OrderStatus
	switch strings.ToLower(fieldStr(rec.Fields, "status")) {
	case "partially_received", "parcial":
		next = domain.OrderPartiallyReceived
	case "received", "recebido", "concluido":
		next = domain.OrderReceived
	default:
		return false, nil
	}
	if po.Status == next {
		return false, nil
	}

	prev := string(po.Status)
	if err := repo.SetOrderErpState(ctx, po.ID, next, nil, nil, now); err != nil {
		return false, err
	}
	return false, repo.AppendStatusEvent(ctx, &domain.StatusEvent{
		Entity:     domain.EntityPurchaseOrder,
		EntityID:   po.ID,
		FromStatus: &prev,
		ToStatus:   string(next),
		Reason:     domain.ReasonErpStatusSynced,
		OccurredAt: now,
	})
}

// upsertReceipt mirrors one goods receipt and rolls its status up into the
// parent purchase order.
func upsertReceipt(ctx context.Context, repo *store.Repo, rec erp.Record,
	now time.Time, log *slog.Logger) (bool, error) {

	poExternal := fieldStr(rec.Fields, "purchase_order_external_id")
	po, err := repo.GetPurchaseOrderByExternalID(ctx, poExternal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Receipt for an order we do not track; skip without
			// failing the batch.
			return false, nil
		}
		return false, err
	}

	status := normalizeReceiptStatus(fieldStr(rec.Fields, "status"), log)
	created, err := repo.UpsertReceiptMirror(ctx, rec.ExternalID, po.ID, status,
		fieldTime(rec.Fields, "received_at"), now)
	if err != nil {
		return false, err
	}
	if created {
		if err := repo.AppendStatusEvent(ctx, &domain.StatusEvent{
			Entity:     domain.EntityReceipt,
			EntityID:   po.ID,
			ToStatus:   string(status),
			Reason:     domain.ReasonReceiptRecorded,
			OccurredAt: now,
		}); err != nil {
			return created, err
		}
	}

	var next domain.OrderStatus
	switch status {
	case domain.ReceiptPartiallyReceived:
		next = domain.OrderPartiallyReceived
	case domain.ReceiptReceived:
		next = domain.OrderReceived
	default:
		return created, nil
	}
	if po.Status == next {
		return created, nil
	}
	prev := string(po.Status)
	if err := repo.SetOrderErpState(ctx, po.ID, next, nil, nil, now); err != nil {
		return created, err
	}
	return created, repo.AppendStatusEvent(ctx, &domain.StatusEvent{
		Entity:     domain.EntityPurchaseOrder,
		EntityID:   po.ID,
		FromStatus: &prev,
		ToStatus:   string(next),
		Reason:     domain.ReasonErpStatusSynced,
		OccurredAt: now,
	})
}

// upsertQuoteRefs lands ERP quotation numbers (num_cot / num_pct) on the
// purchase request they belong to.
func upsertQuoteRefs(ctx context.Context, repo *store.Repo, rec erp.Record, now time.Time) (bool, error) {
	reqExternal := fieldStr(rec.Fields, "purchase_request_external_id")
	if reqExternal == "" {
		return false, nil
	}
	pr, err := repo.GetPurchaseRequestByExternalID(ctx, reqExternal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	changed := false
	if v := fieldStr(rec.Fields, "num_cot"); v != "" && (pr.ErpNumCot == nil || *pr.ErpNumCot != v) {
		pr.ErpNumCot = &v
		changed = true
	}
	if v := fieldStr(rec.Fields, "num_pct"); v != "" && (pr.ErpNumPct == nil || *pr.ErpNumPct != v) {
		pr.ErpNumPct = &v
		changed = true
	}
	if !changed {
		return false, nil
	}
	pr.UpdatedAt = now
	return false, repo.UpdatePurchaseRequest(ctx, pr)
}
