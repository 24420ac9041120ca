package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/store"
)

// BuildEnvelope snapshots a purchase order and its lines into the canonical
// push envelope. external_ref is the local PO id rendered as a string.
func BuildEnvelope(po *domain.PurchaseOrder, lines []domain.PurchaseOrderLine) *erp.Envelope {
	env := &erp.Envelope{
		SchemaName:    erp.SchemaName,
		SchemaVersion: erp.SchemaVersion,
		WorkspaceID:   po.TenantID,
		ExternalRef:   strconv.FormatInt(po.ID, 10),
		SupplierName:  po.SupplierName,
		Currency:      po.Currency,
		TotalAmount:   po.TotalAmount,
	}
	if po.Number != "" {
		n := po.Number
		env.Number = &n
	}
	for _, l := range lines {
		line := erp.Line{
			LineNo:      l.LineNo,
			ProductCode: l.ProductCode,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
		if l.Description != "" {
			d := l.Description
			line.Description = &d
		}
		tp := l.TotalPrice
		line.TotalPrice = &tp
		env.Lines = append(env.Lines, line)
	}
	return env
}

// Enqueue creates the pending outbox run for a purchase order, snapshotting
// the canonical envelope now. Enqueue is idempotent: when a pending run
// already exists its id is returned with created=false.
//
// Callers run this inside the same transaction as the PO status change so
// the queued event and the outbox row commit together.
func Enqueue(ctx context.Context, repo *store.Repo, po *domain.PurchaseOrder,
	lines []domain.PurchaseOrderLine, now time.Time) (runID int64, created bool, err error) {

	existing, err := repo.FindPendingOutboxRunForOrder(ctx, po.ID)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, err
	}

	env := BuildEnvelope(po, lines)
	canonical, err := json.Marshal(env)
	if err != nil {
		return 0, false, fmt.Errorf("outbox: marshal envelope: %w", err)
	}
	hash, err := erp.ContentHash(env)
	if err != nil {
		return 0, false, fmt.Errorf("outbox: hash envelope: %w", err)
	}

	due := now
	payload := &Payload{
		Kind:            PayloadKindPoPush,
		PurchaseOrderID: po.ID,
		NextAttemptAt:   &due,
		CanonicalPo:     canonical,
		ContentHash:     hash,
	}
	raw, err := payload.Encode()
	if err != nil {
		return 0, false, err
	}

	run := &domain.SyncRun{
		Scope:         string(domain.EntityPurchaseOrder),
		Status:        domain.SyncRunning,
		Attempt:       1,
		PayloadRef:    raw,
		NextAttemptAt: &due,
		StartedAt:     now,
	}
	ok, err := repo.CreateOutboxRun(ctx, run, po.ID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		// A concurrent enqueue won the unique index; hand back its run.
		existing, err := repo.FindPendingOutboxRunForOrder(ctx, po.ID)
		if err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}
	return run.ID, true, nil
}
