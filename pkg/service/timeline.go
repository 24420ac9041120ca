package service

import (
	"context"
	"net/http"

	"github.com/procurahq/procura/pkg/domain"
)

var timelineEntities = map[string]domain.EntityKind{
	"purchase_request": domain.EntityPurchaseRequest,
	"rfq":              domain.EntityRfq,
	"award":            domain.EntityAward,
	"purchase_order":   domain.EntityPurchaseOrder,
	"receipt":          domain.EntityReceipt,
}

// Timeline returns an entity's status history, newest first, with critical
// transitions flagged for the governance view.
func (s *Service) Timeline(ctx context.Context, entity string, entityID int64) domain.Result {
	kind, ok := timelineEntities[entity]
	if !ok {
		return domain.Fail(domain.Validation("unknown_entity", "unknown timeline entity").
			WithDetail("entity", entity))
	}

	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	events, err := r.ListStatusEvents(ctx, kind, entityID)
	if err != nil {
		return domain.Fail(domain.System(err))
	}

	type eventView struct {
		domain.StatusEvent
		Critical bool `json:"critical"`
	}
	views := make([]eventView, 0, len(events))
	// Storage order is oldest first; the timeline renders newest first.
	for i := len(events) - 1; i >= 0; i-- {
		views = append(views, eventView{
			StatusEvent: events[i],
			Critical:    domain.CriticalReasons[events[i].Reason],
		})
	}
	return domain.OK(http.StatusOK, map[string]any{
		"entity":    entity,
		"entity_id": entityID,
		"events":    views,
	})
}
