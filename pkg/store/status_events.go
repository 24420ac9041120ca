package store

import (
	"context"
	"fmt"

	"github.com/procurahq/procura/pkg/domain"
)

// AppendStatusEvent writes one transition record. The table is append-only;
// no update or delete path exists.
func (r *Repo) AppendStatusEvent(ctx context.Context, ev *domain.StatusEvent) error {
	id, err := r.NextID(ctx, "status_event")
	if err != nil {
		return err
	}
	ev.ID = id
	ev.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO status_events (tenant_id, id, entity, entity_id, from_status, to_status, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.TenantID, ev.ID, ev.Entity, ev.EntityID, ev.FromStatus, ev.ToStatus, ev.Reason, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("store: append status event: %w", err)
	}
	return nil
}

// ListStatusEvents returns an entity's transition history in insertion
// order, which is also chronological within a tenant.
func (r *Repo) ListStatusEvents(ctx context.Context, entity domain.EntityKind, entityID int64) ([]domain.StatusEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, id, entity, entity_id, from_status, to_status, reason, occurred_at
		FROM status_events
		WHERE tenant_id = $1 AND entity = $2 AND entity_id = $3
		ORDER BY id ASC
	`, r.tenantID, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []domain.StatusEvent
	for rows.Next() {
		var ev domain.StatusEvent
		if err := rows.Scan(&ev.TenantID, &ev.ID, &ev.Entity, &ev.EntityID, &ev.FromStatus,
			&ev.ToStatus, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
