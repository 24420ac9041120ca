package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

// GetWatermark returns the pull cursor for (system, entity), or a zero-value
// watermark when no pull has succeeded yet.
func (r *Repo) GetWatermark(ctx context.Context, system, entity string) (*domain.IntegrationWatermark, error) {
	var wm domain.IntegrationWatermark
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, system, entity, last_success_source_updated_at,
		       last_success_source_id, last_success_cursor, updated_at
		FROM integration_watermarks
		WHERE tenant_id = $1 AND system = $2 AND entity = $3
	`, r.tenantID, system, entity).Scan(&wm.TenantID, &wm.System, &wm.Entity,
		&wm.LastSuccessSourceUpdatedAt, &wm.LastSuccessSourceID, &wm.LastSuccessCursor, &wm.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.IntegrationWatermark{
				TenantID: r.tenantID,
				System:   system,
				Entity:   entity,
			}, nil
		}
		return nil, err
	}
	return &wm, nil
}

// AdvanceWatermark moves the cursor forward. Callers only invoke this after
// a fully successful batch, so the cursor never regresses past failures.
func (r *Repo) AdvanceWatermark(ctx context.Context, system, entity string,
	sourceUpdatedAt *time.Time, sourceID, cursor *string, now time.Time) error {

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO integration_watermarks
			(tenant_id, system, entity, last_success_source_updated_at,
			 last_success_source_id, last_success_cursor, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, system, entity) DO UPDATE SET
			last_success_source_updated_at = excluded.last_success_source_updated_at,
			last_success_source_id = excluded.last_success_source_id,
			last_success_cursor = excluded.last_success_cursor,
			updated_at = excluded.updated_at
	`, r.tenantID, system, entity, sourceUpdatedAt, sourceID, cursor, now)
	if err != nil {
		return fmt.Errorf("store: advance watermark %s/%s: %w", system, entity, err)
	}
	return nil
}
