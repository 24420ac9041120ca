package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/procurahq/procura/pkg/domain"
)

const syncRunCols = `tenant_id, id, scope, status, attempt, parent_sync_run_id, outbox_order_id, payload_ref,
	next_attempt_at, leased_by, leased_until, started_at, finished_at, duration_ms,
	records_in, records_upserted, records_failed, error_summary, error_details`

func scanSyncRun(row interface{ Scan(...any) error }) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := row.Scan(&run.TenantID, &run.ID, &run.Scope, &run.Status, &run.Attempt,
		&run.ParentSyncRunID, &run.OutboxOrderID, &run.PayloadRef, &run.NextAttemptAt, &run.LeasedBy, &run.LeasedUntil,
		&run.StartedAt, &run.FinishedAt, &run.DurationMs,
		&run.RecordsIn, &run.RecordsUpserted, &run.RecordsFailed, &run.ErrorSummary, &run.ErrorDetails)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// CreateSyncRun inserts one run row. Outbox jobs are runs with scope
// "purchase_order" in status "running"; pull cycles start the same way and
// finish within the cycle.
func (r *Repo) CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	id, err := r.NextID(ctx, "sync_run")
	if err != nil {
		return err
	}
	run.ID = id
	run.TenantID = r.tenantID
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sync_runs (`+syncRunCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, run.TenantID, run.ID, run.Scope, run.Status, run.Attempt, run.ParentSyncRunID, run.OutboxOrderID, run.PayloadRef,
		run.NextAttemptAt, run.LeasedBy, run.LeasedUntil, run.StartedAt, run.FinishedAt, run.DurationMs,
		run.RecordsIn, run.RecordsUpserted, run.RecordsFailed, run.ErrorSummary, run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("store: create sync run: %w", err)
	}
	return nil
}

// CreateOutboxRun inserts a pending push run for one purchase order. The
// partial unique index on (tenant_id, outbox_order_id) makes the database
// the arbiter of the one-pending-run-per-order invariant: a concurrent
// duplicate lands on ON CONFLICT DO NOTHING and reports created=false.
func (r *Repo) CreateOutboxRun(ctx context.Context, run *domain.SyncRun, orderID int64) (bool, error) {
	id, err := r.NextID(ctx, "sync_run")
	if err != nil {
		return false, err
	}
	run.ID = id
	run.TenantID = r.tenantID
	run.OutboxOrderID = &orderID
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_runs (`+syncRunCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (tenant_id, outbox_order_id)
		WHERE status = 'running' AND outbox_order_id IS NOT NULL
		DO NOTHING
	`, run.TenantID, run.ID, run.Scope, run.Status, run.Attempt, run.ParentSyncRunID, run.OutboxOrderID, run.PayloadRef,
		run.NextAttemptAt, run.LeasedBy, run.LeasedUntil, run.StartedAt, run.FinishedAt, run.DurationMs,
		run.RecordsIn, run.RecordsUpserted, run.RecordsFailed, run.ErrorSummary, run.ErrorDetails)
	if err != nil {
		return false, fmt.Errorf("store: create outbox run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: create outbox run: %w", err)
	}
	return n > 0, nil
}

// GetSyncRun loads one run within the tenant.
func (r *Repo) GetSyncRun(ctx context.Context, id int64) (*domain.SyncRun, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+syncRunCols+` FROM sync_runs WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id)
	return scanSyncRun(row)
}

// FindPendingOutboxRunForOrder returns the live outbox run targeting one
// purchase order, if any. The partial unique index guarantees at most one.
func (r *Repo) FindPendingOutboxRunForOrder(ctx context.Context, orderID int64) (*domain.SyncRun, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+syncRunCols+` FROM sync_runs
		WHERE tenant_id = $1 AND scope = $2 AND status = $3 AND outbox_order_id = $4
	`, r.tenantID, domain.EntityPurchaseOrder, domain.SyncRunning, orderID)
	return scanSyncRun(row)
}

// UpdateSyncRunPayload rewrites the payload and its mirrored due column.
func (r *Repo) UpdateSyncRunPayload(ctx context.Context, id int64, payload []byte, nextAttemptAt *time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sync_runs SET payload_ref = $3, next_attempt_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id, payload, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("store: update sync run %d payload: %w", id, err)
	}
	return nil
}

// ReleaseSyncRunLease clears the lease so another worker can pick the run up.
func (r *Repo) ReleaseSyncRunLease(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sync_runs SET leased_by = NULL, leased_until = NULL
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, id)
	if err != nil {
		return fmt.Errorf("store: release sync run %d: %w", id, err)
	}
	return nil
}

// FinishSyncRun closes a run with its terminal status and counters.
func (r *Repo) FinishSyncRun(ctx context.Context, run *domain.SyncRun) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = $3, payload_ref = $4, next_attempt_at = NULL, leased_by = NULL, leased_until = NULL,
		    finished_at = $5, duration_ms = $6, records_in = $7, records_upserted = $8,
		    records_failed = $9, error_summary = $10, error_details = $11
		WHERE tenant_id = $1 AND id = $2
	`, r.tenantID, run.ID, run.Status, run.PayloadRef, run.FinishedAt, run.DurationMs,
		run.RecordsIn, run.RecordsUpserted, run.RecordsFailed, run.ErrorSummary, run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("store: finish sync run %d: %w", run.ID, err)
	}
	return nil
}

// HasRunningSyncRun reports whether a pull cycle for scope is already live,
// excluding outbox job rows (which carry a payload).
func (r *Repo) HasRunningSyncRun(ctx context.Context, scope string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sync_runs
		WHERE tenant_id = $1 AND scope = $2 AND status = $3 AND payload_ref IS NULL
	`, r.tenantID, scope, domain.SyncRunning).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListOutboxRuns returns recent outbox runs for the admin view, newest first.
func (r *Repo) ListOutboxRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+syncRunCols+` FROM sync_runs
		WHERE tenant_id = $1 AND scope = $2 AND payload_ref IS NOT NULL
		ORDER BY id DESC LIMIT $3
	`, r.tenantID, domain.EntityPurchaseOrder, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LeasedRun identifies one leased outbox run across tenants.
type LeasedRun struct {
	TenantID string
	RunID    int64
}

// LeaseDueOutboxRuns claims up to limit due, unleased outbox runs across all
// tenants with an optimistic UPDATE, then reads back what this worker won.
// Losing a race simply claims fewer rows.
func (s *Store) LeaseDueOutboxRuns(ctx context.Context, workerID string, now time.Time,
	leaseFor time.Duration, limit int) ([]LeasedRun, error) {

	if limit <= 0 {
		limit = 10
	}
	leasedUntil := now.Add(leaseFor)

	// Candidate scan first, then claim row by row. SELECT ... FOR UPDATE
	// SKIP LOCKED is not portable to SQLite, the optimistic UPDATE is.
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, id FROM sync_runs
		WHERE scope = $1 AND status = $2 AND payload_ref IS NOT NULL
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		  AND (leased_until IS NULL OR leased_until <= $3)
		ORDER BY next_attempt_at ASC, id ASC
		LIMIT $4
	`, domain.EntityPurchaseOrder, domain.SyncRunning, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: scan due outbox runs: %w", err)
	}
	var candidates []LeasedRun
	for rows.Next() {
		var c LeasedRun
		if err := rows.Scan(&c.TenantID, &c.RunID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var claimed []LeasedRun
	for _, c := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sync_runs SET leased_by = $3, leased_until = $4
			WHERE tenant_id = $1 AND id = $2 AND status = $5
			  AND (leased_until IS NULL OR leased_until <= $6)
		`, c.TenantID, c.RunID, workerID, leasedUntil, domain.SyncRunning, now)
		if err != nil {
			return claimed, fmt.Errorf("store: lease outbox run %s/%d: %w", c.TenantID, c.RunID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}
