package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/procurahq/procura/pkg/archive"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/erp/breaker"
	"github.com/procurahq/procura/pkg/observability"
	"github.com/procurahq/procura/pkg/store"
)

// Config tunes the worker loop, mirroring the ERP_OUTBOX_* settings.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	JitterRatio float64
	Interval    time.Duration
	BatchSize   int
	LeaseFor    time.Duration
}

// Worker drains due outbox runs. Pushes happen outside any database
// transaction; the outcome is reconciled in a short follow-up transaction
// where the status event and the PO update commit together.
type Worker struct {
	store   *store.Store
	gateway erp.Gateway
	brk     *breaker.Breaker
	cfg     Config
	log     *slog.Logger
	metrics *observability.WorkerMetrics
	archive archive.Store
	id      string
	clock   func() time.Time
}

// NewWorker builds a worker. archiveStore may be nil when no dead-letter
// bucket is configured.
func NewWorker(st *store.Store, gateway erp.Gateway, brk *breaker.Breaker, cfg Config,
	log *slog.Logger, meter metric.Meter, archiveStore archive.Store) (*Worker, error) {

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 2 * time.Minute
	}
	metrics, err := observability.NewWorkerMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &Worker{
		store:   st,
		gateway: gateway,
		brk:     brk,
		cfg:     cfg,
		log:     log.With("component", "outbox_worker"),
		metrics: metrics,
		archive: archiveStore,
		id:      "outbox-" + uuid.NewString()[:8],
		clock:   time.Now,
	}, nil
}

// WithClock overrides the clock for tests.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run loops until the context is cancelled, draining a batch per interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.ErrorContext(ctx, "outbox cycle failed", "error", err)
			}
		}
	}
}

// RunOnce leases and processes one batch of due runs. It returns the number
// of runs handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.clock()
	leased, err := w.store.LeaseDueOutboxRuns(ctx, w.id, now, w.cfg.LeaseFor, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, l := range leased {
		if err := w.process(ctx, l); err != nil {
			w.log.ErrorContext(ctx, "outbox run failed",
				"tenant_id", l.TenantID, "sync_run_id", l.RunID, "error", err)
		}
	}
	return len(leased), nil
}

func (w *Worker) process(ctx context.Context, l store.LeasedRun) error {
	repo, err := w.store.Tenant(l.TenantID)
	if err != nil {
		return err
	}
	run, err := repo.GetSyncRun(ctx, l.RunID)
	if err != nil {
		return err
	}
	payload, err := ParsePayload(run.PayloadRef)
	if err != nil || payload.Kind != PayloadKindPoPush {
		// Unreadable payloads cannot be retried; park them immediately.
		return w.deadLetter(ctx, repo, run, payload, "erp_contract_invalid", "erp_contract_invalid",
			fmt.Sprintf("unreadable outbox payload: %v", err))
	}
	w.metrics.Processed.Add(ctx, 1, metric.WithAttributes(observability.AttrTenantID.String(l.TenantID)))

	if err := erp.ValidateEnvelope(payload.CanonicalPo); err != nil {
		w.metrics.ContractInvalid.Add(ctx, 1)
		return w.deadLetter(ctx, repo, run, payload, "erp_contract_invalid", "erp_contract_invalid", err.Error())
	}

	if !w.brk.Allow() {
		// Short-circuit: reschedule without consuming an attempt and
		// without feeding the breaker window.
		return w.requeueSameAttempt(ctx, repo, run, payload)
	}

	result, pushErr := w.gateway.PushPurchaseOrder(ctx, mustEnvelope(payload.CanonicalPo))
	if pushErr == nil {
		w.brk.Record(true)
		return w.succeed(ctx, repo, run, payload, result)
	}

	var erpErr *erp.Error
	if errors.As(pushErr, &erpErr) && erpErr.Definitive {
		// The ERP answered; definitive rejections are not availability
		// failures, so they close the window sample as ok.
		w.brk.Record(true)
		return w.deadLetter(ctx, repo, run, payload, "erp_rejected", "erp_rejected", erpErr.Details)
	}

	w.brk.Record(false)
	return w.retryOrExhaust(ctx, repo, run, payload, pushErr)
}

// mustEnvelope decodes a canonical snapshot that already passed schema
// validation.
func mustEnvelope(raw []byte) *erp.Envelope {
	env, err := erp.DecodeEnvelope(raw)
	if err != nil {
		panic(fmt.Sprintf("validated envelope failed to decode: %v", err))
	}
	return env
}

func (w *Worker) succeed(ctx context.Context, repo *store.Repo, run *domain.SyncRun,
	payload *Payload, result *erp.PushResult) error {

	now := w.clock()
	err := w.store.WithTenantTx(ctx, repo.TenantID(), func(tx *store.Repo) error {
		po, err := tx.GetPurchaseOrder(ctx, payload.PurchaseOrderID)
		if err != nil {
			return err
		}
		prev := string(po.Status)
		externalID := result.ExternalID
		if err := tx.SetOrderErpState(ctx, po.ID, domain.OrderErpAccepted, nil, &externalID, now); err != nil {
			return err
		}
		if err := tx.AppendStatusEvent(ctx, &domain.StatusEvent{
			Entity:     domain.EntityPurchaseOrder,
			EntityID:   po.ID,
			FromStatus: &prev,
			ToStatus:   string(domain.OrderErpAccepted),
			Reason:     domain.ReasonPoPushSucceeded,
			OccurredAt: now,
		}); err != nil {
			return err
		}

		dur := now.Sub(run.StartedAt).Milliseconds()
		run.Status = domain.SyncSucceeded
		run.FinishedAt = &now
		run.DurationMs = &dur
		run.RecordsIn = 1
		run.RecordsUpserted = 1
		return tx.FinishSyncRun(ctx, run)
	})
	if err != nil {
		return err
	}
	w.metrics.Succeeded.Add(ctx, 1, metric.WithAttributes(observability.AttrTenantID.String(repo.TenantID())))
	w.log.InfoContext(ctx, "purchase order delivered to ERP",
		"tenant_id", repo.TenantID(), "purchase_order_id", payload.PurchaseOrderID,
		"sync_run_id", run.ID, "external_id", result.ExternalID)
	return nil
}

// requeueSameAttempt pushes the due time forward while the circuit is open.
// The attempt counter is untouched.
func (w *Worker) requeueSameAttempt(ctx context.Context, repo *store.Repo,
	run *domain.SyncRun, payload *Payload) error {

	now := w.clock()
	delay := Backoff(run.Attempt, w.cfg.Backoff, w.cfg.MaxBackoff, w.cfg.JitterRatio,
		fmt.Sprintf("%s/%d/circuit", repo.TenantID(), run.ID))
	due := now.Add(delay)
	payload.NextAttemptAt = &due
	raw, err := payload.Encode()
	if err != nil {
		return err
	}

	err = w.store.WithTenantTx(ctx, repo.TenantID(), func(tx *store.Repo) error {
		if err := tx.UpdateSyncRunPayload(ctx, run.ID, raw, &due); err != nil {
			return err
		}
		if err := tx.SetOrderErpState(ctx, payload.PurchaseOrderID, domain.OrderSentToErp,
			strPtr(erp.Message("erp_circuit_open")), nil, now); err != nil {
			return err
		}
		return tx.ReleaseSyncRunLease(ctx, run.ID)
	})
	if err != nil {
		return err
	}
	w.metrics.Requeued.Add(ctx, 1, metric.WithAttributes(
		observability.AttrTenantID.String(repo.TenantID()),
		observability.AttrOutcome.String("circuit_open")))
	w.metrics.RetryBackoff.Record(ctx, delay.Seconds())
	w.log.WarnContext(ctx, "circuit open, outbox run requeued",
		"tenant_id", repo.TenantID(), "sync_run_id", run.ID, "next_attempt_in", delay)
	return nil
}

func (w *Worker) retryOrExhaust(ctx context.Context, repo *store.Repo, run *domain.SyncRun,
	payload *Payload, cause error) error {

	now := w.clock()
	w.metrics.Failed.Add(ctx, 1, metric.WithAttributes(observability.AttrTenantID.String(repo.TenantID())))

	if run.Attempt >= w.cfg.MaxAttempts {
		return w.deadLetter(ctx, repo, run, payload, "erp_unavailable", "attempts_exhausted", cause.Error())
	}

	nextAttempt := run.Attempt + 1
	delay := Backoff(nextAttempt, w.cfg.Backoff, w.cfg.MaxBackoff, w.cfg.JitterRatio,
		fmt.Sprintf("%s/%d", repo.TenantID(), run.ID))
	due := now.Add(delay)

	childPayload := *payload
	childPayload.NextAttemptAt = &due
	raw, err := childPayload.Encode()
	if err != nil {
		return err
	}

	err = w.store.WithTenantTx(ctx, repo.TenantID(), func(tx *store.Repo) error {
		// Close the current attempt.
		summary := truncate(cause.Error(), 200)
		details := truncate(cause.Error(), 1000)
		dur := now.Sub(run.StartedAt).Milliseconds()
		run.Status = domain.SyncFailed
		run.FinishedAt = &now
		run.DurationMs = &dur
		run.ErrorSummary = &summary
		run.ErrorDetails = &details
		if err := tx.FinishSyncRun(ctx, run); err != nil {
			return err
		}

		// Chain the retry. The parent closed above, so the pending-run
		// index slot is free for the child.
		parent := run.ID
		child := &domain.SyncRun{
			Scope:           string(domain.EntityPurchaseOrder),
			Status:          domain.SyncRunning,
			Attempt:         nextAttempt,
			ParentSyncRunID: &parent,
			PayloadRef:      raw,
			NextAttemptAt:   &due,
			StartedAt:       now,
		}
		ok, err := tx.CreateOutboxRun(ctx, child, payload.PurchaseOrderID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("outbox: retry for order %d already pending", payload.PurchaseOrderID)
		}

		po, err := tx.GetPurchaseOrder(ctx, payload.PurchaseOrderID)
		if err != nil {
			return err
		}
		prev := string(po.Status)
		if err := tx.SetOrderErpState(ctx, po.ID, domain.OrderSentToErp,
			strPtr(erp.Message("erp_unavailable")), nil, now); err != nil {
			return err
		}
		return tx.AppendStatusEvent(ctx, &domain.StatusEvent{
			Entity:     domain.EntityPurchaseOrder,
			EntityID:   po.ID,
			FromStatus: &prev,
			ToStatus:   string(domain.OrderSentToErp),
			Reason:     domain.ReasonPoPushRetryStarted,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	w.metrics.Requeued.Add(ctx, 1, metric.WithAttributes(
		observability.AttrTenantID.String(repo.TenantID()),
		observability.AttrOutcome.String("temporary_failure")))
	w.metrics.RetryBackoff.Record(ctx, delay.Seconds())
	w.log.WarnContext(ctx, "ERP push failed, retry scheduled",
		"tenant_id", repo.TenantID(), "sync_run_id", run.ID,
		"attempt", run.Attempt, "next_attempt", nextAttempt, "next_attempt_in", delay)
	return nil
}

// deadLetter terminates a run permanently. messageCode selects the fixed
// user-safe text stored on the order; the raw cause stays in error_details.
func (w *Worker) deadLetter(ctx context.Context, repo *store.Repo, run *domain.SyncRun,
	payload *Payload, messageCode, reason, cause string) error {

	now := w.clock()
	if payload == nil {
		payload = &Payload{Kind: PayloadKindPoPush}
	}
	payload.DeadLetter = true
	payload.DeadLetterReason = reason
	payload.NextAttemptAt = nil
	raw, err := payload.Encode()
	if err != nil {
		return err
	}

	err = w.store.WithTenantTx(ctx, repo.TenantID(), func(tx *store.Repo) error {
		summary := truncate(cause, 200)
		details := truncate(cause, 1000)
		dur := now.Sub(run.StartedAt).Milliseconds()
		run.Status = domain.SyncFailed
		run.PayloadRef = raw
		run.FinishedAt = &now
		run.DurationMs = &dur
		run.RecordsFailed = 1
		run.ErrorSummary = &summary
		run.ErrorDetails = &details
		if err := tx.FinishSyncRun(ctx, run); err != nil {
			return err
		}

		if payload.PurchaseOrderID == 0 {
			return nil
		}
		po, err := tx.GetPurchaseOrder(ctx, payload.PurchaseOrderID)
		if err != nil {
			return err
		}
		prev := string(po.Status)
		if err := tx.SetOrderErpState(ctx, po.ID, domain.OrderErpError,
			strPtr(erp.Message(messageCode)), nil, now); err != nil {
			return err
		}
		return tx.AppendStatusEvent(ctx, &domain.StatusEvent{
			Entity:     domain.EntityPurchaseOrder,
			EntityID:   po.ID,
			FromStatus: &prev,
			ToStatus:   string(domain.OrderErpError),
			Reason:     domain.ReasonPoPushRejected,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}

	w.metrics.DeadLetter.Add(ctx, 1, metric.WithAttributes(
		observability.AttrTenantID.String(repo.TenantID()),
		observability.AttrOutcome.String(reason)))
	w.log.ErrorContext(ctx, "outbox run dead-lettered",
		"tenant_id", repo.TenantID(), "sync_run_id", run.ID,
		"purchase_order_id", payload.PurchaseOrderID, "reason", reason)

	if w.archive != nil {
		if err := w.archive.PutDeadLetter(ctx, repo.TenantID(), run.ID, raw); err != nil {
			w.log.WarnContext(ctx, "dead-letter archive write failed",
				"sync_run_id", run.ID, "error", err)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
