package erpsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/store"
)

// Config tunes the pull scheduler.
type Config struct {
	Enabled    bool
	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Limit      int
	Scopes     []string
}

// DefaultConfig matches the environment defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Interval:   time.Minute,
		MinBackoff: 30 * time.Second,
		MaxBackoff: 30 * time.Minute,
		Limit:      200,
		Scopes:     []string{ScopeSupplier, ScopePurchaseRequest, ScopePurchaseOrder, ScopeReceipt},
	}
}

type cycleKey struct {
	tenant string
	scope  string
}

// Scheduler drives incremental pulls for every (tenant, scope) pair. State
// is a per-key deadline and failure counter; everything durable lives in
// sync_runs and integration_watermarks.
type Scheduler struct {
	store   *store.Store
	gateway erp.Gateway
	cfg     Config
	log     *slog.Logger
	clock   func() time.Time

	mu        sync.Mutex
	nextRunAt map[cycleKey]time.Time
	failures  map[cycleKey]int
}

// NewScheduler builds a scheduler over the store and gateway.
func NewScheduler(st *store.Store, gw erp.Gateway, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	return &Scheduler{
		store:     st,
		gateway:   gw,
		cfg:       cfg,
		log:       log.With("component", "erpsync"),
		clock:     time.Now,
		nextRunAt: map[cycleKey]time.Time{},
		failures:  map[cycleKey]int{},
	}
}

// WithClock overrides the clock for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until the context is cancelled. Each tick walks every tenant and
// enabled scope; per-key deadlines keep failing pairs backed off without
// blocking the rest.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "sync scheduler started",
		"interval", s.cfg.Interval, "scopes", s.cfg.Scopes)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due (tenant, scope) cycle once.
func (s *Scheduler) Tick(ctx context.Context) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "list tenants failed", "error", err)
		return
	}
	now := s.clock()
	for _, t := range tenants {
		for _, scope := range s.cfg.Scopes {
			if !KnownScope(scope) {
				s.log.Warn("skipping unknown sync scope", "scope", scope)
				continue
			}
			key := cycleKey{tenant: t.ID, scope: scope}
			if !s.due(key, now) {
				continue
			}
			if _, err := s.runCycle(ctx, t.ID, scope); err != nil {
				s.log.ErrorContext(ctx, "pull cycle failed",
					"tenant_id", t.ID, "scope", scope, "error", err)
			}
		}
	}
}

// RunScope executes one synchronous pull batch, used by the admin trigger.
// The returned run carries the batch counters.
func (s *Scheduler) RunScope(ctx context.Context, tenantID, scope string) (*domain.SyncRun, error) {
	if !KnownScope(scope) {
		return nil, fmt.Errorf("erpsync: unknown scope %q", scope)
	}
	return s.runCycle(ctx, tenantID, scope)
}

func (s *Scheduler) due(key cycleKey, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.nextRunAt[key]
	return !ok || !now.Before(next)
}

func (s *Scheduler) recordSuccess(key cycleKey, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	s.nextRunAt[key] = now.Add(s.cfg.Interval)
}

// recordFailure backs the key off exponentially: min_backoff doubles per
// consecutive failure up to max_backoff.
func (s *Scheduler) recordFailure(key cycleKey, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key]++
	backoff := s.cfg.MinBackoff
	for i := 1; i < s.failures[key]; i++ {
		backoff *= 2
		if backoff >= s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
			break
		}
	}
	if backoff > s.cfg.MaxBackoff {
		backoff = s.cfg.MaxBackoff
	}
	s.nextRunAt[key] = now.Add(backoff)
}

// runCycle performs one pull batch for (tenant, scope): watermark read,
// gateway fetch, per-record upsert, watermark advance, run bookkeeping.
func (s *Scheduler) runCycle(ctx context.Context, tenantID, scope string) (*domain.SyncRun, error) {
	key := cycleKey{tenant: tenantID, scope: scope}
	now := s.clock()

	repo, err := s.store.Tenant(tenantID)
	if err != nil {
		return nil, err
	}

	running, err := repo.HasRunningSyncRun(ctx, scope)
	if err != nil {
		return nil, err
	}
	if running {
		s.log.DebugContext(ctx, "pull cycle already running",
			"tenant_id", tenantID, "scope", scope)
		return nil, nil
	}

	wm, err := repo.GetWatermark(ctx, ErpSystem, scope)
	if err != nil {
		return nil, err
	}

	run := &domain.SyncRun{
		Scope:     scope,
		Status:    domain.SyncRunning,
		Attempt:   1,
		StartedAt: now,
	}
	if err := repo.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}

	query := erp.FetchQuery{
		SinceUpdatedAt: wm.LastSuccessSourceUpdatedAt,
		Limit:          s.cfg.Limit,
	}
	if wm.LastSuccessSourceID != nil {
		query.SinceID = *wm.LastSuccessSourceID
	}

	records, err := s.gateway.FetchRecords(ctx, tenantID, scope, query)
	if err != nil {
		s.finishFailed(ctx, repo, run, now, fmt.Sprintf("fetch %s failed", scope), err)
		s.recordFailure(key, s.clock())
		return run, nil
	}

	run.RecordsIn = len(records)
	for _, rec := range records {
		if _, err := s.applyRecord(ctx, tenantID, scope, rec); err != nil {
			run.RecordsFailed++
			s.finishFailed(ctx, repo, run, now,
				fmt.Sprintf("upsert %s %s failed", scope, rec.ExternalID), err)
			s.recordFailure(key, s.clock())
			return run, nil
		}
		run.RecordsUpserted++
	}

	// The watermark only moves after the whole batch landed; empty batches
	// leave it untouched.
	if len(records) > 0 {
		last := records[len(records)-1]
		if err := repo.AdvanceWatermark(ctx, ErpSystem, scope,
			&last.UpdatedAt, &last.ExternalID, nil, s.clock()); err != nil {
			s.finishFailed(ctx, repo, run, now, "advance watermark failed", err)
			s.recordFailure(key, s.clock())
			return run, nil
		}
	}

	finished := s.clock()
	durMs := finished.Sub(now).Milliseconds()
	run.Status = domain.SyncSucceeded
	run.FinishedAt = &finished
	run.DurationMs = &durMs
	if err := repo.FinishSyncRun(ctx, run); err != nil {
		return run, err
	}
	s.recordSuccess(key, finished)

	if run.RecordsIn > 0 {
		s.log.InfoContext(ctx, "pull cycle finished",
			"tenant_id", tenantID, "scope", scope,
			"records_in", run.RecordsIn, "records_upserted", run.RecordsUpserted,
			"duration_ms", durMs)
	}
	return run, nil
}

// applyRecord upserts one record inside its own tenant transaction so a bad
// record cannot leave half a mapping behind.
func (s *Scheduler) applyRecord(ctx context.Context, tenantID, scope string, rec erp.Record) (bool, error) {
	var created bool
	err := s.store.WithTenantTx(ctx, tenantID, func(r *store.Repo) error {
		var err error
		created, err = upsertRecord(ctx, r, scope, rec, s.clock(), s.log)
		return err
	})
	return created, err
}

func (s *Scheduler) finishFailed(ctx context.Context, repo *store.Repo, run *domain.SyncRun,
	startedAt time.Time, summary string, cause error) {

	finished := s.clock()
	durMs := finished.Sub(startedAt).Milliseconds()
	run.Status = domain.SyncFailed
	run.FinishedAt = &finished
	run.DurationMs = &durMs
	sum := truncate(summary, 200)
	det := truncate(cause.Error(), 1000)
	run.ErrorSummary = &sum
	run.ErrorDetails = &det
	if err := repo.FinishSyncRun(ctx, run); err != nil {
		s.log.ErrorContext(ctx, "finish sync run failed", "sync_run_id", run.ID, "error", err)
	}
	s.log.WarnContext(ctx, "pull cycle failed",
		"tenant_id", run.TenantID, "scope", run.Scope, "summary", summary, "error", cause)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
