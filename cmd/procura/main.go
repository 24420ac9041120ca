// Command procura runs the procurement orchestration service: the HTTP API,
// the ERP outbox worker and the incremental pull scheduler in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/procurahq/procura/pkg/api"
	"github.com/procurahq/procura/pkg/archive"
	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/config"
	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/erp/breaker"
	"github.com/procurahq/procura/pkg/erpsync"
	"github.com/procurahq/procura/pkg/observability"
	"github.com/procurahq/procura/pkg/outbox"
	"github.com/procurahq/procura/pkg/service"
	"github.com/procurahq/procura/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Init(ctx); err != nil {
		return err
	}
	if err := st.EnsureTenant(ctx, "default", "Default", time.Now()); err != nil {
		return err
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "procura",
		ServiceVersion: "1.0.0",
		Environment:    env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTelEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	brk := breaker.New(breaker.Config{
		Enabled:            cfg.CircuitEnabled,
		ErrorRateThreshold: cfg.CircuitErrorRateThreshold,
		MinSamples:         cfg.CircuitMinSamples,
		Window:             cfg.CircuitWindow,
		OpenFor:            cfg.CircuitOpenFor,
		HalfOpenMaxCalls:   cfg.CircuitHalfOpenMaxCalls,
	})
	if err := observability.RegisterCircuitGauge(obs.Meter(), func() string {
		return string(brk.State())
	}); err != nil {
		return fmt.Errorf("register circuit gauge: %w", err)
	}

	var archiveStore archive.Store
	if cfg.ArchiveS3Bucket != "" {
		s3store, err := archive.NewS3Store(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Region)
		if err != nil {
			return fmt.Errorf("init dead-letter archive: %w", err)
		}
		archiveStore = s3store
	}

	worker, err := outbox.NewWorker(st, gateway, brk, outbox.Config{
		MaxAttempts: cfg.OutboxMaxAttempts,
		Backoff:     cfg.OutboxBackoff,
		MaxBackoff:  cfg.OutboxMaxBackoff,
		JitterRatio: cfg.OutboxJitterRatio,
		Interval:    cfg.OutboxWorkerInterval,
		BatchSize:   cfg.OutboxBatchSize,
	}, log, obs.Meter(), archiveStore)
	if err != nil {
		return fmt.Errorf("init outbox worker: %w", err)
	}

	var scheduler *erpsync.Scheduler
	if cfg.SyncEnabled {
		scheduler = erpsync.NewScheduler(st, gateway, erpsync.Config{
			Enabled:    true,
			Interval:   cfg.SyncInterval,
			MinBackoff: cfg.SyncMinBackoff,
			MaxBackoff: cfg.SyncMaxBackoff,
			Limit:      cfg.SyncLimit,
			Scopes:     cfg.SyncScopes,
		}, log)
	}

	auditLog := audit.NewLogger()
	gate := confirm.NewGate(auditLog)
	svc := service.New(st, gate, auditLog, log, cfg.PublicAppURL)

	var limiter auth.Limiter
	if cfg.RateLimitRedisAddr != "" {
		redisLimiter := auth.NewRedisLimiter(cfg.RateLimitRedisAddr, "", 0, cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = redisLimiter.Close() }()
		limiter = redisLimiter
	} else {
		limiter = auth.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	validator := auth.NewJWTValidator(cfg.JWTSecret)

	server := api.New(svc, scheduler, st, log, env).
		WithRuntimeInfo(cfg.OTelEnabled, true)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(validator, limiter, obs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go worker.Run(ctx)
	if scheduler != nil {
		go scheduler.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", cfg.Port, "erp_mode", cfg.ErpMode, "env", env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// buildGateway selects the ERP adapter by mode.
func buildGateway(cfg *config.Config) (erp.Gateway, error) {
	switch cfg.ErpMode {
	case config.ErpModeMock:
		return erp.NewMock(), nil
	case config.ErpModeSeniorCSV:
		return erp.NewCSVMirror(cfg.ErpCSVDir)
	case config.ErpModeSeniorHTTP:
		if cfg.ErpBaseURL == "" {
			return nil, fmt.Errorf("ERP_BASE_URL is required for mode %s", cfg.ErpMode)
		}
		return erp.NewHTTPGateway(cfg.ErpBaseURL, cfg.ErpTimeout), nil
	default:
		return nil, fmt.Errorf("unknown ERP_MODE %q", cfg.ErpMode)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
