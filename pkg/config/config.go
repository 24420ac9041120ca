// Package config loads the typed service configuration from environment
// variables, optionally overridden by a YAML profile file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ErpMode selects the gateway implementation.
type ErpMode string

const (
	ErpModeMock      ErpMode = "mock"
	ErpModeSeniorCSV ErpMode = "senior_csv"
	ErpModeSeniorHTTP ErpMode = "senior_http"
)

// Config holds every tunable of the service.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string
	PublicAppURL string
	JWTSecret    string

	// ERP gateway
	ErpMode           ErpMode
	ErpBaseURL        string
	ErpCSVDir         string
	ErpTimeout        time.Duration

	// Outbox
	OutboxMaxAttempts    int
	OutboxBackoff        time.Duration
	OutboxMaxBackoff     time.Duration
	OutboxJitterRatio    float64
	OutboxWorkerInterval time.Duration
	OutboxBatchSize      int

	// Circuit breaker
	CircuitEnabled          bool
	CircuitErrorRateThreshold float64
	CircuitMinSamples       int
	CircuitWindow           time.Duration
	CircuitOpenFor          time.Duration
	CircuitHalfOpenMaxCalls int

	// Sync scheduler
	SyncEnabled    bool
	SyncInterval   time.Duration
	SyncMinBackoff time.Duration
	SyncMaxBackoff time.Duration
	SyncLimit      int
	SyncScopes     []string

	// Rate limiting
	RateLimitRPS       int
	RateLimitBurst     int
	RateLimitRedisAddr string

	// Dead-letter archive
	ArchiveS3Bucket string
	ArchiveS3Region string

	// Observability
	OTLPEndpoint string
	OTelEnabled  bool
}

// Load reads configuration from the environment with production defaults,
// then applies the YAML profile named by PROCURA_PROFILE when set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         envStr("PORT", "8080"),
		LogLevel:     envStr("LOG_LEVEL", "INFO"),
		DatabaseURL:  envStr("DATABASE_URL", "postgres://procura@localhost:5432/procura?sslmode=disable"),
		PublicAppURL: envStr("PUBLIC_APP_URL", "http://localhost:8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		ErpMode:    ErpMode(envStr("ERP_MODE", string(ErpModeMock))),
		ErpBaseURL: os.Getenv("ERP_BASE_URL"),
		ErpCSVDir:  envStr("ERP_CSV_DIR", "./erp-mirror"),
		ErpTimeout: envSeconds("ERP_TIMEOUT_SECONDS", 30),

		OutboxMaxAttempts:    envInt("ERP_OUTBOX_MAX_ATTEMPTS", 5),
		OutboxBackoff:        envSeconds("ERP_OUTBOX_BACKOFF_SECONDS", 10),
		OutboxMaxBackoff:     envSeconds("ERP_OUTBOX_MAX_BACKOFF_SECONDS", 600),
		OutboxJitterRatio:    envFloat("ERP_OUTBOX_BACKOFF_JITTER_RATIO", 0.2),
		OutboxWorkerInterval: envSeconds("ERP_OUTBOX_WORKER_INTERVAL_SECONDS", 15),
		OutboxBatchSize:      envInt("ERP_OUTBOX_WORKER_BATCH_SIZE", 10),

		CircuitEnabled:            envBool("ERP_CIRCUIT_ENABLED", true),
		CircuitErrorRateThreshold: envFloat("ERP_CIRCUIT_ERROR_RATE_THRESHOLD", 0.5),
		CircuitMinSamples:         envInt("ERP_CIRCUIT_MIN_SAMPLES", 5),
		CircuitWindow:             envSeconds("ERP_CIRCUIT_WINDOW_SECONDS", 60),
		CircuitOpenFor:            envSeconds("ERP_CIRCUIT_OPEN_SECONDS", 120),
		CircuitHalfOpenMaxCalls:   envInt("ERP_CIRCUIT_HALF_OPEN_MAX_CALLS", 1),

		SyncEnabled:    envBool("SYNC_SCHEDULER_ENABLED", true),
		SyncInterval:   envSeconds("SYNC_SCHEDULER_INTERVAL_SECONDS", 60),
		SyncMinBackoff: envSeconds("SYNC_SCHEDULER_MIN_BACKOFF_SECONDS", 30),
		SyncMaxBackoff: envSeconds("SYNC_SCHEDULER_MAX_BACKOFF_SECONDS", 1800),
		SyncLimit:      envInt("SYNC_SCHEDULER_LIMIT", 200),
		SyncScopes:     envList("SYNC_SCHEDULER_SCOPES", "supplier,purchase_request,purchase_order,receipt"),

		RateLimitRPS:       envInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     envInt("RATE_LIMIT_BURST", 40),
		RateLimitRedisAddr: os.Getenv("RATE_LIMIT_REDIS_ADDR"),

		ArchiveS3Bucket: os.Getenv("ARCHIVE_S3_BUCKET"),
		ArchiveS3Region: envStr("ARCHIVE_S3_REGION", "us-east-1"),

		OTLPEndpoint: envStr("OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  envBool("OTEL_ENABLED", false),
	}

	if profile := os.Getenv("PROCURA_PROFILE"); profile != "" {
		if err := applyProfile(cfg, profile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key, def string) []string {
	raw := envStr(key, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
