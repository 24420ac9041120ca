package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// profile is the YAML override surface for ops. Only the knobs that differ
// between environments are exposed; zero values mean "keep the env value".
type profile struct {
	Port         string `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	DatabaseURL  string `yaml:"database_url"`
	PublicAppURL string `yaml:"public_app_url"`

	Erp struct {
		Mode           string `yaml:"mode"`
		BaseURL        string `yaml:"base_url"`
		CSVDir         string `yaml:"csv_dir"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"erp"`

	Outbox struct {
		MaxAttempts       int     `yaml:"max_attempts"`
		BackoffSeconds    int     `yaml:"backoff_seconds"`
		MaxBackoffSeconds int     `yaml:"max_backoff_seconds"`
		JitterRatio       float64 `yaml:"jitter_ratio"`
		IntervalSeconds   int     `yaml:"interval_seconds"`
		BatchSize         int     `yaml:"batch_size"`
	} `yaml:"outbox"`

	Sync struct {
		Enabled *bool    `yaml:"enabled"`
		Scopes  []string `yaml:"scopes"`
	} `yaml:"sync"`
}

// applyProfile overlays the YAML profile at path onto cfg.
func applyProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config profile %s: %w", path, err)
	}
	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("config profile %s: %w", path, err)
	}

	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.DatabaseURL != "" {
		cfg.DatabaseURL = p.DatabaseURL
	}
	if p.PublicAppURL != "" {
		cfg.PublicAppURL = p.PublicAppURL
	}
	if p.Erp.Mode != "" {
		cfg.ErpMode = ErpMode(p.Erp.Mode)
	}
	if p.Erp.BaseURL != "" {
		cfg.ErpBaseURL = p.Erp.BaseURL
	}
	if p.Erp.CSVDir != "" {
		cfg.ErpCSVDir = p.Erp.CSVDir
	}
	if p.Erp.TimeoutSeconds > 0 {
		cfg.ErpTimeout = time.Duration(p.Erp.TimeoutSeconds) * time.Second
	}
	if p.Outbox.MaxAttempts > 0 {
		cfg.OutboxMaxAttempts = p.Outbox.MaxAttempts
	}
	if p.Outbox.BackoffSeconds > 0 {
		cfg.OutboxBackoff = time.Duration(p.Outbox.BackoffSeconds) * time.Second
	}
	if p.Outbox.MaxBackoffSeconds > 0 {
		cfg.OutboxMaxBackoff = time.Duration(p.Outbox.MaxBackoffSeconds) * time.Second
	}
	if p.Outbox.JitterRatio > 0 {
		cfg.OutboxJitterRatio = p.Outbox.JitterRatio
	}
	if p.Outbox.IntervalSeconds > 0 {
		cfg.OutboxWorkerInterval = time.Duration(p.Outbox.IntervalSeconds) * time.Second
	}
	if p.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = p.Outbox.BatchSize
	}
	if p.Sync.Enabled != nil {
		cfg.SyncEnabled = *p.Sync.Enabled
	}
	if len(p.Sync.Scopes) > 0 {
		cfg.SyncScopes = p.Sync.Scopes
	}
	return nil
}
