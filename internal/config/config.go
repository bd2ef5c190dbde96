// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package config loads the agent configuration.
//
// Sources are layered with koanf, later layers winning:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH or one of DefaultConfigPaths)
//  3. Environment variables listed in envMappings
//
// The result is validated with struct tags and a few cross-field rules
// before it is handed to main. Config is read-only after Load.
package config

import "time"

// Config holds all agent configuration.
type Config struct {
	Backup       BackupConfig       `koanf:"backup"`
	Schedule     ScheduleConfig     `koanf:"schedule"`
	Retention    RetentionConfig    `koanf:"retention"`
	Database     DatabaseConfig     `koanf:"database"`
	Remote       RemoteConfig       `koanf:"remote"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Queue        QueueConfig        `koanf:"queue"`
	State        StateConfig        `koanf:"state"`
	Server       ServerConfig       `koanf:"server"`
	Security     SecurityConfig     `koanf:"security"`
	Audit        AuditConfig        `koanf:"audit"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// BackupConfig controls where snapshots land. Dir is only the initial
// value: once an operator changes the location it is persisted in the
// state store and that value wins on later starts.
type BackupConfig struct {
	Dir            string `koanf:"dir" validate:"required"`
	ExportMetadata bool   `koanf:"export_metadata"`

	// ExportTables are the POS tables written to logs-*.json next to each
	// snapshot. Tables missing from the database are skipped.
	ExportTables []string `koanf:"export_tables" validate:"dive,required,max=128"`
}

// ScheduleConfig holds cron specs for the periodic jobs.
type ScheduleConfig struct {
	AutoBackup string `koanf:"auto_backup" validate:"required,cronspec"`
	Retention  string `koanf:"retention" validate:"required,cronspec"`

	// MissedRetentionAfter triggers a catch-up sweep at startup when the
	// last checkpoint is older than this.
	MissedRetentionAfter time.Duration `koanf:"missed_retention_after" validate:"gt=0"`
}

// RetentionConfig defines the retention window.
type RetentionConfig struct {
	Window           time.Duration `koanf:"window" validate:"gt=0"`
	KeepLatestRemote bool          `koanf:"keep_latest_remote"`
}

// DatabaseConfig points at the live point-of-sale database.
type DatabaseConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gte=0"`
}

// RemoteConfig configures the cloud storage provider.
type RemoteConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Provider     string `koanf:"provider" validate:"oneof=gdrive"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url" validate:"omitempty,url"`
	FolderID     string `koanf:"folder_id"`

	// APIBaseURL and UploadBaseURL exist so tests can point the client
	// at a local server.
	APIBaseURL    string `koanf:"api_base_url" validate:"required,url"`
	UploadBaseURL string `koanf:"upload_base_url" validate:"required,url"`

	RequestTimeout    time.Duration `koanf:"request_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
	CircuitBreaker    bool          `koanf:"circuit_breaker"`
}

// ConnectivityConfig configures the reachability probe.
type ConnectivityConfig struct {
	ProbeURL string        `koanf:"probe_url" validate:"required,url"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
}

// QueueConfig configures pending upload retries.
type QueueConfig struct {
	// RetryInterval re-drains the queue while online so entries that
	// failed on a flaky connection do not wait for the next reconnect.
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gt=0"`
}

// StateConfig locates the badger directory holding settings, the
// retention checkpoint and the remote credential.
type StateConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig configures the local HTTP API used by the POS shell.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SecurityConfig configures authorization and the HTTP guard rails.
type SecurityConfig struct {
	CasbinModelPath  string        `koanf:"casbin_model_path"`
	CasbinPolicyPath string        `koanf:"casbin_policy_path"`
	CORSOrigins      []string      `koanf:"cors_origins"`
	RateLimitReqs    int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow  time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	BufferSize int    `koanf:"buffer_size" validate:"min=1"`

	// LogToStdout mirrors every audit event into the application log.
	LogToStdout bool `koanf:"log_to_stdout"`

	// Retention prunes audit events older than this once a day.
	Retention time.Duration `koanf:"retention" validate:"gt=0"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Dir:            "/var/lib/shelfguard/backups",
			ExportMetadata: true,
			ExportTables:   []string{"activity_logs", "price_history", "inventory"},
		},
		Schedule: ScheduleConfig{
			AutoBackup:           "@every 6h",
			Retention:            "@every 24h",
			MissedRetentionAfter: 24 * time.Hour,
		},
		Retention: RetentionConfig{
			Window: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/bookstore/pos.db",
			BusyTimeout: 5 * time.Second,
		},
		Remote: RemoteConfig{
			Enabled:           false,
			Provider:          "gdrive",
			RedirectURL:       "http://127.0.0.1:8765/oauth/callback",
			APIBaseURL:        "https://www.googleapis.com/drive/v3",
			UploadBaseURL:     "https://www.googleapis.com/upload/drive/v3",
			RequestTimeout:    2 * time.Minute,
			RequestsPerSecond: 5,
			Burst:             10,
			CircuitBreaker:    true,
		},
		Connectivity: ConnectivityConfig{
			ProbeURL: "https://www.google.com/generate_204",
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Queue: QueueConfig{
			RetryInterval: 5 * time.Minute,
		},
		State: StateConfig{
			Path: "/var/lib/shelfguard/state",
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8765,
			Timeout:         2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"http://localhost", "http://127.0.0.1"},
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "/var/lib/shelfguard/audit.jsonl",
			BufferSize: 256,
			Retention:  365 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
