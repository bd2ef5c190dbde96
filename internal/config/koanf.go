// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"shelfguard.yaml",
	"shelfguard.yml",
	"/etc/shelfguard/config.yaml",
	"/etc/shelfguard/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit file path (empty means no file).
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"backup.export_tables",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := make([]string, 0, strings.Count(s, ",")+1)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unlisted variables are ignored so the host environment cannot leak into
// the configuration.
var envMappings = map[string]string{
	"backup_dir":             "backup.dir",
	"backup_export_metadata": "backup.export_metadata",
	"backup_export_tables":   "backup.export_tables",

	"auto_backup_schedule":   "schedule.auto_backup",
	"retention_schedule":     "schedule.retention",
	"missed_retention_after": "schedule.missed_retention_after",

	"retention_window":             "retention.window",
	"retention_keep_latest_remote": "retention.keep_latest_remote",

	"pos_db_path":         "database.path",
	"pos_db_busy_timeout": "database.busy_timeout",

	"remote_enabled":             "remote.enabled",
	"remote_provider":            "remote.provider",
	"drive_client_id":            "remote.client_id",
	"drive_client_secret":        "remote.client_secret",
	"drive_redirect_url":         "remote.redirect_url",
	"drive_folder_id":            "remote.folder_id",
	"drive_api_base_url":         "remote.api_base_url",
	"drive_upload_base_url":      "remote.upload_base_url",
	"remote_request_timeout":     "remote.request_timeout",
	"remote_requests_per_second": "remote.requests_per_second",
	"remote_burst":               "remote.burst",
	"remote_circuit_breaker":     "remote.circuit_breaker",

	"connectivity_probe_url": "connectivity.probe_url",
	"connectivity_interval":  "connectivity.interval",
	"connectivity_timeout":   "connectivity.timeout",

	"queue_retry_interval": "queue.retry_interval",

	"state_path": "state.path",

	"http_enabled":          "server.enabled",
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"casbin_model_path":   "security.casbin_model_path",
	"casbin_policy_path":  "security.casbin_policy_path",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",

	"audit_enabled":       "audit.enabled",
	"audit_path":          "audit.path",
	"audit_buffer_size":   "audit.buffer_size",
	"audit_retention":     "audit.retention",
	"audit_log_to_stdout": "audit.log_to_stdout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
