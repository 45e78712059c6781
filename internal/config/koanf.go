// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gatewarden/config.yaml",
	"/etc/gatewarden/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and then by environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			SignInRateLimit: 30,
		},
		Auth: AuthConfig{
			TokenSecret:        "",
			TokenTTL:           24 * time.Hour,
			TokenClaimFields:   []string{"role"},
			RateLimitThreshold: 6,
			BackoffCap:         5 * time.Minute,
			TwoFATTL:           10 * time.Minute,
			GuestRole:          "guest",
		},
		Authz: AuthzConfig{
			DefaultMaxItemsPerUser: 100,
			AdminBatchFloor:        100,
			FallbackRole:           "guest",
		},
		Roles: []RoleConfig{
			{Name: "guest"},
			{Name: "user", Inherits: []string{"guest"}},
			{Name: "moderator", Inherits: []string{"user"}, CanMock: true},
			{Name: "admin", Inherits: []string{"moderator"}, IsAdmin: true},
		},
		Traffic: TrafficConfig{
			Enabled:               true,
			MaxUsers:              10000,
			RequestThreshold:      100,
			TimeoutThresholdTotal: 50,
			TimeoutDuration:       time.Hour,
			ResetInterval:         time.Minute,
		},
		Trust: TrustConfig{
			CacheTTL: 12 * time.Hour,
		},
		Store: StoreConfig{
			Backend:        "badger",
			Path:           "/data/gatewarden/accounts",
			BackupInterval: 24 * time.Hour,
			BackupKeep:     7,
		},
		Notify: NotifyConfig{
			CodesPerMinute: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any scalar setting
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// GATEWARDEN_SERVER_PORT -> server.port, etc. Role declarations are
	// structural and come from the file only.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive
// as strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"auth.token_claim_fields",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps GATEWARDEN_* environment variables onto koanf
// config paths. Unknown variables are ignored so unrelated environment
// noise cannot pollute the configuration.
//
// Examples:
//   - GATEWARDEN_SERVER_PORT -> server.port
//   - GATEWARDEN_AUTH_TOKEN_SECRET -> auth.token_secret
//   - GATEWARDEN_LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	const prefix = "gatewarden_"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	key = strings.TrimPrefix(key, prefix)

	envMappings := map[string]string{
		"server_host":               "server.host",
		"server_port":               "server.port",
		"server_timeout":            "server.timeout",
		"cors_origins":              "server.cors_origins",
		"sign_in_rate_limit":        "server.sign_in_rate_limit",
		"auth_token_secret":         "auth.token_secret",
		"auth_token_ttl":            "auth.token_ttl",
		"auth_token_claim_fields":   "auth.token_claim_fields",
		"auth_rate_limit_threshold": "auth.rate_limit_threshold",
		"auth_backoff_cap":          "auth.backoff_cap",
		"auth_two_fa_ttl":           "auth.two_fa_ttl",
		"auth_guest_role":           "auth.guest_role",
		"authz_max_items_per_user":  "authz.default_max_items_per_user",
		"authz_admin_batch_floor":   "authz.admin_batch_floor",
		"authz_fallback_role":       "authz.fallback_role",
		"traffic_enabled":           "traffic.enabled",
		"traffic_max_users":         "traffic.max_users",
		"traffic_request_threshold": "traffic.request_threshold",
		"traffic_timeout_threshold": "traffic.timeout_threshold_total",
		"traffic_timeout_duration":  "traffic.timeout_duration",
		"traffic_reset_interval":    "traffic.reset_interval",
		"trust_cache_ttl":           "trust.cache_ttl",
		"store_backend":             "store.backend",
		"store_path":                "store.path",
		"store_backup_dir":          "store.backup_dir",
		"store_backup_interval":     "store.backup_interval",
		"store_backup_keep":         "store.backup_keep",
		"notify_codes_per_minute":   "notify.codes_per_minute",
		"log_level":                 "logging.level",
		"log_format":                "logging.format",
		"log_caller":                "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
