// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file, and environment variables (highest priority).
//
// Configuration Categories:
//
//  1. Server: HTTP listener, timeouts, CORS, sign-in rate limiting
//  2. Auth: login backoff, 2FA, token signing
//  3. Authz: default quotas and fallback role
//  4. Roles: the role-inheritance graph
//  5. Traffic: per-service request windows and escalation thresholds
//  6. Trust: score caching
//  7. Store: account persistence (Badger)
//  8. Logging: level and output format
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Authz   AuthzConfig   `koanf:"authz"`
	Roles   []RoleConfig  `koanf:"roles"`
	Traffic TrafficConfig `koanf:"traffic"`
	Trust   TrustConfig   `koanf:"trust"`
	Store   StoreConfig   `koanf:"store"`
	Notify  NotifyConfig  `koanf:"notify"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout" validate:"min=1s"`
	CORSOrigins []string      `koanf:"cors_origins"`

	// SignInRateLimit bounds sign-in attempts per client IP per minute,
	// independently of the per-account backoff.
	SignInRateLimit int `koanf:"sign_in_rate_limit" validate:"min=1"`
}

// AuthConfig configures the login/lockout/2FA state machine and token
// issuance.
type AuthConfig struct {
	// TokenSecret signs session tokens. Required, minimum 32 characters.
	TokenSecret string `koanf:"token_secret" validate:"required,min=32"`

	// TokenTTL is the session token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl" validate:"min=1m"`

	// TokenClaimFields selects optional claims embedded in tokens.
	// Supported: role, identifier.
	TokenClaimFields []string `koanf:"token_claim_fields"`

	// RateLimitThreshold is the failed-login count that arms the
	// quadratic backoff.
	RateLimitThreshold int `koanf:"rate_limit_threshold" validate:"min=1"`

	// BackoffCap bounds the computed backoff window.
	BackoffCap time.Duration `koanf:"backoff_cap" validate:"min=1s"`

	// TwoFATTL is the validity window of a dispatched one-time code.
	TwoFATTL time.Duration `koanf:"two_fa_ttl" validate:"min=1m"`

	// GuestRole is assigned to unauthenticated callers.
	GuestRole string `koanf:"guest_role" validate:"required"`
}

// AuthzConfig configures quota defaults for the authorization pipeline.
type AuthzConfig struct {
	// DefaultMaxItemsPerUser applies when a policy declares no item quota.
	DefaultMaxItemsPerUser int `koanf:"default_max_items_per_user" validate:"min=1"`

	// AdminBatchFloor is the implicit batch ceiling for admin roles that
	// declare none.
	AdminBatchFloor int `koanf:"admin_batch_floor" validate:"min=1"`

	// FallbackRole is used when a caller's stored role no longer exists.
	FallbackRole string `koanf:"fallback_role" validate:"required"`
}

// RoleConfig declares one node of the role-inheritance graph.
type RoleConfig struct {
	Name     string   `koanf:"name" validate:"required"`
	Inherits []string `koanf:"inherits"`
	IsAdmin  bool     `koanf:"is_admin"`
	CanMock  bool     `koanf:"can_mock"`
}

// TrafficConfig configures the per-service abuse watcher.
type TrafficConfig struct {
	Enabled bool `koanf:"enabled"`

	// MaxUsers bounds the number of tracked users per window.
	MaxUsers int `koanf:"max_users" validate:"min=1"`

	// RequestThreshold is the per-window count past which a user is
	// escalated.
	RequestThreshold int `koanf:"request_threshold" validate:"min=1"`

	// TimeoutThresholdTotal is the accumulated escalation count past
	// which the account is timed out.
	TimeoutThresholdTotal int `koanf:"timeout_threshold_total" validate:"min=1"`

	TimeoutDuration time.Duration `koanf:"timeout_duration" validate:"min=1s"`
	ResetInterval   time.Duration `koanf:"reset_interval" validate:"min=1s"`
}

// TrustConfig configures trust-score caching.
type TrustConfig struct {
	// CacheTTL is how long a computed score is reused before recompute.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"min=1m"`
}

// StoreConfig configures account persistence.
type StoreConfig struct {
	// Backend selects the account store: badger or memory.
	Backend string `koanf:"backend" validate:"oneof=badger memory"`

	// Path is the Badger data directory. Required for the badger backend.
	Path string `koanf:"path"`

	// BackupDir enables periodic store snapshots when set. Only the
	// badger backend supports snapshots.
	BackupDir string `koanf:"backup_dir"`

	// BackupInterval is the time between snapshots.
	BackupInterval time.Duration `koanf:"backup_interval"`

	// BackupKeep is the number of snapshots retained.
	BackupKeep int `koanf:"backup_keep"`
}

// NotifyConfig configures 2FA code delivery.
type NotifyConfig struct {
	// CodesPerMinute throttles 2FA dispatches per account.
	CodesPerMinute int `koanf:"codes_per_minute" validate:"min=1"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks structural constraints and cross-field invariants that
// struct tags cannot express. Role graph cycles are rejected later when
// the graph is built.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			msgs := make([]string, 0, len(errs))
			for _, fe := range errs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation: %w", err)
	}

	if len(c.Roles) == 0 {
		return fmt.Errorf("config validation: at least one role must be declared")
	}
	names := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		names[r.Name] = true
	}
	if !names[c.Auth.GuestRole] {
		return fmt.Errorf("config validation: guest role %q is not declared", c.Auth.GuestRole)
	}
	if !names[c.Authz.FallbackRole] {
		return fmt.Errorf("config validation: fallback role %q is not declared", c.Authz.FallbackRole)
	}
	for _, f := range c.Auth.TokenClaimFields {
		if f != "role" && f != "identifier" {
			return fmt.Errorf("config validation: unknown token claim field %q", f)
		}
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("config validation: store.path is required for the badger backend")
	}
	return nil
}
