// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.TokenSecret = validSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate once a secret is set: %v", err)
	}
	if cfg.Auth.RateLimitThreshold != 6 {
		t.Errorf("rate limit threshold = %d, want 6", cfg.Auth.RateLimitThreshold)
	}
	if cfg.Auth.BackoffCap != 5*time.Minute {
		t.Errorf("backoff cap = %v, want 5m", cfg.Auth.BackoffCap)
	}
	if cfg.Authz.AdminBatchFloor != 100 {
		t.Errorf("admin batch floor = %d, want 100", cfg.Authz.AdminBatchFloor)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.TokenSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("short token secret must be rejected")
	}
}

func TestValidateRejectsUndeclaredGuestRole(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.TokenSecret = validSecret
	cfg.Auth.GuestRole = "visitor"
	if err := cfg.Validate(); err == nil {
		t.Fatal("guest role outside the role list must be rejected")
	}
}

func TestValidateRejectsUnknownClaimField(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.TokenSecret = validSecret
	cfg.Auth.TokenClaimFields = []string{"role", "shoe_size"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown claim field must be rejected")
	}
}

func TestValidateRequiresBadgerPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.TokenSecret = validSecret
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("badger backend without a path must be rejected")
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
auth:
  token_secret: "` + validSecret + `"
store:
  backend: memory
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("GATEWARDEN_SERVER_PORT", "9100")
	t.Setenv("GATEWARDEN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, env must override file", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q, file must override default", cfg.Store.Backend)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, default must survive layering", cfg.Server.Timeout)
	}
}

func TestLoadEnvSliceField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "auth:\n  token_secret: \"" + validSecret + "\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("GATEWARDEN_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}
