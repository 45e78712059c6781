// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package main is the entry point for the Gatewarden server.
//
// Gatewarden is a request-authorization and account-security engine: it
// resolves role-inheritance chains, evaluates per-service ability rules,
// enforces per-user quotas and batch ceilings, runs the login/lockout/2FA
// state machine, and escalates abusive traffic to captcha challenges and
// account timeouts.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML file, env)
//  2. Logging: zerolog, configured from the loaded settings
//  3. Account store: BadgerDB (or in-memory for development)
//  4. Role graph: built once from configuration, cycles rejected at boot
//  5. Services: token manager, auth, trust scorer, traffic watch, pipeline
//  6. Supervisor tree: background jobs and the HTTP server under suture
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// supervisor cancels its services, the HTTP server drains in-flight
// requests, and the account store is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/authz"
	"github.com/gatewarden/gatewarden/internal/backup"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/httpapi"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/notify"
	"github.com/gatewarden/gatewarden/internal/policy"
	"github.com/gatewarden/gatewarden/internal/rolegraph"
	"github.com/gatewarden/gatewarden/internal/supervisor"
	"github.com/gatewarden/gatewarden/internal/traffic"
	"github.com/gatewarden/gatewarden/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store", cfg.Store.Backend).
		Int("roles", len(cfg.Roles)).
		Msg("Starting Gatewarden")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open account store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logging.Error().Err(err).Msg("Error closing account store")
		}
	}()

	graph, err := rolegraph.Build(roleDefs(cfg.Roles))
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid role graph")
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:      cfg.Auth.TokenSecret,
		TTL:         cfg.Auth.TokenTTL,
		ClaimFields: cfg.Auth.TokenClaimFields,
	}, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure token signing")
	}

	sink := notify.NewResilientSink(notify.LogSink{}, float64(cfg.Notify.CodesPerMinute), cfg.Traffic.MaxUsers)
	authSvc := auth.NewService(store, tokens, sink, nil, auth.Config{
		RateLimitThreshold: cfg.Auth.RateLimitThreshold,
		BackoffCap:         cfg.Auth.BackoffCap,
		TwoFATTL:           cfg.Auth.TwoFATTL,
		GuestRole:          cfg.Auth.GuestRole,
	})

	scorer := trust.NewScorer(store, nil, cfg.Trust.CacheTTL, nil)
	watch := traffic.New(store, nil, traffic.Config{
		MaxUsers:              cfg.Traffic.MaxUsers,
		RequestThreshold:      cfg.Traffic.RequestThreshold,
		TimeoutThresholdTotal: cfg.Traffic.TimeoutThresholdTotal,
		TimeoutDuration:       cfg.Traffic.TimeoutDuration,
		ResetInterval:         cfg.Traffic.ResetInterval,
	})

	registry := policy.NewRegistry()
	registerPolicies(registry)

	pipeline := authz.New(graph, registry, scorer, authz.Config{
		DefaultMaxItemsPerUser: cfg.Authz.DefaultMaxItemsPerUser,
		AdminBatchFloor:        cfg.Authz.AdminBatchFloor,
		FallbackRole:           cfg.Authz.FallbackRole,
	})

	api := httpapi.NewServer(authSvc, pipeline, watch, store, httpapi.Options{
		SignInRateLimit: cfg.Server.SignInRateLimit,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if cfg.Traffic.Enabled {
		tree.AddJob(traffic.NewResetService(watch))
	}
	if cfg.Store.BackupDir != "" {
		if snap, ok := store.(backup.Snapshotter); ok {
			tree.AddJob(backup.NewService(snap, backup.Config{
				Dir:       cfg.Store.BackupDir,
				Interval:  cfg.Store.BackupInterval,
				KeepCount: cfg.Store.BackupKeep,
			}))
		} else {
			logging.Warn().Msg("Backup dir configured but store backend cannot snapshot")
		}
	}
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 0))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Gatewarden listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor terminated with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}

// openStore builds the configured account store and its closer.
func openStore(cfg *config.Config) (account.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "memory":
		return account.NewMemoryStore(), func() error { return nil }, nil
	default:
		store, err := account.OpenBadgerStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// roleDefs converts role configuration into graph nodes.
func roleDefs(roles []config.RoleConfig) []rolegraph.Role {
	defs := make([]rolegraph.Role, 0, len(roles))
	for _, r := range roles {
		defs = append(defs, rolegraph.Role{
			Name:     r.Name,
			Inherits: r.Inherits,
			IsAdmin:  r.IsAdmin,
			CanMock:  r.CanMock,
		})
	}
	return defs
}
