// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package traffic

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
)

// ErrCaptchaRequired is returned while an account owes a captcha.
var ErrCaptchaRequired = errors.New("captcha required")

// Config holds the traffic watch thresholds.
type Config struct {
	// MaxUsers bounds the number of tracked users in a window.
	MaxUsers int

	// RequestThreshold is the per-window request count past which a user
	// is escalated.
	RequestThreshold int

	// TimeoutThresholdTotal is the accumulated high-traffic count past
	// which an account timeout is applied.
	TimeoutThresholdTotal int

	// TimeoutDuration is how long an escalated account is timed out.
	TimeoutDuration time.Duration

	// ResetInterval is how often the whole window is cleared.
	ResetInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxUsers:              10000,
		RequestThreshold:      300,
		TimeoutThresholdTotal: 10,
		TimeoutDuration:       30 * time.Minute,
		ResetInterval:         5 * time.Minute,
	}
}

// Watch counts requests per identified user and escalates to captcha or
// account timeout when thresholds are exceeded.
type Watch struct {
	cfg    Config
	store  account.Store
	clock  account.Clock
	window *counterWindow
}

// New creates a Watch. Zero config fields fall back to defaults.
func New(store account.Store, clock account.Clock, cfg Config) *Watch {
	def := DefaultConfig()
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = def.MaxUsers
	}
	if cfg.RequestThreshold <= 0 {
		cfg.RequestThreshold = def.RequestThreshold
	}
	if cfg.TimeoutThresholdTotal <= 0 {
		cfg.TimeoutThresholdTotal = def.TimeoutThresholdTotal
	}
	if cfg.TimeoutDuration <= 0 {
		cfg.TimeoutDuration = def.TimeoutDuration
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = def.ResetInterval
	}
	if clock == nil {
		clock = account.RealClock{}
	}
	return &Watch{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		window: newCounterWindow(cfg.MaxUsers),
	}
}

// Record counts one request for the user and applies escalation when the
// window threshold is exceeded. Guests are not tracked. Recording is safe
// to apply even when the request is later aborted.
func (w *Watch) Record(ctx context.Context, a *account.Account) {
	if a == nil {
		return
	}

	count := w.window.Increment(a.ID)
	if count <= w.cfg.RequestThreshold {
		return
	}

	increment := int(math.Round(float64(count) / float64(w.cfg.RequestThreshold)))
	high := a.HighTrafficCount + increment
	a.HighTrafficCount = high
	a.CaptchaRequested = true

	patch := account.Patch{
		HighTrafficCount: account.Int(high),
		CaptchaRequested: account.Bool(true),
	}

	if high > w.cfg.TimeoutThresholdTotal {
		until := w.clock.Now().Add(w.cfg.TimeoutDuration)
		a.TimeoutUntil = until
		patch.TimeoutUntil = account.Time(until)
		logging.Warn().
			Str("user", a.ID).
			Int("high_traffic_count", high).
			Time("until", until).
			Msg("Account timed out for high traffic")
	}

	metrics.TrafficEscalationsTotal.Inc()
	if err := w.store.Patch(ctx, a.ID, patch); err != nil {
		logging.Error().Err(err).Str("user", a.ID).Msg("Failed to persist traffic escalation")
	}
}

// Gate rejects requests from accounts that owe a captcha. The captcha
// verification endpoint itself must bypass this gate.
func (w *Watch) Gate(a *account.Account) error {
	if a != nil && a.CaptchaRequested && !a.DidCaptcha {
		metrics.CaptchaDeniedTotal.Inc()
		return ErrCaptchaRequired
	}
	return nil
}

// CompleteCaptcha marks the account's captcha as done and clears the
// request flag.
func (w *Watch) CompleteCaptcha(ctx context.Context, a *account.Account) error {
	if a == nil {
		return nil
	}
	a.CaptchaRequested = false
	a.DidCaptcha = true
	return w.store.Patch(ctx, a.ID, account.Patch{
		CaptchaRequested: account.Bool(false),
		DidCaptcha:       account.Bool(true),
	})
}

// Count returns the user's current window count, used by tests and the
// admin surface.
func (w *Watch) Count(userID string) int {
	return w.window.Count(userID)
}

// ResetWindow clears the whole window.
func (w *Watch) ResetWindow() {
	w.window.Reset()
}

// ResetInterval returns the configured sweep interval.
func (w *Watch) ResetInterval() time.Duration {
	return w.cfg.ResetInterval
}

// ResetService is a suture service that clears the traffic window on the
// configured interval.
type ResetService struct {
	watch *Watch
}

// NewResetService wraps a Watch for supervision.
func NewResetService(watch *Watch) *ResetService {
	return &ResetService{watch: watch}
}

// Serve runs the periodic sweep until the context is canceled.
func (s *ResetService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.watch.ResetInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.watch.ResetWindow()
			logging.Debug().Msg("Traffic window reset")
		}
	}
}

func (s *ResetService) String() string { return "traffic-window-reset" }
