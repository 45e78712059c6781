// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package auth owns the authentication lifecycle: credential verification,
// exponential login-attempt backoff, account timeout, optional two-factor
// verification, token issuance, and revocation-counter checks.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/notify"
)

// Config holds the authentication thresholds.
type Config struct {
	// RateLimitThreshold is how many failed logins arm the backoff.
	// Default: 6
	RateLimitThreshold int

	// BackoffCap bounds the computed backoff. Default: 5 minutes.
	BackoffCap time.Duration

	// TwoFATTL is the validity window of a dispatched one-time code.
	// Default: 10 minutes.
	TwoFATTL time.Duration

	// GuestRole is the role assigned to unauthenticated callers.
	// Default: "guest"
	GuestRole string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitThreshold: 6,
		BackoffCap:         5 * time.Minute,
		TwoFATTL:           10 * time.Minute,
		GuestRole:          "guest",
	}
}

// Session is the result of a successful sign-in.
type Session struct {
	Token        string `json:"token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string
	Role   string
	User   *account.Account
	Guest  bool
}

// Service runs the login/lockout/2FA state machine over accounts.
type Service struct {
	store  account.Store
	tokens *TokenManager
	sink   notify.Sink
	clock  account.Clock
	cfg    Config
}

// NewService constructs a Service.
func NewService(store account.Store, tokens *TokenManager, sink notify.Sink, clock account.Clock, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.RateLimitThreshold <= 0 {
		cfg.RateLimitThreshold = def.RateLimitThreshold
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.TwoFATTL <= 0 {
		cfg.TwoFATTL = def.TwoFATTL
	}
	if cfg.GuestRole == "" {
		cfg.GuestRole = def.GuestRole
	}
	if clock == nil {
		clock = account.RealClock{}
	}
	if sink == nil {
		sink = notify.LogSink{}
	}
	return &Service{store: store, tokens: tokens, sink: sink, clock: clock, cfg: cfg}
}

// backoffFor computes the attempt backoff: failedLoginCount squared in
// seconds, capped.
func (s *Service) backoffFor(failedCount int) time.Duration {
	backoff := time.Duration(failedCount*failedCount) * time.Second
	if backoff > s.cfg.BackoffCap {
		backoff = s.cfg.BackoffCap
	}
	return backoff
}

// SignIn verifies credentials and issues a session token. The returned
// error is always an *AuthError; unknown identifiers, wrong passwords, and
// wrong 2FA codes are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, identifier, password, twoFACode string) (*Session, error) {
	now := s.clock.Now()

	a, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		metrics.RecordSignIn("invalid_credentials")
		return nil, errInvalidCredentials()
	}

	if a.TimedOut(now) {
		metrics.RecordSignIn("timed_out")
		return nil, errTimedOut(int(a.TimeoutUntil.Sub(now).Seconds()))
	}

	if a.FailedLoginCount >= s.cfg.RateLimitThreshold {
		backoff := s.backoffFor(a.FailedLoginCount)
		if elapsed := now.Sub(a.LastLoginAttempt); elapsed < backoff {
			remaining := backoff - elapsed
			metrics.RecordSignIn("too_many_attempts")
			return nil, errTooManyAttempts(int(remaining.Seconds()))
		}
	}

	if a.TwoFAEnabled && twoFACode == "" {
		if err := s.dispatchTwoFACode(ctx, a, now); err != nil {
			logging.Error().Err(err).Str("user", a.ID).Msg("2FA code dispatch failed")
		}
		metrics.RecordSignIn("two_fa_required")
		return nil, errTwoFARequired()
	}

	if twoFACode != "" {
		if !twoFACodeValid(a.LastTwoFACode, twoFACode, a.LastTwoFASent, now, s.cfg.TwoFATTL) {
			s.recordFailure(ctx, a, now)
			metrics.RecordSignIn("invalid_two_fa")
			return nil, errInvalidCredentials()
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		s.recordFailure(ctx, a, now)
		metrics.RecordSignIn("invalid_credentials")
		return nil, errInvalidCredentials()
	}

	if err := s.store.Patch(ctx, a.ID, account.Patch{
		FailedLoginCount: account.Int(0),
		LastLoginAttempt: account.Time(now),
	}); err != nil {
		logging.Error().Err(err).Str("user", a.ID).Msg("Failed to reset login counters")
	}

	token, err := s.tokens.Sign(a)
	if err != nil {
		metrics.RecordSignIn("error")
		return nil, errUnauthorized("could not issue session token")
	}

	metrics.RecordSignIn("ok")
	logging.Info().Str("user", a.ID).Msg("Sign-in succeeded")
	return &Session{
		Token:        token,
		ExpiresInSec: int64(s.tokens.TTL().Seconds()),
	}, nil
}

// dispatchTwoFACode generates, persists, and sends a one-time code.
func (s *Service) dispatchTwoFACode(ctx context.Context, a *account.Account, now time.Time) error {
	code, err := generateTwoFACode(now)
	if err != nil {
		return err
	}
	if err := s.store.Patch(ctx, a.ID, account.Patch{
		LastTwoFACode: account.Str(code),
		LastTwoFASent: account.Time(now),
	}); err != nil {
		return err
	}
	return s.sink.SendTwoFACode(ctx, a.ID, code)
}

// recordFailure bumps the failed-attempt counter. Persist errors are logged
// and swallowed; a failed persist must not mask the credential rejection.
func (s *Service) recordFailure(ctx context.Context, a *account.Account, now time.Time) {
	if err := s.store.Patch(ctx, a.ID, account.Patch{
		FailedLoginCount: account.Int(a.FailedLoginCount + 1),
		LastLoginAttempt: account.Time(now),
	}); err != nil {
		logging.Error().Err(err).Str("user", a.ID).Msg("Failed to persist login failure")
	}
}

// VerifyToken decodes and validates a raw token string.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, errUnauthorized("invalid or expired token")
	}
	return claims, nil
}

// Authenticate resolves a bearer token to an identity. A missing token is
// never an error: the caller becomes a guest. A malformed, expired, or
// revoked token is an *AuthError.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return &Identity{Role: s.cfg.GuestRole, Guest: true}, nil
	}

	claims, err := s.VerifyToken(bearer)
	if err != nil {
		return nil, err
	}

	a, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, errUnauthorized("account no longer exists")
		}
		return nil, errUnauthorized("could not load account")
	}

	// Revocation check: a counter bump invalidates every token issued
	// before it.
	if a.RevokedCount != claims.RevokedCount {
		return nil, errTokenMismatch()
	}

	return &Identity{
		UserID: a.ID,
		Role:   a.Role,
		User:   a,
	}, nil
}

// GuestRole returns the configured guest role name.
func (s *Service) GuestRole() string { return s.cfg.GuestRole }

// HashPassword is a convenience for seeding and account management flows.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
