// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package notify defines the notification collaborator used for 2FA code
// delivery and a resilient production wrapper around it.
package notify

import (
	"context"
	"fmt"
	"sync"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/gatewarden/gatewarden/internal/logging"
)

// Sink delivers one-time codes to users. Email, SMS, and push delivery are
// all deployment concerns behind this interface.
type Sink interface {
	SendTwoFACode(ctx context.Context, userID, code string) error
}

// LogSink logs codes instead of delivering them. Development only.
type LogSink struct{}

// SendTwoFACode logs the code.
func (LogSink) SendTwoFACode(ctx context.Context, userID, code string) error {
	logging.Info().Str("user", userID).Msg("2FA code dispatched (log sink)")
	return nil
}

// ErrDispatchThrottled is returned when an account requests codes faster
// than the per-account limit allows.
var ErrDispatchThrottled = fmt.Errorf("2fa dispatch throttled")

// ResilientSink wraps a delivery Sink with a circuit breaker and a
// per-account rate limit so a flapping mail provider or a code-request
// loop cannot amplify into an outage.
type ResilientSink struct {
	inner   Sink
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxUsers int
}

// NewResilientSink wraps inner. perMinute bounds code dispatches per
// account; maxUsers bounds the limiter map.
func NewResilientSink(inner Sink, perMinute float64, maxUsers int) *ResilientSink {
	if perMinute <= 0 {
		perMinute = 3
	}
	if maxUsers <= 0 {
		maxUsers = 10000
	}

	settings := gobreaker.Settings{
		Name: "notification-sink",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Notification breaker state changed")
		},
	}

	return &ResilientSink{
		inner:    inner,
		breaker:  gobreaker.NewCircuitBreaker[struct{}](settings),
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    1,
		maxUsers: maxUsers,
	}
}

func (s *ResilientSink) limiterFor(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[userID]; ok {
		return l
	}
	// Crude bound: drop the whole map when it outgrows the cap. Limiter
	// state is a throttling hint, not account state.
	if len(s.limiters) >= s.maxUsers {
		s.limiters = make(map[string]*rate.Limiter)
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.limiters[userID] = l
	return l
}

// SendTwoFACode delivers a code through the breaker, subject to the
// per-account rate limit.
func (s *ResilientSink) SendTwoFACode(ctx context.Context, userID, code string) error {
	if !s.limiterFor(userID).Allow() {
		return ErrDispatchThrottled
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.inner.SendTwoFACode(ctx, userID, code)
	})
	if err != nil {
		return fmt.Errorf("send 2fa code: %w", err)
	}
	return nil
}
