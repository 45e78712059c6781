// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package notify

import (
	"context"
	"errors"
	"testing"
)

type countingSink struct {
	sent []string
	err  error
}

func (s *countingSink) SendTwoFACode(ctx context.Context, userID, code string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, userID+":"+code)
	return nil
}

func TestResilientSink_DeliversThroughInner(t *testing.T) {
	inner := &countingSink{}
	sink := NewResilientSink(inner, 3, 100)

	if err := sink.SendTwoFACode(context.Background(), "u1", "123456"); err != nil {
		t.Fatalf("SendTwoFACode: %v", err)
	}
	if len(inner.sent) != 1 || inner.sent[0] != "u1:123456" {
		t.Fatalf("inner sink saw %v", inner.sent)
	}
}

func TestResilientSink_ThrottlesRepeatDispatch(t *testing.T) {
	inner := &countingSink{}
	sink := NewResilientSink(inner, 3, 100)
	ctx := context.Background()

	if err := sink.SendTwoFACode(ctx, "u1", "111111"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	// Burst is one; an immediate second request for the same account is
	// throttled rather than delivered.
	if err := sink.SendTwoFACode(ctx, "u1", "222222"); !errors.Is(err, ErrDispatchThrottled) {
		t.Fatalf("second dispatch = %v, want ErrDispatchThrottled", err)
	}
	// A different account has its own limiter.
	if err := sink.SendTwoFACode(ctx, "u2", "333333"); err != nil {
		t.Fatalf("other account dispatch: %v", err)
	}
	if len(inner.sent) != 2 {
		t.Fatalf("inner sink saw %d dispatches, want 2", len(inner.sent))
	}
}

func TestResilientSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingSink{err: errors.New("smtp down")}
	sink := NewResilientSink(inner, 1000, 100)
	ctx := context.Background()

	// Distinct accounts so the rate limiter never interferes.
	users := []string{"a", "b", "c", "d", "e"}
	for _, u := range users {
		if err := sink.SendTwoFACode(ctx, u, "000000"); err == nil {
			t.Fatal("expected delivery failure")
		}
	}

	// Breaker is open now; the inner sink must not be reached.
	inner.err = nil
	if err := sink.SendTwoFACode(ctx, "f", "000000"); err == nil {
		t.Fatal("expected open-breaker error")
	}
	if len(inner.sent) != 0 {
		t.Fatalf("inner sink reached through open breaker: %v", inner.sent)
	}
}

func TestResilientSink_LimiterMapBounded(t *testing.T) {
	inner := &countingSink{}
	sink := NewResilientSink(inner, 1000, 3)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c", "d", "e"} {
		if err := sink.SendTwoFACode(ctx, u, "000000"); err != nil {
			t.Fatalf("dispatch for %s: %v", u, err)
		}
	}

	sink.mu.Lock()
	size := len(sink.limiters)
	sink.mu.Unlock()
	if size > 3 {
		t.Fatalf("limiter map grew to %d, cap is 3", size)
	}
}
