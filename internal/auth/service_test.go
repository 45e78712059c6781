// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/gatewarden/internal/account"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// recordingSink captures dispatched codes.
type recordingSink struct {
	mu    sync.Mutex
	codes []string
	users []string
}

func (s *recordingSink) SendTwoFACode(ctx context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	s.codes = append(s.codes, code)
	return nil
}

func testService(t *testing.T) (*Service, *account.MemoryStore, *account.ManualClock, *recordingSink) {
	t.Helper()
	store := account.NewMemoryStore()
	clock := account.NewManualClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := NewTokenManager(TokenConfig{
		Secret:      testSecret,
		TTL:         time.Hour,
		ClaimFields: []string{"role"},
	}, clock)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	sink := &recordingSink{}
	svc := NewService(store, tokens, sink, clock, Config{})
	return svc, store, clock, sink
}

// testHash uses MinCost: these hashes exist only to exercise the compare
// path, never to measure real-world strength.
func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func seedUser(t *testing.T, store *account.MemoryStore, a *account.Account) {
	t.Helper()
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSignIn_UnknownIdentifierDoesNotLeakExistence(t *testing.T) {
	svc, _, _, _ := testService(t)
	_, err := svc.SignIn(context.Background(), "nobody@example.com", "pw", "")
	if CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestSignIn_WrongPasswordIncrementsCounter(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
	})

	_, err := svc.SignIn(context.Background(), "alice", "wrong", "")
	if CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}

	a, _ := store.FindByID(context.Background(), "u1")
	if a.FailedLoginCount != 1 {
		t.Errorf("failed count = %d, want 1", a.FailedLoginCount)
	}
	if !a.LastLoginAttempt.Equal(clock.Now()) {
		t.Errorf("last attempt = %v, want %v", a.LastLoginAttempt, clock.Now())
	}
}

func TestSignIn_BackoffMonotonicAndResetOnSuccess(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		FailedLoginCount: 6, LastLoginAttempt: clock.Now(),
	})

	// 6 failed attempts arm a min(36, 300) second backoff.
	clock.Advance(10 * time.Second)
	_, err := svc.SignIn(context.Background(), "alice", "correct", "")
	ae, ok := err.(*AuthError)
	if !ok || ae.Code != CodeTooManyAttempts {
		t.Fatalf("attempt inside the window: err = %v, want too_many_attempts", err)
	}
	if ae.RetryAfterSec <= 0 || ae.RetryAfterSec > 26 {
		t.Errorf("retry after = %d, want within remaining 26s window", ae.RetryAfterSec)
	}

	// After the window elapses a correct password succeeds and resets the
	// counter.
	clock.Advance(27 * time.Second)
	session, err := svc.SignIn(context.Background(), "alice", "correct", "")
	if err != nil {
		t.Fatalf("sign-in after window: %v", err)
	}
	if session.Token == "" || session.ExpiresInSec != 3600 {
		t.Errorf("unexpected session %+v", session)
	}

	a, _ := store.FindByID(context.Background(), "u1")
	if a.FailedLoginCount != 0 {
		t.Errorf("failed count after success = %d, want 0", a.FailedLoginCount)
	}
}

func TestSignIn_BackoffIsCapped(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		FailedLoginCount: 100, LastLoginAttempt: clock.Now(),
	})

	// 100² seconds would be hours; the cap bounds it to 5 minutes.
	clock.Advance(5*time.Minute + time.Second)
	if _, err := svc.SignIn(context.Background(), "alice", "correct", ""); err != nil {
		t.Fatalf("sign-in past the capped window: %v", err)
	}
}

func TestSignIn_TimedOutAccount(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		TimeoutUntil: clock.Now().Add(10 * time.Minute),
	})

	_, err := svc.SignIn(context.Background(), "alice", "correct", "")
	ae, ok := err.(*AuthError)
	if !ok || ae.Code != CodeTimedOut {
		t.Fatalf("err = %v, want timed_out", err)
	}
	if ae.RetryAfterSec != 600 {
		t.Errorf("retry after = %d, want 600", ae.RetryAfterSec)
	}
}

func TestSignIn_TwoFAChallengeFlow(t *testing.T) {
	svc, store, clock, sink := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		TwoFAEnabled: true,
	})

	// First attempt without a code dispatches one and issues no token.
	_, err := svc.SignIn(context.Background(), "alice", "correct", "")
	if CodeOf(err) != CodeTwoFARequired {
		t.Fatalf("err = %v, want two_fa_required", err)
	}
	if len(sink.codes) != 1 || sink.users[0] != "u1" {
		t.Fatalf("expected one dispatched code for u1, got %v", sink.users)
	}

	a, _ := store.FindByID(context.Background(), "u1")
	if a.LastTwoFACode != sink.codes[0] {
		t.Error("dispatched code must be persisted")
	}
	if !a.LastTwoFASent.Equal(clock.Now()) {
		t.Error("dispatch time must be persisted")
	}

	// Supplying the stored code with the right password signs in.
	session, err := svc.SignIn(context.Background(), "alice", "correct", a.LastTwoFACode)
	if err != nil {
		t.Fatalf("sign-in with code: %v", err)
	}
	if session.Token == "" {
		t.Error("expected a token")
	}
}

func TestSignIn_WrongTwoFACodeIsInvalidCredentials(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		TwoFAEnabled: true, LastTwoFACode: "123456", LastTwoFASent: clock.Now(),
	})

	_, err := svc.SignIn(context.Background(), "alice", "correct", "654321")
	if CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}

	// Attempt counter moves exactly like a wrong password.
	a, _ := store.FindByID(context.Background(), "u1")
	if a.FailedLoginCount != 1 {
		t.Errorf("failed count = %d, want 1", a.FailedLoginCount)
	}
}

func TestSignIn_ExpiredTwoFACodeRejected(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
		TwoFAEnabled: true, LastTwoFACode: "123456", LastTwoFASent: clock.Now(),
	})

	clock.Advance(11 * time.Minute)
	_, err := svc.SignIn(context.Background(), "alice", "correct", "123456")
	if CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials for expired code", err)
	}
}

func TestAuthenticate_MissingTokenIsGuest(t *testing.T) {
	svc, _, _, _ := testService(t)
	identity, err := svc.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("missing token must not error: %v", err)
	}
	if !identity.Guest || identity.Role != "guest" {
		t.Errorf("identity = %+v, want guest", identity)
	}
}

func TestAuthenticate_MalformedTokenRejected(t *testing.T) {
	svc, _, _, _ := testService(t)
	_, err := svc.Authenticate(context.Background(), "not-a-token")
	if CodeOf(err) != CodeUnauthorized {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestAuthenticate_RevocationInvalidatesOldTokens(t *testing.T) {
	svc, store, _, _ := testService(t)
	a := &account.Account{
		ID: "u1", Identifier: "alice", Role: "user",
		PasswordHash: testHash(t, "correct"),
	}
	seedUser(t, store, a)

	session, err := svc.SignIn(context.Background(), "alice", "correct", "")
	if err != nil {
		t.Fatalf("sign-in: %v", err)
	}

	// Bump the revocation counter: logout everywhere.
	if err := store.Patch(context.Background(), "u1", account.Patch{RevokedCount: account.Int(1)}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	_, err = svc.Authenticate(context.Background(), session.Token)
	if CodeOf(err) != CodeTokenMismatch {
		t.Fatalf("old token: err = %v, want token_mismatch", err)
	}

	// A token issued against the new counter is valid.
	fresh, err := svc.SignIn(context.Background(), "alice", "correct", "")
	if err != nil {
		t.Fatalf("fresh sign-in: %v", err)
	}
	identity, err := svc.Authenticate(context.Background(), fresh.Token)
	if err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	if identity.UserID != "u1" || identity.Role != "user" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestAuthenticate_ExpiredTokenRejected(t *testing.T) {
	svc, store, clock, _ := testService(t)
	seedUser(t, store, &account.Account{
		ID: "u1", Identifier: "alice", PasswordHash: testHash(t, "correct"),
	})

	session, err := svc.SignIn(context.Background(), "alice", "correct", "")
	if err != nil {
		t.Fatalf("sign-in: %v", err)
	}

	clock.Advance(2 * time.Hour)
	_, err = svc.Authenticate(context.Background(), session.Token)
	if CodeOf(err) != CodeUnauthorized {
		t.Fatalf("expired token: err = %v, want unauthorized", err)
	}
}

func TestTokenManager_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{Secret: "short"}, nil)
	if err == nil {
		t.Fatal("short secret must be rejected")
	}
}

func TestTokenManager_UnknownClaimFieldRejected(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{Secret: testSecret, ClaimFields: []string{"shoe_size"}}, nil)
	if err == nil {
		t.Fatal("unknown claim field must be rejected")
	}
}
