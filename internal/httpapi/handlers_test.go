// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/gatewarden/internal/ability"
	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/authz"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/policy"
	"github.com/gatewarden/gatewarden/internal/rolegraph"
	"github.com/gatewarden/gatewarden/internal/traffic"
	"github.com/gatewarden/gatewarden/internal/trust"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	server *Server
	store  *account.MemoryStore
	clock  *account.ManualClock
	http   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := account.NewMemoryStore()
	clock := account.NewManualClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:      testSecret,
		TTL:         time.Hour,
		ClaimFields: []string{"role"},
	}, clock)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	authSvc := auth.NewService(store, tokens, nil, clock, auth.Config{})

	graph, err := rolegraph.Build([]rolegraph.Role{
		{Name: "guest"},
		{Name: "user", Inherits: []string{"guest"}},
		{Name: "admin", Inherits: []string{"user"}, IsAdmin: true},
	})
	if err != nil {
		t.Fatalf("role graph: %v", err)
	}

	registry := policy.NewRegistry()
	registry.MustRegister("notes", &policy.Policy{
		RoleRights: map[string]*policy.Rights{
			"user": {
				CRUD: func(b *ability.Builder, _ *models.CrudContext) {
					b.Can("crud", "notes")
				},
			},
		},
	})

	scorer := trust.NewScorer(store, clock, 12*time.Hour, nil)
	watch := traffic.New(store, clock, traffic.Config{
		RequestThreshold:      3,
		TimeoutThresholdTotal: 100,
	})
	pipeline := authz.New(graph, registry, scorer, authz.Config{})

	server := NewServer(authSvc, pipeline, watch, store, Options{SignInRateLimit: 100})
	return &fixture{server: server, store: store, clock: clock, http: server.Router()}
}

func (f *fixture) seedUser(t *testing.T, id, identifier, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = f.store.Create(context.Background(), &account.Account{
		ID: id, Identifier: identifier, PasswordHash: string(hash), Role: role,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) signIn(t *testing.T, identifier, password string) string {
	t.Helper()
	rec := f.do(t, "POST", "/api/v1/auth/sign-in", "",
		map[string]string{"identifier": identifier, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body %s", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session.Token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)
	return rec
}

func TestSignInAndMe(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")

	token := f.signIn(t, "alice", "secret")
	rec := f.do(t, "GET", "/api/v1/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	var me struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
		Guest  bool   `json:"guest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != "u1" || me.Role != "user" || me.Guest {
		t.Errorf("me = %+v", me)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")

	rec := f.do(t, "POST", "/api/v1/auth/sign-in", "",
		map[string]string{"identifier": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthzCheckAllowAndDeny(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")
	token := f.signIn(t, "alice", "secret")

	rec := f.do(t, "POST", "/api/v1/authz/check", token, map[string]any{
		"service": "notes",
		"method":  "GET",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("allow status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Allowed || resp.Role != "user" {
		t.Errorf("resp = %+v", resp)
	}

	// Guest has no rights on the notes service.
	rec = f.do(t, "POST", "/api/v1/authz/check", "", map[string]any{
		"service": "notes",
		"method":  "GET",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("guest status = %d, want 403", rec.Code)
	}
}

func TestAuthzCheckUnknownServiceDenied(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")
	token := f.signIn(t, "alice", "secret")

	rec := f.do(t, "POST", "/api/v1/authz/check", token, map[string]any{
		"service": "ghost",
		"method":  "GET",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTrafficGateBlocksUntilCaptcha(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")
	token := f.signIn(t, "alice", "secret")

	// The request threshold is 3; drive the account over it.
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = f.do(t, "GET", "/api/v1/me", token, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status after burst = %d, want 429", last.Code)
	}

	// Captcha verification bypasses the gate and clears the flag.
	rec := f.do(t, "POST", "/api/v1/captcha/verify", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("captcha status = %d", rec.Code)
	}
	rec = f.do(t, "GET", "/api/v1/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status after captcha = %d, want 200", rec.Code)
	}
}

func TestSignOutAllRevokesTokens(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "alice", "secret", "user")
	token := f.signIn(t, "alice", "secret")

	rec := f.do(t, "POST", "/api/v1/auth/sign-out-all", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-out-all status = %d", rec.Code)
	}

	rec = f.do(t, "GET", "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with revoked token = %d, want 401", rec.Code)
	}
}

func TestHealthProbes(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, "GET", "/healthz/live", "", nil); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/healthz/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}
}
