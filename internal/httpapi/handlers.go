// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/authz"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/traffic"
)

// Server bundles the engine services behind the HTTP surface.
type Server struct {
	auth     *auth.Service
	pipeline *authz.Pipeline
	watch    *traffic.Watch
	store    account.Store

	signInRateLimit int
	corsOrigins     []string
}

// Options configures the HTTP surface.
type Options struct {
	// SignInRateLimit bounds sign-in attempts per client IP per minute.
	SignInRateLimit int

	CORSOrigins []string
}

// NewServer wires the services into an HTTP server.
func NewServer(authSvc *auth.Service, pipeline *authz.Pipeline, watch *traffic.Watch, store account.Store, opts Options) *Server {
	if opts.SignInRateLimit <= 0 {
		opts.SignInRateLimit = 30
	}
	return &Server{
		auth:            authSvc,
		pipeline:        pipeline,
		watch:           watch,
		store:           store,
		signInRateLimit: opts.SignInRateLimit,
		corsOrigins:     opts.CORSOrigins,
	}
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	TwoFACode  string `json:"two_fa_code,omitempty"`
}

// SignIn handles POST /api/v1/auth/sign-in.
func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed sign-in payload")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "identifier and password are required")
		return
	}

	session, err := s.auth.SignIn(r.Context(), req.Identifier, req.Password, req.TwoFACode)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SignOutAll handles POST /api/v1/auth/sign-out-all: bumping the
// revocation counter invalidates every outstanding token at once.
func (s *Server) SignOutAll(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil || identity.Guest {
		writeError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "sign-in required")
		return
	}

	next := identity.User.RevokedCount + 1
	if err := s.store.Patch(r.Context(), identity.UserID, account.Patch{RevokedCount: account.Int(next)}); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Str("user", identity.UserID).Msg("Failed to bump revocation counter")
		writeError(w, http.StatusInternalServerError, "internal", "could not revoke sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// Me handles GET /api/v1/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "sign-in required")
		return
	}
	body := map[string]any{
		"user_id": identity.UserID,
		"role":    identity.Role,
		"guest":   identity.Guest,
	}
	if identity.User != nil {
		body["identifier"] = identity.User.Identifier
		body["two_fa_enabled"] = identity.User.TwoFAEnabled
		body["captcha_requested"] = identity.User.CaptchaRequested
	}
	writeJSON(w, http.StatusOK, body)
}

// CaptchaVerify handles POST /api/v1/captcha/verify. This route is
// deliberately not behind the traffic gate.
func (s *Server) CaptchaVerify(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil || identity.Guest {
		writeError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "sign-in required")
		return
	}
	if err := s.watch.CompleteCaptcha(r.Context(), identity.User); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Str("user", identity.UserID).Msg("Failed to record captcha completion")
		writeError(w, http.StatusInternalServerError, "internal", "could not record captcha completion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"captcha_cleared": true})
}

type optionsPayload struct {
	Fields []string          `json:"fields,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

type checkRequest struct {
	Service string           `json:"service"`
	Origin  string           `json:"origin"`
	Method  string           `json:"method"`
	Command string           `json:"command,omitempty"`
	Query   map[string]any   `json:"query,omitempty"`
	Data    map[string]any   `json:"data,omitempty"`
	Batch   []map[string]any `json:"batch,omitempty"`
	Options *optionsPayload  `json:"options,omitempty"`
}

type checkResponse struct {
	Allowed  bool     `json:"allowed"`
	Role     string   `json:"role"`
	Bypassed bool     `json:"bypassed,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

// Check handles POST /api/v1/authz/check: it evaluates one request
// context through the authorization pipeline and reports the authorizing
// role and the narrowed field selection.
func (s *Server) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed check payload")
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "service is required")
		return
	}

	origin := models.Origin(req.Origin)
	switch origin {
	case models.OriginCRUD, models.OriginCommand:
	case "":
		origin = models.OriginCRUD
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "origin must be crud or cmd")
		return
	}

	identity := IdentityFromContext(r.Context())
	c := &models.CrudContext{
		Service: req.Service,
		Command: req.Command,
		Method:  req.Method,
		Origin:  origin,
		Query:   req.Query,
		Data:    req.Data,
		Batch:   req.Batch,
		IsBatch: len(req.Batch) > 0,
	}
	if identity != nil && !identity.Guest {
		c.User = identity.User
		c.UserID = identity.UserID
		c.Role = identity.Role
	}
	if req.Options != nil {
		c.Options = &models.Options{Fields: req.Options.Fields, Values: req.Options.Values}
	}

	decision, err := s.pipeline.Authorize(r.Context(), c)
	if err != nil {
		var fe *authz.ForbiddenError
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: errorDetail{
				Code:    fe.Code,
				Message: fe.Message,
				Limit:   fe.Limit,
			}})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "authorization failed")
		return
	}

	resp := checkResponse{Allowed: true, Role: decision.Role.Name, Bypassed: decision.Bypassed}
	if c.Options != nil {
		resp.Fields = c.Options.Fields
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthLive handles GET /healthz/live.
func (s *Server) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /healthz/ready: the process is ready once the
// account store answers.
func (s *Server) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.FindByID(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, account.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "account store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeAuthError maps an auth failure onto an HTTP status. Backoff and
// timeout denials carry a Retry-After header.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var ae *auth.AuthError
	if !errors.As(err, &ae) {
		writeError(w, http.StatusInternalServerError, "internal", "sign-in failed")
		return
	}

	status := http.StatusUnauthorized
	switch ae.Code {
	case auth.CodeTooManyAttempts, auth.CodeTimedOut:
		status = http.StatusTooManyRequests
		if ae.RetryAfterSec > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfterSec))
		}
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:          ae.Code,
		Message:       ae.Message,
		RetryAfterSec: ae.RetryAfterSec,
	}})
}
