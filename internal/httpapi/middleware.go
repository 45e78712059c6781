// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/traffic"
)

type identityKey struct{}

// IdentityFromContext returns the authenticated identity set by the
// Authenticate middleware, or nil.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey{}).(*auth.Identity)
	return id
}

func contextWithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// RequestID assigns every request a request ID, echoed in the
// X-Request-ID header and attached to the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// Authenticate resolves the bearer token into an identity. Requests
// without a token proceed as guests; requests with a bad token are
// rejected here so handlers never see a half-authenticated caller.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			status := http.StatusUnauthorized
			writeError(w, status, auth.CodeOf(err), "invalid or revoked session token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithIdentity(r.Context(), identity)))
	})
}

// TrafficGuard records the request against the caller's traffic window
// and rejects callers that owe a captcha.
func (s *Server) TrafficGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if identity != nil && identity.User != nil {
			s.watch.Record(r.Context(), identity.User)
			if err := s.watch.Gate(identity.User); err != nil {
				if errors.Is(err, traffic.ErrCaptchaRequired) {
					writeError(w, http.StatusTooManyRequests, "captcha_required",
						"complete the captcha challenge before retrying")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal", "traffic gate failed")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
