// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health probes stay unauthenticated.
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/live", s.HealthLive)
		r.Get("/ready", s.HealthReady)
	})

	// Sign-in carries its own per-IP rate limit on top of the per-account
	// backoff, so a botnet cannot grind one IP's worth of identifiers.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(httprate.Limit(
			s.signInRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		)).Post("/sign-in", s.SignIn)

		r.Group(func(r chi.Router) {
			r.Use(s.Authenticate)
			r.Post("/sign-out-all", s.SignOutAll)
		})
	})

	// Captcha verification is authenticated but deliberately outside the
	// traffic gate; a gated account must be able to clear itself.
	r.Route("/api/v1/captcha", func(r chi.Router) {
		r.Use(s.Authenticate)
		r.Post("/verify", s.CaptchaVerify)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.Authenticate)
		r.Use(s.TrafficGuard)

		r.Get("/me", s.Me)
		r.Post("/authz/check", s.Check)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
