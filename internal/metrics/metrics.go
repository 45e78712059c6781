// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package metrics exposes Prometheus metrics for the authorization and
// authentication engines: decision outcomes, sign-in results, traffic
// escalations, and trust cache behavior.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisionsTotal counts authorization decisions by service,
	// method, and outcome.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"service", "method", "decision"},
	)

	// AuthzDeniedTotal tracks denials by reason for alerting.
	AuthzDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_authz_denied_total",
			Help: "Total number of authorization denials",
		},
		[]string{"service", "role", "reason"},
	)

	// AuthzDecisionDuration tracks decision latency.
	AuthzDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewarden_authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	// SignInTotal counts sign-in attempts by outcome.
	SignInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_signin_total",
			Help: "Total number of sign-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TrafficEscalationsTotal counts users escalated past the request
	// threshold in a traffic window.
	TrafficEscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_traffic_escalations_total",
			Help: "Total number of high-traffic escalations",
		},
	)

	// CaptchaDeniedTotal counts requests rejected pending captcha.
	CaptchaDeniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_captcha_denied_total",
			Help: "Total number of requests denied pending captcha completion",
		},
	)

	// TrustRecomputeTotal counts trust recomputations by outcome.
	TrustRecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_trust_recompute_total",
			Help: "Total number of trust score recomputations",
		},
		[]string{"outcome"},
	)
)

// RecordDecision records one authorization decision and its latency.
func RecordDecision(service, method string, allowed bool, elapsed time.Duration) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}
	AuthzDecisionsTotal.WithLabelValues(service, method, decision).Inc()
	AuthzDecisionDuration.Observe(elapsed.Seconds())
}

// RecordDenial records a denial with its reason label.
func RecordDenial(service, role, reason string) {
	AuthzDeniedTotal.WithLabelValues(service, role, reason).Inc()
}

// RecordSignIn records a sign-in outcome.
func RecordSignIn(outcome string) {
	SignInTotal.WithLabelValues(outcome).Inc()
}
