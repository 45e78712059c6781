// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package trust computes the per-user trust score that relaxes quotas.
//
// The score formula itself is deployment-specific; this package only owns
// the cache contract: reuse the stored value inside the TTL, recompute on
// miss through a single-flight group, persist value and timestamp, and fall
// back to the last known value on recompute failure. Falling back to zero
// would collapse a user's quota by accident, so that never happens.
package trust

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gatewarden/gatewarden/internal/account"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
)

// DefaultTTL is how long a computed trust value is reused.
const DefaultTTL = 12 * time.Hour

// ComputeFunc recomputes a user's trust score.
type ComputeFunc func(ctx context.Context, a *account.Account) (float64, error)

// Scorer resolves trust scores with TTL caching and recompute dedup.
type Scorer struct {
	store   account.Store
	clock   account.Clock
	ttl     time.Duration
	compute ComputeFunc
	group   singleflight.Group
}

// NewScorer creates a Scorer. A nil compute function keeps the stored score
// as-is, which lets deployments without a formula still run the quota math.
func NewScorer(store account.Store, clock account.Clock, ttl time.Duration, compute ComputeFunc) *Scorer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = account.RealClock{}
	}
	return &Scorer{
		store:   store,
		clock:   clock,
		ttl:     ttl,
		compute: compute,
	}
}

// Score returns the user's current trust value, recomputing it when the
// cached value has aged past the TTL. Guests score zero.
func (s *Scorer) Score(ctx context.Context, a *account.Account) float64 {
	if a == nil {
		return 0
	}
	now := s.clock.Now()
	if now.Sub(a.LastComputedTrust) < s.ttl {
		return a.Trust
	}
	if s.compute == nil {
		return a.Trust
	}

	// Single-flight so concurrent requests from one user trigger one
	// recompute. A duplicate compute would be harmless but wasteful.
	value, err, _ := s.group.Do(a.ID, func() (any, error) {
		computed, err := s.compute(ctx, a)
		if err != nil {
			return nil, err
		}
		stamp := s.clock.Now()
		if err := s.store.Patch(ctx, a.ID, account.Patch{
			Trust:             account.Float(computed),
			LastComputedTrust: account.Time(stamp),
		}); err != nil {
			// The computed value is still good for this request; the
			// next request recomputes again.
			logging.Warn().Err(err).Str("user", a.ID).Msg("Failed to persist trust score")
		}
		return computed, nil
	})
	if err != nil {
		metrics.TrustRecomputeTotal.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("user", a.ID).Msg("Trust recompute failed, using last known value")
		return a.Trust
	}
	metrics.TrustRecomputeTotal.WithLabelValues("ok").Inc()
	return value.(float64)
}
