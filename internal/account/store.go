// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package account

import (
	"context"
	"sync"
	"time"
)

// Patch is a partial account update. Nil fields are left untouched.
// Counter updates may be applied fire-and-forget by the adopting system;
// the engine never depends on read-your-writes for them.
type Patch struct {
	FailedLoginCount  *int
	LastLoginAttempt  *time.Time
	TimeoutUntil      *time.Time
	RevokedCount      *int
	LastTwoFACode     *string
	LastTwoFASent     *time.Time
	Trust             *float64
	LastComputedTrust *time.Time
	CaptchaRequested  *bool
	DidCaptcha        *bool
	HighTrafficCount  *int
}

// Pointer helpers for building patches.

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Str returns a pointer to v.
func Str(v string) *string { return &v }

// Time returns a pointer to v.
func Time(v time.Time) *time.Time { return &v }

// Store is the persistence contract the engine consumes. Implementations
// must be safe for concurrent use.
type Store interface {
	// FindByID loads an account by its ID. Returns ErrNotFound if absent.
	FindByID(ctx context.Context, id string) (*Account, error)

	// FindByIdentifier loads an account by its login identifier.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// FindCached loads a possibly stale snapshot. Implementations without a
	// cache may delegate to FindByID.
	FindCached(ctx context.Context, id string) (*Account, error)

	// Patch applies a partial update to an existing account.
	Patch(ctx context.Context, id string, p Patch) error

	// Create inserts a new account.
	Create(ctx context.Context, a *Account) error
}

// Clock abstracts wall-clock time so backoff, lockout, and TTL logic is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// ManualClock is a test Clock advanced explicitly.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// applyPatch merges a Patch into an account in place.
func applyPatch(a *Account, p Patch) {
	if p.FailedLoginCount != nil {
		a.FailedLoginCount = *p.FailedLoginCount
	}
	if p.LastLoginAttempt != nil {
		a.LastLoginAttempt = *p.LastLoginAttempt
	}
	if p.TimeoutUntil != nil {
		a.TimeoutUntil = *p.TimeoutUntil
	}
	if p.RevokedCount != nil {
		a.RevokedCount = *p.RevokedCount
	}
	if p.LastTwoFACode != nil {
		a.LastTwoFACode = *p.LastTwoFACode
	}
	if p.LastTwoFASent != nil {
		a.LastTwoFASent = *p.LastTwoFASent
	}
	if p.Trust != nil {
		a.Trust = *p.Trust
	}
	if p.LastComputedTrust != nil {
		a.LastComputedTrust = *p.LastComputedTrust
	}
	if p.CaptchaRequested != nil {
		a.CaptchaRequested = *p.CaptchaRequested
	}
	if p.DidCaptcha != nil {
		a.DidCaptcha = *p.DidCaptcha
	}
	if p.HighTrafficCount != nil {
		a.HighTrafficCount = *p.HighTrafficCount
	}
}

// MemoryStore is a thread-safe in-memory Store, used in tests and
// single-process deployments.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]*Account
	byIdentifier map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]*Account),
		byIdentifier: make(map[string]string),
	}
}

// Create inserts a new account.
func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a.Clone()
	if a.Identifier != "" {
		s.byIdentifier[a.Identifier] = a.ID
	}
	return nil
}

// FindByID loads an account by ID.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// FindByIdentifier loads an account by login identifier.
func (s *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentifier[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// FindCached delegates to FindByID; the memory store has no stale tier.
func (s *MemoryStore) FindCached(ctx context.Context, id string) (*Account, error) {
	return s.FindByID(ctx, id)
}

// Patch applies a partial update.
func (s *MemoryStore) Patch(ctx context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	applyPatch(a, p)
	return nil
}

// AddItemsCreated bumps the per-service create counter. This mimics the
// data-access collaborator that increments after a commit; tests use it to
// simulate committed writes.
func (s *MemoryStore) AddItemsCreated(id, service string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.Usage == nil {
		a.Usage = make(map[string]*ServiceUsage)
	}
	u, ok := a.Usage[service]
	if !ok {
		u = &ServiceUsage{}
		a.Usage[service] = u
	}
	u.ItemsCreated += n
	return nil
}

// AddCommandUse bumps the per-command usage counter.
func (s *MemoryStore) AddCommandUse(id, service, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.Usage == nil {
		a.Usage = make(map[string]*ServiceUsage)
	}
	u, ok := a.Usage[service]
	if !ok {
		u = &ServiceUsage{}
		a.Usage[service] = u
	}
	if u.CommandUses == nil {
		u.CommandUses = make(map[string]int)
	}
	u.CommandUses[cmd]++
	return nil
}
