// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package account defines the authenticated principal and the collaborator
// contracts the engine depends on: the account store, the wall clock, and
// per-service usage bookkeeping.
//
// The engine never owns persistence. Everything here is either an interface
// implemented by the adopting system or a reference implementation of it
// (MemoryStore for tests and single-process use, BadgerStore for single-node
// deployments).
package account

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// ServiceUsage tracks how much of a service's quota an account has consumed.
type ServiceUsage struct {
	ItemsCreated int            `json:"items_created"`
	CommandUses  map[string]int `json:"command_uses,omitempty"`
}

// Account is the authenticated principal. Only the fields the authorization
// and authentication engines read or patch are modeled here; the adopting
// system is free to carry more.
type Account struct {
	ID           string `json:"id"`
	Identifier   string `json:"identifier"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`

	// RevokedCount is embedded in issued tokens; bumping it invalidates
	// every outstanding token ("logout everywhere").
	RevokedCount int `json:"revoked_count"`

	FailedLoginCount int       `json:"failed_login_count"`
	LastLoginAttempt time.Time `json:"last_login_attempt"`
	TimeoutUntil     time.Time `json:"timeout_until"`

	TwoFAEnabled  bool      `json:"two_fa_enabled"`
	LastTwoFACode string    `json:"last_two_fa_code,omitempty"`
	LastTwoFASent time.Time `json:"last_two_fa_sent"`

	Trust             float64   `json:"trust"`
	LastComputedTrust time.Time `json:"last_computed_trust"`

	CaptchaRequested bool `json:"captcha_requested"`
	DidCaptcha       bool `json:"did_captcha"`
	HighTrafficCount int  `json:"high_traffic_count"`

	// Usage maps service name to per-service quota counters.
	Usage map[string]*ServiceUsage `json:"usage,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing store internals.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	copied := *a
	if a.Usage != nil {
		copied.Usage = make(map[string]*ServiceUsage, len(a.Usage))
		for svc, u := range a.Usage {
			uc := &ServiceUsage{ItemsCreated: u.ItemsCreated}
			if u.CommandUses != nil {
				uc.CommandUses = make(map[string]int, len(u.CommandUses))
				for cmd, n := range u.CommandUses {
					uc.CommandUses[cmd] = n
				}
			}
			copied.Usage[svc] = uc
		}
	}
	return &copied
}

// ItemsCreated returns the create counter for a service, zero if untracked.
func (a *Account) ItemsCreated(service string) int {
	if a == nil || a.Usage == nil {
		return 0
	}
	if u, ok := a.Usage[service]; ok {
		return u.ItemsCreated
	}
	return 0
}

// CommandUses returns the usage counter for a command, zero if untracked.
func (a *Account) CommandUses(service, cmd string) int {
	if a == nil || a.Usage == nil {
		return 0
	}
	u, ok := a.Usage[service]
	if !ok || u.CommandUses == nil {
		return 0
	}
	return u.CommandUses[cmd]
}

// TimedOut reports whether the account is under an active abuse timeout.
func (a *Account) TimedOut(now time.Time) bool {
	return a != nil && now.Before(a.TimeoutUntil)
}
