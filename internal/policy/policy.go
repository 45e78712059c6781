// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package policy holds per-service security policies: the role-to-rights
// map, quota and batch limits, trust bonus coefficients, and the always
// excluded response fields.
//
// Policies are registered once at boot and read-only afterwards. A missing
// or duplicate registration is a misconfiguration, surfaced as an error at
// registration time and treated as deny at request time.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gatewarden/gatewarden/internal/ability"
)

var (
	// ErrPolicyNotFound is returned when a service has no registered policy.
	ErrPolicyNotFound = errors.New("security policy not found")

	// ErrCommandNotFound is returned when a command has no rights entry.
	ErrCommandNotFound = errors.New("command rights not found")
)

// Rights describes what one role may do on one service or command.
type Rights struct {
	// Fields is the response field allow-list applied on reads.
	Fields []string

	// MaxBatchSize caps multi-item requests for this role; 0 means the
	// role grants no batch capacity of its own.
	MaxBatchSize int

	// MaxUsesPerUser caps per-command invocations; 0 means unlimited.
	MaxUsesPerUser int

	// AdditionalUsesPerTrustPoint relaxes MaxUsesPerUser per trust point.
	AdditionalUsesPerTrustPoint int

	// SecureOnly forces the command onto the secure (POST) channel.
	SecureOnly bool

	// CRUD registers can/cannot grants for plain CRUD checks.
	CRUD ability.Func

	// Command registers grants for command checks (literal names).
	Command ability.Func

	// Option registers grants for request option keys.
	Option ability.Func
}

// Policy is one service's security policy.
type Policy struct {
	// RoleRights maps role name to that role's CRUD rights.
	RoleRights map[string]*Rights

	// CommandRights maps command name to a role-to-rights map.
	CommandRights map[string]map[string]*Rights

	// MaxItemsPerUser caps plain CRUD creates per user; 0 falls back to
	// the engine-wide default.
	MaxItemsPerUser int

	// AdditionalItemsPerTrustPoint relaxes MaxItemsPerUser per trust point.
	AdditionalItemsPerTrustPoint int

	// AlwaysExcludeFields are stripped from responses regardless of role.
	AlwaysExcludeFields []string

	// GuestReadAll lets unauthenticated GETs bypass ability evaluation.
	GuestReadAll bool

	// GuestCommands lists commands any caller may invoke without
	// evaluation.
	GuestCommands map[string]bool
}

// RightsFor returns the CRUD rights for a role, nil if the role has none.
func (p *Policy) RightsFor(role string) *Rights {
	if p.RoleRights == nil {
		return nil
	}
	return p.RoleRights[role]
}

// CommandRightsFor returns the rights for (command, role), nil if absent.
func (p *Policy) CommandRightsFor(cmd, role string) *Rights {
	if p.CommandRights == nil {
		return nil
	}
	byRole, ok := p.CommandRights[cmd]
	if !ok {
		return nil
	}
	return byRole[role]
}

// Registry resolves service names to their policies. Registration happens
// during boot; lookups are request-time and lock-free after a read lock.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]*Policy)}
}

// Register installs a policy for a service. Duplicate registration and nil
// policies are boot-time misconfigurations.
func (r *Registry) Register(service string, p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy: nil policy for service %q", service)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.policies[service]; dup {
		return fmt.Errorf("policy: service %q already registered", service)
	}
	r.policies[service] = p
	return nil
}

// MustRegister is Register for boot paths where a failure is fatal anyway.
func (r *Registry) MustRegister(service string, p *Policy) {
	if err := r.Register(service, p); err != nil {
		panic(err)
	}
}

// Lookup returns the policy for a service.
func (r *Registry) Lookup(service string) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[service]
	if !ok {
		return nil, fmt.Errorf("%w: service %q", ErrPolicyNotFound, service)
	}
	return p, nil
}
