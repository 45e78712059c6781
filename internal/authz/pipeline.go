// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package authz orchestrates per-request authorization: role resolution,
// policy lookup, ability evaluation with role-inheritance fallback, and
// quota and batch-size enforcement.
//
// The pipeline is read-only. Its only side effect on a request is the
// narrowing of the output field selection; usage counters are incremented
// by the data-access collaborator after the operation commits, with this
// pipeline as the sole gate permitting that increment.
package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/ability"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/policy"
	"github.com/gatewarden/gatewarden/internal/rolegraph"
	"github.com/gatewarden/gatewarden/internal/trust"
)

// Config holds the engine-wide authorization knobs.
type Config struct {
	// DefaultMaxItemsPerUser applies when a policy declares no per-user
	// item quota of its own.
	DefaultMaxItemsPerUser int

	// AdminBatchFloor is the implicit batch ceiling granted to admin
	// roles that declare none.
	AdminBatchFloor int

	// FallbackRole is used when a caller's stored role no longer exists.
	FallbackRole string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxItemsPerUser: 100,
		AdminBatchFloor:        100,
		FallbackRole:           "guest",
	}
}

// Decision reports the allow outcome of a pipeline run.
type Decision struct {
	// Role is the role that authorized the request. With inheritance
	// fallback this may be an ancestor of the caller's own role.
	Role rolegraph.Role

	// Bypassed is true when the guest fast-path skipped evaluation.
	Bypassed bool
}

// Pipeline is the single authorization gate. Construct once at boot and
// share across requests; it holds no per-request state.
type Pipeline struct {
	graph    *rolegraph.Graph
	policies *policy.Registry
	scorer   *trust.Scorer
	cfg      Config
}

// New creates a Pipeline.
func New(graph *rolegraph.Graph, policies *policy.Registry, scorer *trust.Scorer, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.DefaultMaxItemsPerUser <= 0 {
		cfg.DefaultMaxItemsPerUser = def.DefaultMaxItemsPerUser
	}
	if cfg.AdminBatchFloor <= 0 {
		cfg.AdminBatchFloor = def.AdminBatchFloor
	}
	if cfg.FallbackRole == "" {
		cfg.FallbackRole = def.FallbackRole
	}
	return &Pipeline{graph: graph, policies: policies, scorer: scorer, cfg: cfg}
}

// Authorize decides whether the request may proceed. It returns the
// authorizing role on allow and a *ForbiddenError on deny. Errors never
// escape as anything else; misconfiguration degrades to a deny.
func (p *Pipeline) Authorize(ctx context.Context, c *models.CrudContext) (*Decision, error) {
	start := time.Now()
	decision, err := p.authorize(ctx, c)
	metrics.RecordDecision(c.Service, c.Method, err == nil, time.Since(start))
	if err != nil {
		if fe, ok := err.(*ForbiddenError); ok {
			metrics.RecordDenial(c.Service, c.Role, fe.Code)
		}
		logger := logging.Ctx(ctx)
		logger.Debug().
			Err(err).
			Str("service", c.Service).
			Str("role", c.Role).
			Str("method", c.Method).
			Msg("Authorization denied")
	}
	return decision, err
}

func (p *Pipeline) authorize(ctx context.Context, c *models.CrudContext) (*Decision, error) {
	chain, fe := p.roleChain(c)
	if fe != nil {
		return nil, fe
	}

	pol, err := p.policies.Lookup(c.Service)
	if err != nil {
		// Missing policy is fatal at registration time; a request that
		// still reaches here degrades to a deny rather than a crash.
		return nil, &ForbiddenError{
			Code:    ReasonMisconfiguration,
			Message: "no security policy registered for service",
			Service: c.Service,
			Role:    c.Role,
			Method:  c.Method,
		}
	}

	if c.IsBatch {
		if fe := p.checkBatchSize(c, pol, chain); fe != nil {
			return nil, fe
		}
	}

	if decision := p.guestFastPath(c, pol, chain); decision != nil {
		return decision, nil
	}

	if fe := p.checkQuotas(ctx, c, pol, chain); fe != nil {
		return nil, fe
	}

	return p.resolveAbility(c, pol, chain)
}

// roleChain resolves the caller's role chain, degrading a deleted stored
// role to the fallback role.
func (p *Pipeline) roleChain(c *models.CrudContext) ([]rolegraph.Role, *ForbiddenError) {
	name := c.Role
	if name == "" {
		name = p.cfg.FallbackRole
	}
	if !p.graph.Has(name) {
		logging.Warn().
			Str("role", name).
			Str("fallback", p.cfg.FallbackRole).
			Msg("Stored role not found, degrading to fallback")
		name = p.cfg.FallbackRole
	}
	chain, err := p.graph.Chain(name)
	if err != nil {
		return nil, &ForbiddenError{
			Code:    ReasonMisconfiguration,
			Message: fmt.Sprintf("role %q is not configured", name),
			Service: c.Service,
			Role:    c.Role,
			Method:  c.Method,
		}
	}
	return chain, nil
}

// guestFastPath allows guest-readable services and guest-callable commands
// without quota or ability evaluation. Only GETs qualify on the CRUD side;
// writes always go through full evaluation.
func (p *Pipeline) guestFastPath(c *models.CrudContext, pol *policy.Policy, chain []rolegraph.Role) *Decision {
	switch c.Origin {
	case models.OriginCRUD:
		if pol.GuestReadAll && c.Method == models.MethodGet {
			return &Decision{Role: chain[0], Bypassed: true}
		}
	case models.OriginCommand:
		if pol.GuestCommands[c.Command] {
			return &Decision{Role: chain[0], Bypassed: true}
		}
	}
	return nil
}

// checkBatchSize enforces the batch ceiling: the maximum MaxBatchSize
// declared across the caller's role and all its ancestors, with an implicit
// floor for admin roles. A hard deny here precedes any per-item check.
func (p *Pipeline) checkBatchSize(c *models.CrudContext, pol *policy.Policy, chain []rolegraph.Role) *ForbiddenError {
	size := c.BatchSize()
	if size < 1 {
		return &ForbiddenError{
			Code:    ReasonEmptyBatch,
			Message: "batch request carries no items",
			Service: c.Service,
			Role:    c.Role,
			Method:  c.Method,
			Command: c.Command,
		}
	}

	ceiling := 0
	for _, role := range chain {
		r := p.rightsFor(c, pol, role.Name)
		if r != nil && r.MaxBatchSize > ceiling {
			ceiling = r.MaxBatchSize
		}
		if role.IsAdmin && p.cfg.AdminBatchFloor > ceiling {
			ceiling = p.cfg.AdminBatchFloor
		}
	}

	if size > ceiling {
		return &ForbiddenError{
			Code:    ReasonBatchTooLarge,
			Message: fmt.Sprintf("batch of %d exceeds the allowed maximum of %d", size, ceiling),
			Service: c.Service,
			Role:    c.Role,
			Method:  c.Method,
			Command: c.Command,
			Limit:   ceiling,
		}
	}
	return nil
}

// trustBonus applies the trust formula: coefficient × trust, counted only
// when the score reaches at least one point.
func trustBonus(coefficient int, score float64) int {
	if score < 1 || coefficient <= 0 {
		return 0
	}
	return int(float64(coefficient) * score)
}

// checkQuotas enforces the per-user item quota for plain creates and the
// per-command usage quota. Counters are read from a point-in-time account
// snapshot; slight staleness and small overshoot under concurrent requests
// are accepted by design.
func (p *Pipeline) checkQuotas(ctx context.Context, c *models.CrudContext, pol *policy.Policy, chain []rolegraph.Role) *ForbiddenError {
	switch c.Origin {
	case models.OriginCRUD:
		return p.checkItemQuota(ctx, c, pol)
	case models.OriginCommand:
		return p.checkCommandQuota(ctx, c, pol, chain)
	}
	return nil
}

func (p *Pipeline) checkItemQuota(ctx context.Context, c *models.CrudContext, pol *policy.Policy) *ForbiddenError {
	if c.Method != models.MethodPost || c.IsBatch || c.IsGuest() {
		return nil
	}

	limit := pol.MaxItemsPerUser
	if limit <= 0 {
		limit = p.cfg.DefaultMaxItemsPerUser
	}
	effective := limit + trustBonus(pol.AdditionalItemsPerTrustPoint, p.scorer.Score(ctx, c.User))

	created := c.User.ItemsCreated(c.Service)
	if created+1 > effective {
		return &ForbiddenError{
			Code:    ReasonQuotaExceeded,
			Message: fmt.Sprintf("item quota of %d reached for this service", effective),
			Service: c.Service,
			Role:    c.Role,
			Method:  c.Method,
			Limit:   effective,
		}
	}
	return nil
}

func (p *Pipeline) checkCommandQuota(ctx context.Context, c *models.CrudContext, pol *policy.Policy, chain []rolegraph.Role) *ForbiddenError {
	// The governing rights are the first declared for this command along
	// the chain, mirroring ability fallback order.
	var rights *policy.Rights
	for _, role := range chain {
		if r := pol.CommandRightsFor(c.Command, role.Name); r != nil {
			rights = r
			break
		}
	}
	if rights == nil {
		return nil
	}

	if rights.MaxUsesPerUser > 0 || rights.SecureOnly {
		// Usage counters cannot be trusted from a cached user snapshot,
		// so metered and secure-only commands must arrive on the secure
		// POST channel.
		if c.Method != models.MethodPost {
			return &ForbiddenError{
				Code:    ReasonInsecureChannel,
				Message: "command must be invoked over the secure channel",
				Service: c.Service,
				Role:    c.Role,
				Method:  c.Method,
				Command: c.Command,
			}
		}
	}

	if rights.MaxUsesPerUser > 0 && !c.IsGuest() {
		effective := rights.MaxUsesPerUser + trustBonus(rights.AdditionalUsesPerTrustPoint, p.scorer.Score(ctx, c.User))
		uses := c.User.CommandUses(c.Service, c.Command)
		if uses+1 > effective {
			return &ForbiddenError{
				Code:    ReasonCommandQuota,
				Message: fmt.Sprintf("command usage quota of %d reached", effective),
				Service: c.Service,
				Role:    c.Role,
				Method:  c.Method,
				Command: c.Command,
				Limit:   effective,
			}
		}
	}
	return nil
}

// rightsFor returns the rights governing this request for one role.
func (p *Pipeline) rightsFor(c *models.CrudContext, pol *policy.Policy, roleName string) *policy.Rights {
	if c.Origin == models.OriginCommand {
		return pol.CommandRightsFor(c.Command, roleName)
	}
	return pol.RightsFor(roleName)
}

// resolveAbility walks the role chain until one role's rule set passes both
// the CRUD/command check and the option check. The first passing role is
// the authorizing role.
func (p *Pipeline) resolveAbility(c *models.CrudContext, pol *policy.Policy, chain []rolegraph.Role) (*Decision, error) {
	methodOrCmd := c.Method
	if c.Origin == models.OriginCommand {
		methodOrCmd = c.Command
	}
	fields := ability.TouchedFields(c)

	for _, role := range chain {
		rights := p.rightsFor(c, pol, role.Name)
		if rights == nil {
			continue
		}

		fn := rights.CRUD
		if c.Origin == models.OriginCommand {
			fn = rights.Command
		}
		if !ability.Check(fn, c, methodOrCmd, c.Service, fields) {
			continue
		}
		if !ability.CheckOptions(rights.Option, c, methodOrCmd) {
			continue
		}

		p.applyFieldNarrowing(c, pol, rights)
		return &Decision{Role: role}, nil
	}

	msg := fmt.Sprintf("role %q may not %s on service %q", c.Role, methodOrCmd, c.Service)
	return nil, &ForbiddenError{
		Code:    ReasonRoleDenied,
		Message: msg,
		Service: c.Service,
		Role:    c.Role,
		Method:  c.Method,
		Command: c.Command,
	}
}

// applyFieldNarrowing finishes the response-narrowing side effect: the
// rights-level field allow-list applies when rule-level narrowing did not,
// and always-excluded fields are stripped from whatever remains.
func (p *Pipeline) applyFieldNarrowing(c *models.CrudContext, pol *policy.Policy, rights *policy.Rights) {
	if c.Method != models.MethodGet || c.Options == nil {
		return
	}
	if len(c.Options.Fields) == 0 && len(rights.Fields) > 0 {
		c.Options.Fields = append([]string(nil), rights.Fields...)
	}
	if len(pol.AlwaysExcludeFields) == 0 || len(c.Options.Fields) == 0 {
		return
	}
	excluded := make(map[string]bool, len(pol.AlwaysExcludeFields))
	for _, f := range pol.AlwaysExcludeFields {
		excluded[f] = true
	}
	kept := c.Options.Fields[:0]
	for _, f := range c.Options.Fields {
		if !excluded[f] {
			kept = append(kept, f)
		}
	}
	c.Options.Fields = kept
}
