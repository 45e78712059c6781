// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package ability decides allow/deny for a (verb, subject, fields) request
// against a role's rule set.
//
// Rule sets are not stored anywhere. Each policy carries callbacks that,
// given a fresh Builder and the request context, register can/cannot grants;
// the engine invokes the callback per check and evaluates the accumulated
// rules. Callbacks must behave as pure functions of the context.
package ability

import (
	"github.com/gatewarden/gatewarden/internal/models"
)

// Func is a rule-registration callback supplied by a security policy.
type Func func(b *Builder, ctx *models.CrudContext)

// Condition gates a rule on the request context.
type Condition func(ctx *models.CrudContext) bool

// Rule is a single can or cannot grant.
type Rule struct {
	// Verbs are primitive HTTP verbs, or literal command names for
	// command-origin checks. Aliases are expanded at registration.
	Verbs []string

	Subject string

	// Fields scopes the rule to specific field names. Empty means the rule
	// covers the whole subject.
	Fields []string

	// Condition, when set, must hold for the rule to apply.
	Condition Condition
}

// GrantOption customizes a rule at registration time.
type GrantOption func(*Rule)

// Fields scopes a grant to the named fields.
func Fields(names ...string) GrantOption {
	return func(r *Rule) { r.Fields = names }
}

// When gates a grant on a context condition.
func When(cond Condition) GrantOption {
	return func(r *Rule) { r.Condition = cond }
}

// Builder accumulates can/cannot grants for one evaluation. A fresh Builder
// is handed to the policy callback on every check.
type Builder struct {
	can    []Rule
	cannot []Rule

	// expandAliases is false for command checks, where the "verb" is the
	// literal command name.
	expandAliases bool
}

// NewBuilder returns a builder that expands verb aliases.
func NewBuilder() *Builder {
	return &Builder{expandAliases: true}
}

// NewCommandBuilder returns a builder for command checks; verbs are matched
// literally.
func NewCommandBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) newRule(verb, subject string, opts []GrantOption) Rule {
	r := Rule{Subject: subject}
	if b.expandAliases {
		r.Verbs = expandVerbs(verb)
	} else {
		r.Verbs = []string{verb}
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Can registers an allow grant for verb (or alias) on subject.
func (b *Builder) Can(verb, subject string, opts ...GrantOption) *Builder {
	b.can = append(b.can, b.newRule(verb, subject, opts))
	return b
}

// Cannot registers a deny grant for verb (or alias) on subject. A matching
// Cannot always wins over any matching Can.
func (b *Builder) Cannot(verb, subject string, opts ...GrantOption) *Builder {
	b.cannot = append(b.cannot, b.newRule(verb, subject, opts))
	return b
}

// matches reports whether the rule applies to (verb, subject, field) under
// the given context. An empty field means a bare entity-level check, which
// field-scoped rules still cover for Can but not for Cannot; a field-scoped
// denial only blocks the fields it names.
func (r *Rule) matches(ctx *models.CrudContext, verb, subject, field string, denial bool) bool {
	if r.Subject != subject {
		return false
	}
	verbOK := false
	for _, v := range r.Verbs {
		if v == verb {
			verbOK = true
			break
		}
	}
	if !verbOK {
		return false
	}
	if len(r.Fields) > 0 {
		if field == "" {
			// Bare check: a field-scoped Cannot does not deny the entity.
			if denial {
				return false
			}
		} else {
			fieldOK := false
			for _, f := range r.Fields {
				if f == field {
					fieldOK = true
					break
				}
			}
			if !fieldOK {
				return false
			}
		}
	}
	if r.Condition != nil && !r.Condition(ctx) {
		return false
	}
	return true
}

// allows reports whether the accumulated rules permit (verb, subject, field):
// at least one Can matches and no Cannot does.
func (b *Builder) allows(ctx *models.CrudContext, verb, subject, field string) bool {
	granted := false
	for i := range b.can {
		if b.can[i].matches(ctx, verb, subject, field, false) {
			granted = true
			break
		}
	}
	if !granted {
		return false
	}
	for i := range b.cannot {
		if b.cannot[i].matches(ctx, verb, subject, field, true) {
			return false
		}
	}
	return true
}

// allowedFields returns the union of field allow-lists across Can rules
// matching (verb, subject). Empty when any matching rule is unscoped.
func (b *Builder) allowedFields(ctx *models.CrudContext, verb, subject string) []string {
	var fields []string
	seen := make(map[string]bool)
	for i := range b.can {
		r := &b.can[i]
		if !r.matches(ctx, verb, subject, "", false) {
			continue
		}
		if len(r.Fields) == 0 {
			return nil
		}
		for _, f := range r.Fields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}
