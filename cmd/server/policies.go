// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package main

import (
	"github.com/gatewarden/gatewarden/internal/ability"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/policy"
)

// registerPolicies installs the engine's built-in service policies.
// Embedding applications register their own alongside these.
func registerPolicies(registry *policy.Registry) {
	registry.MustRegister("accounts", accountsPolicy())
}

// accountsPolicy governs the account profile service: users manage their
// own record, moderators read everyone, admins have full access. Password
// hashes never leave the service regardless of role.
func accountsPolicy() *policy.Policy {
	return &policy.Policy{
		AlwaysExcludeFields: []string{"passwordHash", "lastTwoFACode"},
		RoleRights: map[string]*policy.Rights{
			"user": {
				Fields: []string{"id", "identifier", "role", "trust", "twoFAEnabled"},
				CRUD: func(b *ability.Builder, ctx *models.CrudContext) {
					b.Can("read", "accounts", ability.When(ownRecord))
					b.Can("update", "accounts", ability.When(ownRecord),
						ability.Fields("identifier", "twoFAEnabled"))
					b.Cannot("update", "accounts", ability.Fields("role", "trust"))
				},
			},
			"moderator": {
				Fields: []string{"id", "identifier", "role", "trust", "twoFAEnabled", "highTrafficCount"},
				CRUD: func(b *ability.Builder, ctx *models.CrudContext) {
					b.Can("read", "accounts")
				},
				Option: func(b *ability.Builder, ctx *models.CrudContext) {
					b.Can("read", "mockRole")
				},
			},
			"admin": {
				MaxBatchSize: 500,
				CRUD: func(b *ability.Builder, ctx *models.CrudContext) {
					b.Can("crud", "accounts")
				},
				Option: func(b *ability.Builder, ctx *models.CrudContext) {
					b.Can("crud", "mockRole")
					b.Can("crud", "populate")
				},
			},
		},
		CommandRights: map[string]map[string]*policy.Rights{
			"export": {
				"admin": {
					SecureOnly:     true,
					MaxUsesPerUser: 10,
					Command: func(b *ability.Builder, ctx *models.CrudContext) {
						b.Can("export", "accounts")
					},
				},
			},
		},
	}
}

// ownRecord restricts a grant to the caller's own account record.
func ownRecord(ctx *models.CrudContext) bool {
	if ctx.UserID == "" {
		return false
	}
	if id, ok := ctx.Query["id"].(string); ok {
		return id == ctx.UserID
	}
	// Absent an explicit id the data layer scopes to the caller.
	return true
}
