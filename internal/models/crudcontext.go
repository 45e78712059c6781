// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package models holds the request-scoped value objects shared by the
// ability engine, the policy registry, and the authorization pipeline.
package models

import (
	"github.com/gatewarden/gatewarden/internal/account"
)

// Origin distinguishes plain CRUD requests from command invocations.
type Origin string

const (
	// OriginCRUD marks a plain create/read/update/delete request.
	OriginCRUD Origin = "crud"

	// OriginCommand marks a named command invocation.
	OriginCommand Origin = "cmd"
)

// HTTP verbs the ability engine matches against.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// Options carries the request's side-channel options. The ability engine may
// narrow Fields as an authorization side effect; every key in Values is
// subject to the policy's option ability check.
type Options struct {
	// Fields is the output field selection. Overwritten with the
	// authorizing rule set's allow-list on GET requests.
	Fields []string

	// Values holds option keys such as "populate" or "mockRole".
	Values map[string]string
}

// CrudContext is the per-request ephemeral value object the pipeline
// evaluates. It is created at request start and discarded at request end;
// it is never persisted.
type CrudContext struct {
	// User is the caller's account snapshot, nil for guests.
	User *account.Account

	UserID  string
	Role    string
	Service string
	Command string

	// Method is the HTTP verb for CRUD requests. For command checks the
	// command name itself is matched, not the verb.
	Method string

	Origin Origin

	Query map[string]any
	Data  map[string]any

	// Batch holds the item payloads of a multi-item request.
	Batch []map[string]any

	Options *Options

	IsBatch bool
}

// IsGuest reports whether the request is unauthenticated.
func (c *CrudContext) IsGuest() bool {
	return c.User == nil
}

// BatchSize returns the number of items in a batch request.
func (c *CrudContext) BatchSize() int {
	return len(c.Batch)
}

// OptionValues returns the option key/value map, never nil.
func (c *CrudContext) OptionValues() map[string]string {
	if c.Options == nil {
		return nil
	}
	return c.Options.Values
}
