// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package ability

import (
	"sort"

	"github.com/gatewarden/gatewarden/internal/models"
)

// Check evaluates fn against ctx for methodOrCmd on subject over the touched
// fields. Every field must pass; evaluation short-circuits on the first
// failing field. An empty field list runs one bare entity-level check.
//
// On a passing GET check, when the matching rules declare a field
// allow-list, ctx.Options.Fields is overwritten with that list (response
// narrowing side effect).
func Check(fn Func, ctx *models.CrudContext, methodOrCmd, subject string, fields []string) bool {
	if fn == nil {
		return false
	}

	var b *Builder
	if ctx.Origin == models.OriginCommand {
		b = NewCommandBuilder()
	} else {
		b = NewBuilder()
	}
	fn(b, ctx)

	if len(fields) == 0 {
		fields = []string{""}
	}
	for _, field := range fields {
		if !b.allows(ctx, methodOrCmd, subject, field) {
			return false
		}
	}

	if methodOrCmd == models.MethodGet && ctx.Options != nil {
		if allowed := b.allowedFields(ctx, methodOrCmd, subject); len(allowed) > 0 {
			ctx.Options.Fields = allowed
		}
	}
	return true
}

// CheckOptions evaluates fn over every option key on the request. Any
// failing option denies the whole request.
func CheckOptions(fn Func, ctx *models.CrudContext, methodOrCmd string) bool {
	values := ctx.OptionValues()
	if len(values) == 0 {
		return true
	}
	if fn == nil {
		return false
	}

	var b *Builder
	if ctx.Origin == models.OriginCommand {
		b = NewCommandBuilder()
	} else {
		b = NewBuilder()
	}
	fn(b, ctx)

	// Deterministic order keeps denials stable across runs.
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !b.allows(ctx, methodOrCmd, key, "") {
			return false
		}
	}
	return true
}

// TouchedFields recursively flattens the field names touched by the
// request's payload and query. Nested objects contribute dotted paths.
// An empty result stands for a bare entity-level check.
func TouchedFields(ctx *models.CrudContext) []string {
	seen := make(map[string]bool)
	var fields []string

	add := func(m map[string]any) {
		flattenInto("", m, seen, &fields)
	}

	add(ctx.Query)
	add(ctx.Data)
	for _, item := range ctx.Batch {
		add(item)
	}
	return fields
}

func flattenInto(prefix string, m map[string]any, seen map[string]bool, out *[]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			flattenInto(path, nested, seen, out)
			continue
		}
		if !seen[path] {
			seen[path] = true
			*out = append(*out, path)
		}
	}
}
