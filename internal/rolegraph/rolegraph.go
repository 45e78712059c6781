// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package rolegraph stores role definitions and their inheritance edges and
// resolves a role to its ordered ancestor chain.
//
// Roles are immutable configuration: the graph is built once at boot and
// never mutated. Inheritance cycles are rejected at build time so the
// traversal never has to defend against them at request time.
package rolegraph

import (
	"errors"
	"fmt"
)

// ErrRoleNotFound is returned when a role name has no definition.
var ErrRoleNotFound = errors.New("role not found")

// Role is a named permission bucket with optional parent roles.
type Role struct {
	Name     string
	Inherits []string
	IsAdmin  bool
	CanMock  bool
}

// Graph is an immutable role-inheritance graph. Roles live in a flat map
// keyed by name with edges as name references, so there are no pointer
// cycles to manage.
type Graph struct {
	roles map[string]Role
}

// Build constructs a Graph from role definitions. It fails on duplicate
// names, edges to undefined roles, and inheritance cycles.
func Build(roles []Role) (*Graph, error) {
	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		if r.Name == "" {
			return nil, errors.New("rolegraph: role with empty name")
		}
		if _, dup := byName[r.Name]; dup {
			return nil, fmt.Errorf("rolegraph: duplicate role %q", r.Name)
		}
		byName[r.Name] = r
	}

	for _, r := range roles {
		for _, parent := range r.Inherits {
			if _, ok := byName[parent]; !ok {
				return nil, fmt.Errorf("rolegraph: role %q inherits undefined role %q", r.Name, parent)
			}
		}
	}

	g := &Graph{roles: byName}
	if cycle := g.findCycle(); cycle != "" {
		return nil, fmt.Errorf("rolegraph: inheritance cycle through role %q", cycle)
	}
	return g, nil
}

// findCycle runs a three-color DFS over every role; returns the name of a
// role on a cycle, or empty.
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.roles))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		for _, parent := range g.roles[name].Inherits {
			switch color[parent] {
			case gray:
				return parent
			case white:
				if hit := visit(parent); hit != "" {
					return hit
				}
			}
		}
		color[name] = black
		return ""
	}

	for name := range g.roles {
		if color[name] == white {
			if hit := visit(name); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Resolve returns the role definition for name.
func (g *Graph) Resolve(name string) (Role, error) {
	r, ok := g.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}
	return r, nil
}

// Ancestors returns the full ordered ancestor chain of name, depth-first,
// excluding the role itself. Each ancestor appears once even when reachable
// through multiple paths.
func (g *Graph) Ancestors(name string) ([]Role, error) {
	root, ok := g.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}

	seen := map[string]bool{name: true}
	var chain []Role

	var walk func(r Role)
	walk = func(r Role) {
		for _, parent := range r.Inherits {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			p := g.roles[parent]
			chain = append(chain, p)
			walk(p)
		}
	}
	walk(root)
	return chain, nil
}

// Chain returns the role itself followed by its ancestors, the order the
// authorization pipeline evaluates rule sets in.
func (g *Graph) Chain(name string) ([]Role, error) {
	r, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	ancestors, err := g.Ancestors(name)
	if err != nil {
		return nil, err
	}
	return append([]Role{r}, ancestors...), nil
}

// Has reports whether a role is defined.
func (g *Graph) Has(name string) bool {
	_, ok := g.roles[name]
	return ok
}
