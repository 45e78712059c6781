// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package ability

import "github.com/gatewarden/gatewarden/internal/models"

// verbAliases maps grant aliases to the primitive HTTP verbs they cover.
// Composite aliases are spelled in c/r/u/d order, matching how policies
// declare them.
var verbAliases = map[string][]string{
	"create": {models.MethodPost},
	"read":   {models.MethodGet},
	"update": {models.MethodPut, models.MethodPatch},
	"delete": {models.MethodDelete},

	"crud": {models.MethodPost, models.MethodGet, models.MethodPut, models.MethodPatch, models.MethodDelete},
	"cru":  {models.MethodPost, models.MethodGet, models.MethodPut, models.MethodPatch},
	"crd":  {models.MethodPost, models.MethodGet, models.MethodDelete},
	"cud":  {models.MethodPost, models.MethodPut, models.MethodPatch, models.MethodDelete},
	"cr":   {models.MethodPost, models.MethodGet},
	"cu":   {models.MethodPost, models.MethodPut, models.MethodPatch},
	"cd":   {models.MethodPost, models.MethodDelete},
	"ru":   {models.MethodGet, models.MethodPut, models.MethodPatch},
	"rd":   {models.MethodGet, models.MethodDelete},
	"ud":   {models.MethodPut, models.MethodPatch, models.MethodDelete},
}

// expandVerbs resolves an alias to its primitive verbs. Unknown names pass
// through unchanged so command names and raw HTTP verbs match literally.
func expandVerbs(verb string) []string {
	if expanded, ok := verbAliases[verb]; ok {
		return expanded
	}
	return []string{verb}
}
