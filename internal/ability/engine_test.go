// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package ability

import (
	"reflect"
	"testing"

	"github.com/gatewarden/gatewarden/internal/models"
)

func crudCtx() *models.CrudContext {
	return &models.CrudContext{
		Origin:  models.OriginCRUD,
		Service: "articles",
		Options: &models.Options{},
	}
}

func TestCheck_AliasCoverage(t *testing.T) {
	grant := func(b *Builder, ctx *models.CrudContext) {
		b.Can("cru", "articles")
	}

	cases := []struct {
		method string
		want   bool
	}{
		{models.MethodPost, true},
		{models.MethodGet, true},
		{models.MethodPut, true},
		{models.MethodPatch, true},
		{models.MethodDelete, false},
	}
	for _, tc := range cases {
		if got := Check(grant, crudCtx(), tc.method, "articles", nil); got != tc.want {
			t.Errorf("cru grant, method %s: got %v, want %v", tc.method, got, tc.want)
		}
	}
}

func TestCheck_FieldDenyBlocksWholeRequest(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("update", "articles")
		b.Cannot("update", "articles", Fields("b"))
	}

	if Check(fn, crudCtx(), models.MethodPatch, "articles", []string{"a", "b"}) {
		t.Error("request touching a denied field must fail entirely")
	}
	if !Check(fn, crudCtx(), models.MethodPatch, "articles", []string{"a"}) {
		t.Error("request touching only allowed fields must pass")
	}
}

func TestCheck_FieldScopedDenyDoesNotBlockBareCheck(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("read", "articles")
		b.Cannot("read", "articles", Fields("secret"))
	}
	if !Check(fn, crudCtx(), models.MethodGet, "articles", nil) {
		t.Error("field-scoped denial must not block an entity-level check")
	}
}

func TestCheck_NoMatchingCanDenies(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("read", "articles")
	}
	if Check(fn, crudCtx(), models.MethodPost, "articles", nil) {
		t.Error("verb without a can grant must be denied")
	}
	if Check(fn, crudCtx(), models.MethodGet, "comments", nil) {
		t.Error("subject without a can grant must be denied")
	}
}

func TestCheck_ConditionGatesRule(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("read", "articles", When(func(c *models.CrudContext) bool {
			return c.UserID == "owner"
		}))
	}

	ctx := crudCtx()
	ctx.UserID = "owner"
	if !Check(fn, ctx, models.MethodGet, "articles", nil) {
		t.Error("condition holding must allow")
	}

	ctx = crudCtx()
	ctx.UserID = "stranger"
	if Check(fn, ctx, models.MethodGet, "articles", nil) {
		t.Error("condition failing must deny")
	}
}

func TestCheck_GetNarrowsOptionFields(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("read", "articles", Fields("title", "body"))
	}

	ctx := crudCtx()
	if !Check(fn, ctx, models.MethodGet, "articles", nil) {
		t.Fatal("check should pass")
	}
	want := []string{"title", "body"}
	if !reflect.DeepEqual(ctx.Options.Fields, want) {
		t.Errorf("Options.Fields = %v, want %v", ctx.Options.Fields, want)
	}
}

func TestCheck_PostDoesNotNarrowFields(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("crud", "articles", Fields("title"))
	}
	ctx := crudCtx()
	if !Check(fn, ctx, models.MethodPost, "articles", []string{"title"}) {
		t.Fatal("check should pass")
	}
	if len(ctx.Options.Fields) != 0 {
		t.Errorf("POST must not narrow fields, got %v", ctx.Options.Fields)
	}
}

func TestCheck_CommandVerbsMatchLiterally(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("publish", "articles")
	}
	ctx := crudCtx()
	ctx.Origin = models.OriginCommand
	ctx.Command = "publish"

	if !Check(fn, ctx, "publish", "articles", nil) {
		t.Error("literal command grant must allow the command")
	}
	if Check(fn, ctx, "unpublish", "articles", nil) {
		t.Error("other commands must be denied")
	}
}

func TestCheckOptions_FailingOptionDenies(t *testing.T) {
	fn := func(b *Builder, ctx *models.CrudContext) {
		b.Can("read", "populate")
	}

	ctx := crudCtx()
	ctx.Options.Values = map[string]string{"populate": "author"}
	if !CheckOptions(fn, ctx, models.MethodGet) {
		t.Error("granted option must pass")
	}

	ctx.Options.Values["mockRole"] = "admin"
	if CheckOptions(fn, ctx, models.MethodGet) {
		t.Error("ungranted option must deny the request")
	}
}

func TestCheckOptions_NoOptionsAlwaysPasses(t *testing.T) {
	if !CheckOptions(nil, crudCtx(), models.MethodGet) {
		t.Error("requests without options must pass the option phase")
	}
}

func TestTouchedFields_FlattensNestedPayload(t *testing.T) {
	ctx := crudCtx()
	ctx.Data = map[string]any{
		"title": "x",
		"meta": map[string]any{
			"tags":   []string{"a"},
			"author": map[string]any{"id": 1},
		},
	}
	ctx.Query = map[string]any{"title": "x", "status": "draft"}

	got := TouchedFields(ctx)
	want := []string{"status", "title", "meta.author.id", "meta.tags"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TouchedFields = %v, want %v", got, want)
	}
}

func TestTouchedFields_EmptyMeansBareCheck(t *testing.T) {
	if got := TouchedFields(crudCtx()); len(got) != 0 {
		t.Errorf("expected no touched fields, got %v", got)
	}
}
