// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package redact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
)

func profile() envelope.Value {
	return envelope.Object(map[string]envelope.Value{
		"email":    envelope.String("jane@example.com"),
		"phone":    envelope.String("5551234567"),
		"password": envelope.String("hunter2"),
		"age":      envelope.Int(34),
		"nested": envelope.Object(map[string]envelope.Value{
			"card_number": envelope.String("4111111111111111"),
		}),
		"contacts": envelope.List(
			envelope.Object(map[string]envelope.Value{
				"email": envelope.String("bob@corp.io"),
			}),
		),
	})
}

func TestRedactFull(t *testing.T) {
	redacted, paths := Redact(profile(), FieldSet(DefaultFields), ModeFull)

	email, _ := redacted.Member("email").AsString()
	assert.Equal(t, "***", email)
	card, _ := redacted.Member("nested").Member("card_number").AsString()
	assert.Equal(t, "***", card)

	age, ok := redacted.Member("age").AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(34), age, "unmatched members survive untouched")

	assert.Equal(t, []string{
		"/contacts/0/email",
		"/email",
		"/nested/card_number",
		"/password",
		"/phone",
	}, paths)
}

func TestRedactPartial(t *testing.T) {
	redacted, _ := Redact(profile(), FieldSet(DefaultFields), ModePartial)

	email, _ := redacted.Member("email").AsString()
	assert.Equal(t, "j***@***.com", email)
	phone, _ := redacted.Member("phone").AsString()
	assert.Equal(t, "******4567", phone)
	card, _ := redacted.Member("nested").Member("card_number").AsString()
	assert.Equal(t, "************1111", card)
	password, _ := redacted.Member("password").AsString()
	assert.Equal(t, "***", password, "fields without a partial rule collapse to the mask")
}

func TestRedactPartialNonString(t *testing.T) {
	value := envelope.Object(map[string]envelope.Value{
		"ssn": envelope.Int(123456789),
	})
	redacted, _ := Redact(value, FieldSet(DefaultFields), ModePartial)
	ssn, _ := redacted.Member("ssn").AsString()
	assert.Equal(t, "***", ssn, "non-string sensitive values never leak through partial rules")
}

func TestRedactNames(t *testing.T) {
	value := envelope.Object(map[string]envelope.Value{
		"name": envelope.String("Jane Q Doe"),
	})
	redacted, _ := Redact(value, FieldSet([]string{"name"}), ModePartial)
	name, _ := redacted.Member("name").AsString()
	assert.Equal(t, "J.Q.D.", name)
}

func TestMaskHelpers(t *testing.T) {
	assert.Equal(t, "j***@***.com", maskEmail("jane@example.com"))
	assert.Equal(t, "***", maskEmail("not-an-email"))
	assert.Equal(t, "****", maskLastFour("123"))
	assert.Equal(t, "*****6789", maskLastFour("123456789"))
	assert.Equal(t, "***", initials("   "))
}

func TestRedactEscapesPointers(t *testing.T) {
	value := envelope.Object(map[string]envelope.Value{
		"a/b~c": envelope.Object(map[string]envelope.Value{
			"token": envelope.String("secret"),
		}),
	})
	_, paths := Redact(value, FieldSet(DefaultFields), ModeFull)
	require.Equal(t, []string{"/a~1b~0c/token"}, paths)
}

func applyScope(t *testing.T, result envelope.Value, options map[string]envelope.Value) *event.Scope {
	scope := event.NewScope(nil)
	scope.Active = []event.ActiveExtension{{URN: URN, ErrorFatal: true, Options: options}}
	scope.Response.SetResult(result)
	return scope
}

func TestExtensionDefaultsToPartial(t *testing.T) {
	ctx := context.Background()
	ext := New(nil)

	scope := applyScope(t, profile(), nil)
	require.NoError(t, ext.apply(ctx, scope))

	email, _ := scope.Response.Result.Member("email").AsString()
	assert.Equal(t, "j***@***.com", email)

	data, found := scope.Response.Extension(URN.String())
	require.True(t, found)
	mode, _ := data.Member("mode").AsString()
	assert.Equal(t, "partial", mode)
	fields, ok := data.Member("redacted_fields").AsList()
	require.True(t, ok)
	assert.NotEmpty(t, fields)
}

func TestExtensionUnknownMode(t *testing.T) {
	ctx := context.Background()
	ext := New(nil)

	scope := applyScope(t, profile(), map[string]envelope.Value{
		"mode": envelope.String("everything"),
	})
	err := ext.apply(ctx, scope)
	require.Equal(t, codes.InvalidRequest, codes.CodeOf(err))
}

func TestExtensionModeNoneDenied(t *testing.T) {
	ctx := context.Background()
	ext := New(nil) // nil authorizer denies everyone

	scope := applyScope(t, profile(), map[string]envelope.Value{
		"mode":   envelope.String("none"),
		"policy": envelope.String("support-access"),
	})
	err := ext.apply(ctx, scope)
	require.Equal(t, codes.Forbidden, codes.CodeOf(err))
	assert.Equal(t, "support-access", codes.DetailsOf(err)["policy"])
}

func TestExtensionModeNoneAuthorized(t *testing.T) {
	ctx := context.Background()
	ext := New(func(ctx context.Context, scope *event.Scope) (bool, error) {
		return true, nil
	})

	scope := applyScope(t, profile(), map[string]envelope.Value{
		"mode": envelope.String("none"),
	})
	require.NoError(t, ext.apply(ctx, scope))

	email, _ := scope.Response.Result.Member("email").AsString()
	assert.Equal(t, "jane@example.com", email, "authorized access is unredacted")

	data, found := scope.Response.Extension(URN.String())
	require.True(t, found)
	policy, _ := data.Member("policy").AsString()
	assert.Equal(t, "authorized_access", policy)
}

func TestExtensionSkipsErrors(t *testing.T) {
	ctx := context.Background()
	ext := New(nil)

	scope := event.NewScope(nil)
	scope.Active = []event.ActiveExtension{{URN: URN, ErrorFatal: true}}
	scope.Response.SetError(envelope.ErrorObject{Code: "NOT_FOUND", Message: "missing"})
	require.NoError(t, ext.apply(ctx, scope))
}
