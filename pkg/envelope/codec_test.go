// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/pkg/codes"
)

func TestParseRequest(t *testing.T) {
	request, err := Parse([]byte(`{
		"protocol": {"name": "forrst", "version": "1.0"},
		"id": "req-1",
		"call": {
			"function": "urn:acme:forrst:fn:orders:create",
			"version": "1.2.0",
			"arguments": {"amount": 12, "note": null}
		},
		"context": {"tenant": "acme"},
		"extensions": [
			{"urn": "urn:cline:forrst:ext:tracing", "options": {"trace_id": "abc"}}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "forrst", request.Protocol.Name)
	assert.Equal(t, "req-1", request.ID)
	assert.Equal(t, "urn:acme:forrst:fn:orders:create", request.Call.Function)
	assert.Equal(t, "1.2.0", request.Call.Version)

	amount, ok := request.Call.Arguments["amount"].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(12), amount)

	// explicit null is a value, distinct from an absent member
	note := request.Call.Arguments["note"]
	assert.True(t, note.IsNull())
	assert.False(t, note.IsAbsent())
	assert.True(t, request.Call.Arguments["missing"].IsAbsent())

	tenant, ok := request.Context["tenant"].AsString()
	require.True(t, ok)
	assert.Equal(t, "acme", tenant)

	require.Len(t, request.Extensions, 1)
	assert.Equal(t, "urn:cline:forrst:ext:tracing", request.Extensions[0].URN)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"call": {"function": "x",}`))
	require.Equal(t, codes.ParseError, codes.CodeOf(err))
	require.NotNil(t, codes.PositionOf(err))

	_, err = Parse([]byte(`[{"call": {"function": "x"}}]`))
	require.Equal(t, codes.InvalidRequest, codes.CodeOf(err))

	_, err = Parse([]byte(`{}`))
	require.Equal(t, codes.InvalidRequest, codes.CodeOf(err))
	require.Equal(t, "/call", codes.PointerOf(err))

	_, err = Parse([]byte(`{"call": {}}`))
	require.Equal(t, codes.InvalidRequest, codes.CodeOf(err))
	require.Equal(t, "/call/function", codes.PointerOf(err))

	_, err = Parse([]byte("\xff\xfe"))
	require.Equal(t, codes.ParseError, codes.CodeOf(err))
}

func TestParseSizeLimit(t *testing.T) {
	_, err := ParseWithLimit([]byte(`{"call": {"function": "x"}}`), 4)
	require.Equal(t, codes.InvalidRequest, codes.CodeOf(err))
}

func TestSerializeSuccess(t *testing.T) {
	id := "req-7"
	response := &Response{
		Protocol: Protocol{Name: "forrst", Version: "1.0"},
		ID:       &id,
	}
	response.SetResult(Object(map[string]Value{"ok": Bool(true)}))
	response.SetMeta("deprecation", Object(map[string]Value{"deprecated": Bool(true)}))
	response.AddExtension("urn:cline:forrst:ext:tracing", Object(map[string]Value{
		"trace_id": String("abc"),
	}))

	data, err := Serialize(response)
	require.NoError(t, err)

	parsed, err := ParseResponse(data)
	require.NoError(t, err)
	require.True(t, parsed.Success())
	require.NotNil(t, parsed.ID)
	assert.Equal(t, "req-7", *parsed.ID)

	value, isBool := parsed.Result.Member("ok").AsBool()
	require.True(t, isBool)
	assert.True(t, value)

	tracingData, found := parsed.Extension("urn:cline:forrst:ext:tracing")
	require.True(t, found)
	str, _ := tracingData.Member("trace_id").AsString()
	assert.Equal(t, "abc", str)
}

func TestSerializeErrorsWin(t *testing.T) {
	response := &Response{Protocol: Protocol{Name: "forrst", Version: "1.0"}}
	response.SetResult(String("should not survive"))
	response.SetError(ErrorObject{
		Code:    "NOT_FOUND",
		Message: "missing",
		Source:  &ErrorSource{Pointer: "/call/arguments/id"},
	})

	data, err := Serialize(response)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not survive")
	assert.NotContains(t, string(data), `"result"`)

	parsed, err := ParseResponse(data)
	require.NoError(t, err)
	require.False(t, parsed.Success())
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, "NOT_FOUND", parsed.Errors[0].Code)
	require.NotNil(t, parsed.Errors[0].Source)
	assert.Equal(t, "/call/arguments/id", parsed.Errors[0].Source.Pointer)
}

func TestLegacyRetryableDiscarded(t *testing.T) {
	parsed, err := ParseResponse([]byte(`{
		"protocol": {"name": "forrst", "version": "1.0"},
		"id": null,
		"errors": [{"code": "RATE_LIMITED", "message": "slow down", "retryable": true}]
	}`))
	require.NoError(t, err)
	require.Len(t, parsed.Errors, 1)

	// the deprecated member never round-trips
	data, err := Serialize(parsed)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "retryable")
}

func TestAddExtensionReplaces(t *testing.T) {
	response := &Response{}
	response.AddExtension("urn:cline:forrst:ext:retry", String("first"))
	response.AddExtension("urn:cline:forrst:ext:retry", String("second"))
	require.Len(t, response.Extensions, 1)

	data, found := response.Extension("urn:cline:forrst:ext:retry")
	require.True(t, found)
	str, _ := data.AsString()
	assert.Equal(t, "second", str)
}
