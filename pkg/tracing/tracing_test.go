// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package tracing

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
)

var (
	hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)
	hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

func TestIdentifiers(t *testing.T) {
	assert.Regexp(t, hex32, NewTraceID())
	assert.Regexp(t, hex16, NewSpanID())
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}

func activeScope(options map[string]envelope.Value) *event.Scope {
	scope := event.NewScope(nil)
	scope.Active = []event.ActiveExtension{{URN: URN, Options: options}}
	return scope
}

func TestBeginGeneratesContext(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := activeScope(nil)
	require.NoError(t, ext.begin(ctx, scope))

	tc, ok := FromScope(scope)
	require.True(t, ok)
	assert.Regexp(t, hex32, tc.TraceID)
	assert.Regexp(t, hex16, tc.SpanID)
	assert.Empty(t, tc.ParentSpanID)
	assert.False(t, tc.Started.IsZero())
}

func TestBeginPropagatesCaller(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := activeScope(map[string]envelope.Value{
		"trace_id": envelope.String("0af7651916cd43dd8448eb211c80319c"),
		"span_id":  envelope.String("b7ad6b7169203331"),
		"baggage":  envelope.Object(map[string]envelope.Value{"tenant": envelope.String("acme")}),
	})
	require.NoError(t, ext.begin(ctx, scope))

	tc, ok := FromScope(scope)
	require.True(t, ok)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", tc.TraceID)
	// the caller's span becomes the parent, never the server span itself
	assert.Equal(t, "b7ad6b7169203331", tc.ParentSpanID)
	assert.NotEqual(t, tc.ParentSpanID, tc.SpanID)
	tenant, _ := tc.Baggage["tenant"].AsString()
	assert.Equal(t, "acme", tenant)
}

func TestFinishEnrichesResponse(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := activeScope(map[string]envelope.Value{
		"span_id": envelope.String("b7ad6b7169203331"),
	})
	require.NoError(t, ext.begin(ctx, scope))
	scope.Response.SetResult(envelope.Bool(true))
	require.NoError(t, ext.finish(ctx, scope))

	data, found := scope.Response.Extension(URN.String())
	require.True(t, found)

	traceID, _ := data.Member("trace_id").AsString()
	assert.Regexp(t, hex32, traceID)
	parent, _ := data.Member("parent_span_id").AsString()
	assert.Equal(t, "b7ad6b7169203331", parent)

	unit, _ := data.Member("duration").Member("unit").AsString()
	assert.Equal(t, "millisecond", unit)
	_, ok := data.Member("duration").Member("value").AsInt()
	assert.True(t, ok)

	// per-request state never leaks into the next request
	_, ok = FromScope(scope)
	assert.False(t, ok)
}

func TestFinishWithoutBegin(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := activeScope(nil)
	scope.Response.SetResult(envelope.Bool(true))
	require.NoError(t, ext.finish(ctx, scope))

	_, found := scope.Response.Extension(URN.String())
	assert.False(t, found)
}

func TestChild(t *testing.T) {
	parent := &Context{
		TraceID: "0af7651916cd43dd8448eb211c80319c",
		SpanID:  "b7ad6b7169203331",
		Baggage: map[string]envelope.Value{"tenant": envelope.String("acme")},
	}
	child := parent.Child()
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentSpanID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Equal(t, parent.Baggage, child.Baggage)
}
