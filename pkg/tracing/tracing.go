// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package tracing implements the distributed tracing extension: trace/span
// identifiers, parent linkage, baggage propagation, and duration enrichment
// of responses.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/zeebo/errs"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/urn"
)

// Error is a tracing error class.
var Error = errs.Class("tracing error")

// URN identifies the tracing extension.
var URN = urn.MustParse("urn:cline:forrst:ext:tracing")

const scratchKey = "tracing.context"

// OptionCancellationToken is the tracing option carrying a cooperative
// cancellation token.
const OptionCancellationToken = "cancellation_token"

// Context is the per-request trace state. It is created at
// ExecutingFunction and cleared at FunctionExecuted; it never persists
// between requests.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Baggage      map[string]envelope.Value
	Started      time.Time
}

// Extension is the tracing extension. Advisory: a tracing failure never
// fails the request.
type Extension struct{}

// New creates the tracing extension.
func New() *Extension { return &Extension{} }

// URN implements extension.Extension.
func (*Extension) URN() urn.URN { return URN }

// Global implements extension.Extension.
func (*Extension) Global() bool { return true }

// ErrorFatal implements extension.Extension.
func (*Extension) ErrorFatal() bool { return false }

// Subscriptions implements extension.Extension.
func (ext *Extension) Subscriptions() []event.Subscription {
	return []event.Subscription{
		{Event: event.ExecutingFunction, Priority: 10, Handler: ext.begin},
		{Event: event.FunctionExecuted, Priority: 90, Handler: ext.finish},
	}
}

// begin extracts or generates the trace context and starts the monotonic
// timer.
func (ext *Extension) begin(ctx context.Context, scope *event.Scope) error {
	options := scope.Options(URN)

	tc := &Context{
		Started: time.Now(),
		SpanID:  NewSpanID(),
	}
	if traceID, ok := options["trace_id"].AsString(); ok && traceID != "" {
		tc.TraceID = traceID
	} else {
		tc.TraceID = NewTraceID()
	}
	// the caller's span becomes the parent of the server span
	if parent, ok := options["span_id"].AsString(); ok && parent != "" {
		tc.ParentSpanID = parent
	}
	if baggage, ok := options["baggage"].AsObject(); ok {
		tc.Baggage = baggage
	}

	scope.Set(scratchKey, tc)
	return nil
}

// finish computes the duration, enriches the response, and clears the
// per-request context.
func (ext *Extension) finish(ctx context.Context, scope *event.Scope) error {
	tc, ok := FromScope(scope)
	if !ok {
		return nil
	}
	defer scope.Clear(scratchKey)

	elapsed := time.Since(tc.Started)
	durationMS := int64((elapsed + time.Millisecond/2) / time.Millisecond)

	data := map[string]envelope.Value{
		"trace_id": envelope.String(tc.TraceID),
		"span_id":  envelope.String(tc.SpanID),
		"duration": envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(durationMS),
			"unit":  envelope.String("millisecond"),
		}),
	}
	if tc.ParentSpanID != "" {
		data["parent_span_id"] = envelope.String(tc.ParentSpanID)
	}

	scope.Response.AddExtension(URN.String(), envelope.Object(data))
	return nil
}

// FromScope returns the trace context of an in-flight request.
func FromScope(scope *event.Scope) (*Context, bool) {
	value, ok := scope.Get(scratchKey)
	if !ok {
		return nil, false
	}
	tc, ok := value.(*Context)
	return tc, ok
}

// Child constructs the context for a downstream call: same trace, fresh
// span, the current server span as parent, baggage carried verbatim.
func (tc *Context) Child() *Context {
	return &Context{
		TraceID:      tc.TraceID,
		SpanID:       NewSpanID(),
		ParentSpanID: tc.SpanID,
		Baggage:      tc.Baggage,
		Started:      time.Now(),
	}
}

// NewTraceID generates a random 128-bit hex trace id.
func NewTraceID() string { return randomHex(16) }

// NewSpanID generates a random 64-bit hex span id.
func NewSpanID() string { return randomHex(8) }

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
