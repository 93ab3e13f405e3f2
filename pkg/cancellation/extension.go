// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package cancellation

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
)

// URN identifies the cancellation extension.
var URN = urn.MustParse("urn:cline:forrst:ext:cancellation")

// CancelFunction is the system function that cancels an in-flight request.
var CancelFunction = urn.MustParse("urn:cline:forrst:ext:cancellation:fn:cancel")

// Extension exposes the cancel system function. It observes no lifecycle
// events; token plumbing happens in the request pipeline.
type Extension struct {
	broker *Broker
}

// NewExtension wraps a broker as a registrable extension.
func NewExtension(broker *Broker) *Extension {
	return &Extension{broker: broker}
}

// Broker returns the underlying token broker.
func (ext *Extension) Broker() *Broker { return ext.broker }

// URN implements extension.Extension.
func (*Extension) URN() urn.URN { return URN }

// Global implements extension.Extension.
func (*Extension) Global() bool { return true }

// ErrorFatal implements extension.Extension.
func (*Extension) ErrorFatal() bool { return false }

// Subscriptions implements extension.Extension.
func (*Extension) Subscriptions() []event.Subscription { return nil }

// Functions implements extension.FunctionProvider.
func (ext *Extension) Functions() []*registry.Descriptor {
	return []*registry.Descriptor{{
		URN:       CancelFunction,
		Version:   semver.MustParse("1.0.0"),
		Stability: registry.StabilityStable,
		Arguments: []registry.ArgumentSpec{
			{Name: "token", Type: "string", Required: true, Description: "cancellation token issued with the original request"},
		},
		Result: registry.ResultSpec{Type: "object", Description: "cancellation outcome"},
		Errors: []registry.ErrorSpec{
			{Code: string(codes.CancellationUnknown), Description: "token unknown or expired"},
			{Code: string(codes.CancellationTooLate), Description: "request already completed"},
		},
		Discoverable: true,
		Handler:      ext.cancel,
	}}
}

func (ext *Extension) cancel(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	token, ok := call.Argument("token").AsString()
	if !ok || token == "" {
		return envelope.Value{}, codes.New(codes.InvalidArguments, "token is required").
			WithPointer("/call/arguments/token")
	}
	if err := ext.broker.Cancel(ctx, token); err != nil {
		return envelope.Value{}, err
	}
	return envelope.Object(map[string]envelope.Value{
		"cancelled": envelope.Bool(true),
		"token":     envelope.String(token),
	}), nil
}
