// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package retrypolicy derives structured retry guidance from error
// responses and attaches it as a response extension.
package retrypolicy

import (
	"context"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/urn"
)

// URN identifies the retry guidance extension.
var URN = urn.MustParse("urn:cline:forrst:ext:retry")

// Strategy names a retry pacing strategy.
type Strategy string

// The retry strategies.
const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
	StrategyImmediate   Strategy = "immediate"
)

// Guidance is the derived retry advice for one error code.
type Guidance struct {
	Allowed     bool
	Strategy    Strategy
	AfterSec    int64 // 0 for immediate
	MaxAttempts int
}

// defaults maps retryable codes to their strategy. Codes absent from this
// table fall back to exponential 1s / 3 attempts.
var defaults = map[codes.Code]Guidance{
	codes.RateLimited:           {true, StrategyFixed, 60, 3},
	codes.Unavailable:           {true, StrategyExponential, 1, 5},
	codes.DeadlineExceeded:      {true, StrategyImmediate, 0, 1},
	codes.InternalError:         {true, StrategyExponential, 2, 3},
	codes.DependencyError:       {true, StrategyExponential, 1, 3},
	codes.IdempotencyProcessing: {true, StrategyFixed, 1, 3},
	codes.ServerMaintenance:     {true, StrategyFixed, 60, 1},
	codes.FunctionMaintenance:   {true, StrategyFixed, 60, 1},
	// disabled functions have no known end; a single probe is honest
	codes.FunctionDisabled: {true, StrategyFixed, 60, 1},
}

// Derive returns the guidance for an error code. Only the retryability of
// the code matters; unknown retryable codes use the generic backoff.
func Derive(code codes.Code) Guidance {
	if !code.Retryable() {
		return Guidance{Allowed: false}
	}
	if guidance, ok := defaults[code]; ok {
		return guidance
	}
	return Guidance{Allowed: true, Strategy: StrategyExponential, AfterSec: 1, MaxAttempts: 3}
}

// Data encodes guidance as response extension data.
func (g Guidance) Data() envelope.Value {
	if !g.Allowed {
		return envelope.Object(map[string]envelope.Value{
			"allowed": envelope.Bool(false),
		})
	}
	members := map[string]envelope.Value{
		"allowed":      envelope.Bool(true),
		"strategy":     envelope.String(string(g.Strategy)),
		"max_attempts": envelope.Int(int64(g.MaxAttempts)),
	}
	if g.Strategy != StrategyImmediate {
		members["after"] = envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(g.AfterSec),
			"unit":  envelope.String("second"),
		})
	}
	return envelope.Object(members)
}

// Extension attaches retry guidance to every error response. Advisory.
type Extension struct{}

// New creates the retry guidance extension.
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
		{Event: event.FunctionExecuted, Priority: 80, Handler: ext.attach},
	}
}

// attach inspects the first error only; later entries never alter the
// guidance.
func (ext *Extension) attach(ctx context.Context, scope *event.Scope) error {
	if scope.Response == nil || len(scope.Response.Errors) == 0 {
		return nil
	}
	code := codes.Code(scope.Response.Errors[0].Code)
	scope.Response.AddExtension(URN.String(), Derive(code).Data())
	return nil
}
