// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package ratelimit implements the advisory rate-limit reporter extension.
// It enriches responses with the caller's current rate-limit status and
// never blocks the pipeline.
package ratelimit

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/urn"
)

// Error is a ratelimit error class.
var Error = errs.Class("ratelimit error")

// URN identifies the rate-limit extension.
var URN = urn.MustParse("urn:cline:forrst:ext:rate-limit")

// Scope names what a limit applies to.
type Scope string

// The rate-limit scopes.
const (
	ScopeGlobal   Scope = "global"
	ScopeService  Scope = "service"
	ScopeFunction Scope = "function"
	ScopeUser     Scope = "user"
)

// warnThreshold is the used/limit ratio above which a warning is attached.
const warnThreshold = 0.9

// Status is the computed rate-limit state for one request.
type Status struct {
	Limit    int64
	Used     int64
	Window   time.Duration
	ResetsIn time.Duration
	Scope    Scope
}

// Remaining returns the remaining budget, never negative.
func (s Status) Remaining() int64 {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// NearLimit reports whether usage crossed the warning threshold.
func (s Status) NearLimit() bool {
	return s.Limit > 0 && float64(s.Used) >= warnThreshold*float64(s.Limit)
}

// Reporter computes the rate-limit status of a request. A nil status means
// no limit applies.
type Reporter interface {
	Status(ctx context.Context, scope *event.Scope) (*Status, error)
}

// Extension is the advisory rate-limit reporter.
type Extension struct {
	log      *zap.Logger
	reporter Reporter
}

// New creates the rate-limit extension around a reporter.
func New(log *zap.Logger, reporter Reporter) *Extension {
	return &Extension{log: log, reporter: reporter}
}

// URN implements extension.Extension.
func (*Extension) URN() urn.URN { return URN }

// Global implements extension.Extension.
func (*Extension) Global() bool { return true }

// ErrorFatal implements extension.Extension.
func (*Extension) ErrorFatal() bool { return false }

// Subscriptions implements extension.Extension.
func (ext *Extension) Subscriptions() []event.Subscription {
	return []event.Subscription{
		{Event: event.FunctionExecuted, Priority: 60, Handler: ext.report},
	}
}

// report attaches the current status; reporter failures are skipped
// silently apart from a debug log.
func (ext *Extension) report(ctx context.Context, scope *event.Scope) error {
	if ext.reporter == nil {
		return nil
	}
	status, err := ext.reporter.Status(ctx, scope)
	if err != nil {
		ext.log.Debug("rate-limit reporter failed", zap.Error(err))
		return nil
	}
	if status == nil {
		return nil
	}

	members := map[string]envelope.Value{
		"limit":     envelope.Int(status.Limit),
		"used":      envelope.Int(status.Used),
		"remaining": envelope.Int(status.Remaining()),
		"window": envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(int64(status.Window / time.Second)),
			"unit":  envelope.String("second"),
		}),
		"resets_in": envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(int64(status.ResetsIn / time.Second)),
			"unit":  envelope.String("second"),
		}),
		"scope": envelope.String(string(status.Scope)),
	}
	if status.NearLimit() {
		members["warning"] = envelope.String("rate limit nearly exhausted")
	}

	scope.Response.AddExtension(URN.String(), envelope.Object(members))
	return nil
}
