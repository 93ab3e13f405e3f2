// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package quota implements the advisory quota reporter extension.
package quota

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/urn"
)

// Error is a quota error class.
var Error = errs.Class("quota error")

// URN identifies the quota extension.
var URN = urn.MustParse("urn:cline:forrst:ext:quota")

// nearThreshold is the used/limit ratio above which an entry reports
// near_limit.
const nearThreshold = 0.8

// Entry is one quota line computed for a request.
type Entry struct {
	Type     string
	Name     string
	Limit    int64
	Used     int64
	Period   string
	Unit     string
	ResetsAt *time.Time
}

// Remaining returns the remaining budget, never negative.
func (e Entry) Remaining() int64 {
	if e.Used >= e.Limit {
		return 0
	}
	return e.Limit - e.Used
}

// Exceeded reports whether the quota is spent.
func (e Entry) Exceeded() bool { return e.Limit > 0 && e.Used >= e.Limit }

// NearLimit reports whether usage crossed the warning threshold.
func (e Entry) NearLimit() bool {
	return e.Limit > 0 && float64(e.Used) >= nearThreshold*float64(e.Limit)
}

// Reporter computes the quota entries of a request.
type Reporter interface {
	Entries(ctx context.Context, scope *event.Scope) ([]Entry, error)
}

// Extension is the advisory quota reporter.
type Extension struct {
	log      *zap.Logger
	reporter Reporter
}

// New creates the quota extension around a reporter.
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
		{Event: event.FunctionExecuted, Priority: 70, Handler: ext.report},
	}
}

func (ext *Extension) report(ctx context.Context, scope *event.Scope) error {
	if ext.reporter == nil {
		return nil
	}
	entries, err := ext.reporter.Entries(ctx, scope)
	if err != nil {
		ext.log.Debug("quota reporter failed", zap.Error(err))
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	values := make([]envelope.Value, len(entries))
	for i, entry := range entries {
		members := map[string]envelope.Value{
			"type":       envelope.String(entry.Type),
			"name":       envelope.String(entry.Name),
			"limit":      envelope.Int(entry.Limit),
			"used":       envelope.Int(entry.Used),
			"remaining":  envelope.Int(entry.Remaining()),
			"period":     envelope.String(entry.Period),
			"unit":       envelope.String(entry.Unit),
			"exceeded":   envelope.Bool(entry.Exceeded()),
			"near_limit": envelope.Bool(entry.NearLimit()),
		}
		if entry.ResetsAt != nil {
			members["resets_at"] = envelope.Time(*entry.ResetsAt)
		}
		values[i] = envelope.Object(members)
	}

	scope.Response.AddExtension(URN.String(), envelope.Object(map[string]envelope.Value{
		"entries": envelope.List(values...),
	}))
	return nil
}
