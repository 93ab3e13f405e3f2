// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package lock

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
)

// URN identifies the atomic lock extension.
var URN = urn.MustParse("urn:cline:forrst:ext:atomic-lock")

// The lock system functions. Acquisition happens in-process through the
// Manager; only inspection and release are callable over the wire.
var (
	ReleaseFunction      = urn.MustParse("urn:cline:forrst:ext:atomic-lock:fn:release")
	ForceReleaseFunction = urn.MustParse("urn:cline:forrst:ext:atomic-lock:fn:force-release")
	StatusFunction       = urn.MustParse("urn:cline:forrst:ext:atomic-lock:fn:status")
)

// Extension exposes the lock system functions.
type Extension struct {
	manager *Manager
}

// NewExtension wraps a manager as a registrable extension.
func NewExtension(manager *Manager) *Extension {
	return &Extension{manager: manager}
}

// Manager returns the underlying lock manager.
func (ext *Extension) Manager() *Manager { return ext.manager }

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
	target := []registry.ArgumentSpec{
		{Name: "domain", Type: "string", Required: true, Description: "lock domain"},
		{Name: "resource", Type: "string", Required: true, Description: "locked resource identifier"},
	}
	return []*registry.Descriptor{
		{
			URN:       ReleaseFunction,
			Version:   semver.MustParse("1.0.0"),
			Stability: registry.StabilityStable,
			Arguments: append(append([]registry.ArgumentSpec(nil), target...),
				registry.ArgumentSpec{Name: "owner", Type: "string", Required: true, Description: "owner token returned at acquisition"},
			),
			Result: registry.ResultSpec{Type: "object", Description: "release outcome"},
			Errors: []registry.ErrorSpec{
				{Code: string(codes.LockNotFound), Description: "lock is not held"},
				{Code: string(codes.LockOwnershipMismatch), Description: "owner token does not match the holder"},
			},
			SideEffects:  []registry.SideEffect{registry.SideEffectDelete},
			Discoverable: true,
			Handler:      ext.release,
		},
		{
			URN:       ForceReleaseFunction,
			Version:   semver.MustParse("1.0.0"),
			Stability: registry.StabilityStable,
			Arguments: target,
			Result:    registry.ResultSpec{Type: "object", Description: "release outcome"},
			Errors: []registry.ErrorSpec{
				{Code: string(codes.LockNotFound), Description: "lock is not held"},
			},
			SideEffects:  []registry.SideEffect{registry.SideEffectDelete},
			Discoverable: true,
			Handler:      ext.forceRelease,
		},
		{
			URN:          StatusFunction,
			Version:      semver.MustParse("1.0.0"),
			Stability:    registry.StabilityStable,
			Arguments:    target,
			Result:       registry.ResultSpec{Type: "object", Description: "lock holder, or held=false"},
			Discoverable: true,
			Handler:      ext.status,
		},
	}
}

func target(call *registry.Call) (domain, resource string, err error) {
	domain, ok := call.Argument("domain").AsString()
	if !ok || domain == "" {
		return "", "", codes.New(codes.InvalidArguments, "domain is required").
			WithPointer("/call/arguments/domain")
	}
	resource, ok = call.Argument("resource").AsString()
	if !ok || resource == "" {
		return "", "", codes.New(codes.InvalidArguments, "resource is required").
			WithPointer("/call/arguments/resource")
	}
	return domain, resource, nil
}

func (ext *Extension) release(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	domain, resource, err := target(call)
	if err != nil {
		return envelope.Value{}, err
	}
	owner, ok := call.Argument("owner").AsString()
	if !ok || owner == "" {
		return envelope.Value{}, codes.New(codes.InvalidArguments, "owner is required").
			WithPointer("/call/arguments/owner")
	}
	if err := ext.manager.Release(ctx, domain, resource, owner); err != nil {
		return envelope.Value{}, err
	}
	return envelope.Object(map[string]envelope.Value{
		"released": envelope.Bool(true),
		"key":      envelope.String(string(lockKey(domain, resource))),
	}), nil
}

func (ext *Extension) forceRelease(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	domain, resource, err := target(call)
	if err != nil {
		return envelope.Value{}, err
	}
	if err := ext.manager.ForceRelease(ctx, domain, resource); err != nil {
		return envelope.Value{}, err
	}
	return envelope.Object(map[string]envelope.Value{
		"released": envelope.Bool(true),
		"forced":   envelope.Bool(true),
		"key":      envelope.String(string(lockKey(domain, resource))),
	}), nil
}

func (ext *Extension) status(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	domain, resource, err := target(call)
	if err != nil {
		return envelope.Value{}, err
	}
	status, err := ext.manager.Status(ctx, domain, resource)
	if err != nil {
		return envelope.Value{}, err
	}
	if status == nil {
		return envelope.Object(map[string]envelope.Value{
			"locked": envelope.Bool(false),
			"key":    envelope.String(string(lockKey(domain, resource))),
		}), nil
	}
	members := map[string]envelope.Value{
		"locked":      envelope.Bool(true),
		"key":         envelope.String(status.Key),
		"owner":       envelope.String(status.Owner),
		"acquired_at": envelope.Time(status.AcquiredAt),
		"expires_at":  envelope.Time(status.ExpiresAt),
	}
	if status.TTLRemaining >= 0 {
		members["ttl_remaining"] = envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(int64(status.TTLRemaining / time.Second)),
			"unit":  envelope.String("second"),
		})
	}
	return envelope.Object(members), nil
}
