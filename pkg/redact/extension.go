// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package redact

import (
	"context"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/urn"
)

// URN identifies the redaction extension.
var URN = urn.MustParse("urn:cline:forrst:ext:redaction")

// Authorizer decides whether a caller may receive unredacted results.
type Authorizer func(ctx context.Context, scope *event.Scope) (bool, error)

// Extension masks sensitive fields in results. Fatal: a broken redactor
// must not let sensitive data through.
type Extension struct {
	authorize Authorizer
}

// New creates the redaction extension. A nil authorizer denies every
// unredacted access request.
func New(authorize Authorizer) *Extension {
	return &Extension{authorize: authorize}
}

// URN implements extension.Extension.
func (*Extension) URN() urn.URN { return URN }

// Global implements extension.Extension.
func (*Extension) Global() bool { return false }

// ErrorFatal implements extension.Extension.
func (*Extension) ErrorFatal() bool { return true }

// Subscriptions implements extension.Extension.
func (ext *Extension) Subscriptions() []event.Subscription {
	return []event.Subscription{
		{Event: event.FunctionExecuted, Priority: 40, Handler: ext.apply},
	}
}

func (ext *Extension) apply(ctx context.Context, scope *event.Scope) error {
	if scope.Response == nil || !scope.Response.Success() {
		return nil
	}
	options := scope.Options(URN)

	mode := ModePartial
	if raw, ok := options["mode"].AsString(); ok {
		switch Mode(raw) {
		case ModeFull, ModePartial, ModeNone:
			mode = Mode(raw)
		default:
			return codes.New(codes.InvalidRequest, "unknown redaction mode %q", raw)
		}
	}

	policy := "default"
	if raw, ok := options["policy"].AsString(); ok && raw != "" {
		policy = raw
	}

	fields := append([]string(nil), DefaultFields...)
	if extra, ok := options["fields"].AsList(); ok {
		for _, field := range extra {
			if name, ok := field.AsString(); ok {
				fields = append(fields, name)
			}
		}
	}

	if mode == ModeNone {
		allowed := false
		if ext.authorize != nil {
			var err error
			allowed, err = ext.authorize(ctx, scope)
			if err != nil {
				return codes.Wrap(codes.InternalError, err)
			}
		}
		if !allowed {
			return codes.New(codes.Forbidden, "unredacted access denied under policy %q", policy).
				WithDetails(map[string]interface{}{"policy": policy})
		}
		policy = "authorized_access"
		scope.Response.AddExtension(URN.String(), data(mode, nil, policy))
		return nil
	}

	redacted, paths := Redact(scope.Response.Result, FieldSet(fields), mode)
	scope.Response.Result = redacted
	scope.Response.AddExtension(URN.String(), data(mode, paths, policy))
	return nil
}

func data(mode Mode, paths []string, policy string) envelope.Value {
	listed := make([]envelope.Value, len(paths))
	for i, path := range paths {
		listed[i] = envelope.String(path)
	}
	return envelope.Object(map[string]envelope.Value{
		"mode":            envelope.String(string(mode)),
		"redacted_fields": envelope.List(listed...),
		"policy":          envelope.String(policy),
	})
}
