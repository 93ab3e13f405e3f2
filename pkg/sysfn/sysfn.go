// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package sysfn implements the reserved system functions registered by the
// server at boot: ping, health, capabilities and describe.
package sysfn

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/extension"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
	"forrst.io/forrst/storage"
)

// Error is a system function error class.
var Error = errs.Class("sysfn error")

// The reserved system function URNs.
var (
	PingFunction         = urn.MustParse("urn:cline:forrst:fn:ping")
	HealthFunction       = urn.MustParse("urn:cline:forrst:fn:health")
	CapabilitiesFunction = urn.MustParse("urn:cline:forrst:fn:capabilities")
	DescribeFunction     = urn.MustParse("urn:cline:forrst:fn:describe")
)

// Capabilities describes the server surface reported by the capabilities
// function.
type Capabilities struct {
	ProtocolName    string
	ProtocolVersion string
	MaxRequestSize  int
	MaxResponseSize int
}

// Provider owns the system function handlers and their dependencies.
type Provider struct {
	capabilities Capabilities
	functions    *registry.Functions
	extensions   *extension.Registry
	stores       map[string]storage.KeyValueStore

	// now is the clock reported by ping and health; replaceable in tests.
	now func() time.Time
}

// New creates the system function provider. The stores map names each
// backing store checked by health.
func New(capabilities Capabilities, functions *registry.Functions, extensions *extension.Registry, stores map[string]storage.KeyValueStore) *Provider {
	return &Provider{
		capabilities: capabilities,
		functions:    functions,
		extensions:   extensions,
		stores:       stores,
		now:          time.Now,
	}
}

// Register adds the system functions to the registry under the reserved
// core namespace.
func (p *Provider) Register() error {
	v1 := semver.MustParse("1.0.0")
	descriptors := []*registry.Descriptor{
		{
			URN:       PingFunction,
			Version:   v1,
			Stability: registry.StabilityStable,
			Arguments: []registry.ArgumentSpec{
				{Name: "message", Type: "string", Description: "echoed back verbatim"},
			},
			Result:       registry.ResultSpec{Type: "object", Description: "echo and server time"},
			Discoverable: true,
			Handler:      p.ping,
		},
		{
			URN:          HealthFunction,
			Version:      v1,
			Stability:    registry.StabilityStable,
			Result:       registry.ResultSpec{Type: "object", Description: "server and store health"},
			Discoverable: true,
			Handler:      p.health,
		},
		{
			URN:          CapabilitiesFunction,
			Version:      v1,
			Stability:    registry.StabilityStable,
			Result:       registry.ResultSpec{Type: "object", Description: "protocol versions, size caps, registered extensions"},
			Discoverable: true,
			Handler:      p.describeCapabilities,
		},
		{
			URN:          DescribeFunction,
			Version:      v1,
			Stability:    registry.StabilityStable,
			Result:       registry.ResultSpec{Type: "object", Description: "discoverable function descriptors"},
			Discoverable: true,
			Handler:      p.describe,
		},
	}
	for _, desc := range descriptors {
		if err := p.functions.RegisterCore(desc); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (p *Provider) ping(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	members := map[string]envelope.Value{
		"pong":        envelope.Bool(true),
		"server_time": envelope.Time(p.now()),
	}
	if message, ok := call.Argument("message").AsString(); ok {
		members["message"] = envelope.String(message)
	}
	return envelope.Object(members), nil
}

func (p *Provider) health(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	overall := "ok"
	stores := make(map[string]envelope.Value, len(p.stores))
	for name, store := range p.stores {
		status := "ok"
		_, err := store.Get(ctx, storage.Key("forrst:health:probe"))
		if err != nil && !storage.ErrKeyNotFound.Has(err) {
			status = "unreachable"
			overall = "degraded"
		}
		stores[name] = envelope.String(status)
	}

	return envelope.Object(map[string]envelope.Value{
		"status":      envelope.String(overall),
		"stores":      envelope.Object(stores),
		"server_time": envelope.Time(p.now()),
	}), nil
}

func (p *Provider) describeCapabilities(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	registered := p.extensions.URNs()
	extensions := make([]envelope.Value, len(registered))
	for i, u := range registered {
		extensions[i] = envelope.String(u.String())
	}

	return envelope.Object(map[string]envelope.Value{
		"protocol": envelope.Object(map[string]envelope.Value{
			"name":    envelope.String(p.capabilities.ProtocolName),
			"version": envelope.String(p.capabilities.ProtocolVersion),
		}),
		"max_request_size":  envelope.Int(int64(p.capabilities.MaxRequestSize)),
		"max_response_size": envelope.Int(int64(p.capabilities.MaxResponseSize)),
		"extensions":        envelope.List(extensions...),
	}), nil
}

func (p *Provider) describe(ctx context.Context, call *registry.Call) (envelope.Value, error) {
	descriptors := p.functions.Describe()
	listed := make([]envelope.Value, len(descriptors))
	for i, desc := range descriptors {
		listed[i] = describeDescriptor(desc)
	}
	return envelope.Object(map[string]envelope.Value{
		"functions": envelope.List(listed...),
	}), nil
}

func describeDescriptor(desc *registry.Descriptor) envelope.Value {
	members := map[string]envelope.Value{
		"urn":       envelope.String(desc.URN.String()),
		"version":   envelope.String(desc.Version.String()),
		"stability": envelope.String(string(desc.Stability)),
	}
	if dotted := desc.URN.DottedName(); dotted != "" {
		members["name"] = envelope.String(dotted)
	}
	if len(desc.SideEffects) > 0 {
		effects := make([]envelope.Value, len(desc.SideEffects))
		for i, effect := range desc.SideEffects {
			effects[i] = envelope.String(string(effect))
		}
		members["side_effects"] = envelope.List(effects...)
	}
	if len(desc.Arguments) > 0 {
		arguments := make([]envelope.Value, len(desc.Arguments))
		for i := range desc.Arguments {
			arguments[i] = describeArgument(&desc.Arguments[i])
		}
		members["arguments"] = envelope.List(arguments...)
	}
	if desc.Result.Type != "" {
		members["result"] = envelope.Object(map[string]envelope.Value{
			"type":        envelope.String(desc.Result.Type),
			"description": envelope.String(desc.Result.Description),
		})
	}
	if len(desc.Errors) > 0 {
		declared := make([]envelope.Value, len(desc.Errors))
		for i, spec := range desc.Errors {
			declared[i] = envelope.Object(map[string]envelope.Value{
				"code":        envelope.String(spec.Code),
				"description": envelope.String(spec.Description),
			})
		}
		members["errors"] = envelope.List(declared...)
	}
	if desc.Deprecated != nil {
		deprecation := map[string]envelope.Value{
			"reason": envelope.String(desc.Deprecated.Reason),
		}
		if desc.Deprecated.Sunset != nil {
			deprecation["sunset"] = envelope.Time(*desc.Deprecated.Sunset)
		}
		members["deprecated"] = envelope.Object(deprecation)
	}
	return envelope.Object(members)
}

func describeArgument(spec *registry.ArgumentSpec) envelope.Value {
	members := map[string]envelope.Value{
		"name":     envelope.String(spec.Name),
		"type":     envelope.String(spec.Type),
		"required": envelope.Bool(spec.Required),
	}
	if spec.Description != "" {
		members["description"] = envelope.String(spec.Description)
	}
	if spec.Min != nil {
		members["min"] = envelope.Float(*spec.Min)
	}
	if spec.Max != nil {
		members["max"] = envelope.Float(*spec.Max)
	}
	if spec.MinLength != nil {
		members["min_length"] = envelope.Int(int64(*spec.MinLength))
	}
	if spec.MaxLength != nil {
		members["max_length"] = envelope.Int(int64(*spec.MaxLength))
	}
	if spec.Items != nil {
		members["items"] = describeArgument(spec.Items)
	}
	if len(spec.Fields) > 0 {
		fields := make([]envelope.Value, len(spec.Fields))
		for i := range spec.Fields {
			fields[i] = describeArgument(&spec.Fields[i])
		}
		members["fields"] = envelope.List(fields...)
	}
	return envelope.Object(members)
}
