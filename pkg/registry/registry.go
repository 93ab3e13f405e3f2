// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package registry holds the process-wide function registry: descriptor
// registration with reserved-namespace enforcement, dotted-name aliasing,
// and per-request (function, version) resolution.
package registry

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/urn"
	"forrst.io/forrst/pkg/version"
)

// Error is a registry error class.
var Error = errs.Class("registry error")

// Functions is the process-wide function registry. It is initialized at boot
// and treated as effectively immutable while serving; the mutex only guards
// boot-time registration.
type Functions struct {
	mu        sync.RWMutex
	functions map[urn.URN]map[string]*Descriptor
	dotted    map[string]urn.URN
}

// NewFunctions creates an empty function registry.
func NewFunctions() *Functions {
	return &Functions{
		functions: make(map[urn.URN]map[string]*Descriptor),
		dotted:    make(map[string]urn.URN),
	}
}

// Register adds a non-core descriptor; registrations under the reserved
// vendor fail.
func (r *Functions) Register(desc *Descriptor) error {
	return r.register(desc, false)
}

// RegisterCore adds a descriptor in the reserved core namespace.
func (r *Functions) RegisterCore(desc *Descriptor) error {
	return r.register(desc, true)
}

func (r *Functions) register(desc *Descriptor, core bool) error {
	if desc == nil {
		return Error.New("nil descriptor")
	}
	if desc.Version == nil {
		return Error.New("missing version for %q", desc.URN)
	}
	if desc.Handler == nil {
		return Error.New("missing handler for %q", desc.URN)
	}

	parsed, err := urn.Parse(desc.URN.String())
	if err != nil {
		return Error.Wrap(err)
	}
	if parsed.Kind() != urn.KindFunction {
		return Error.New("not a function urn: %q", desc.URN)
	}
	if err := urn.CheckRegistration(parsed, core); err != nil {
		return err
	}
	if len(desc.Extensions.Supported) > 0 && len(desc.Extensions.Excluded) > 0 {
		return Error.New("supported and excluded extension rules are mutually exclusive: %q", desc.URN)
	}
	desc.URN = parsed

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.functions[parsed]
	if !ok {
		versions = make(map[string]*Descriptor)
		r.functions[parsed] = versions
	}
	key := desc.Version.String()
	if _, exists := versions[key]; exists {
		return Error.New("duplicate registration of %q version %s", parsed, key)
	}
	versions[key] = desc

	if dotted := parsed.DottedName(); dotted != "" {
		r.dotted[dotted] = parsed
	}
	return nil
}

// Lookup resolves a function name (URN or dotted compatibility form) to the
// registered URN.
func (r *Functions) Lookup(name string) (urn.URN, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if urn.IsDotted(name) {
		target, ok := r.dotted[name]
		if !ok {
			return "", codes.New(codes.FunctionNotFound, "function %q is not registered", name).
				WithDetails(map[string]interface{}{"function": name})
		}
		return target, nil
	}

	parsed, err := urn.Parse(name)
	if err != nil {
		return "", codes.New(codes.FunctionNotFound, "invalid function urn %q", name).
			WithDetails(map[string]interface{}{"function": name})
	}
	if _, ok := r.functions[parsed]; !ok {
		return "", codes.New(codes.FunctionNotFound, "function %q is not registered", name).
			WithDetails(map[string]interface{}{"function": name})
	}
	return parsed, nil
}

// Versions returns the registered versions of a function in ascending semver
// precedence.
func (r *Functions) Versions(fn urn.URN) []*semver.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.functions[fn]
	versions := make([]*semver.Version, 0, len(registered))
	for _, desc := range registered {
		versions = append(versions, desc.Version)
	}
	version.SortAscending(versions)
	return versions
}

// Resolve selects the concrete registered version for a request. The name
// may be a URN or a dotted compatibility name; requested may be empty, in
// which case the highest non-prerelease version wins.
func (r *Functions) Resolve(name, requested string) (*Descriptor, error) {
	fn, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	available := r.Versions(fn)
	availableStrs := version.Strings(available)

	var selected *semver.Version
	if requested != "" {
		requestedVersion, err := version.Parse(requested)
		if err != nil {
			return nil, codes.New(codes.VersionNotFound, "invalid version %q for %q", requested, name).
				WithDetails(map[string]interface{}{
					"function":           name,
					"requested_version":  requested,
					"available_versions": availableStrs,
				})
		}
		exact, ok := version.SelectExact(available, requestedVersion)
		if !ok {
			return nil, codes.New(codes.VersionNotFound, "version %s of %q is not registered", requested, name).
				WithDetails(map[string]interface{}{
					"function":           name,
					"requested_version":  requested,
					"available_versions": availableStrs,
				})
		}
		selected = exact
	} else {
		stable, ok := version.SelectDefault(available)
		if !ok {
			return nil, codes.New(codes.VersionNotFound, "%q has no stable version; request one explicitly", name).
				WithDetails(map[string]interface{}{
					"function":           name,
					"available_versions": availableStrs,
				})
		}
		selected = stable
	}

	r.mu.RLock()
	desc := r.functions[fn][selected.String()]
	r.mu.RUnlock()

	if desc.Disabled {
		return nil, codes.New(codes.FunctionDisabled, "function %q is disabled", name).
			WithDetails(map[string]interface{}{"function": name})
	}
	return desc, nil
}

// Describe returns the discoverable descriptors, sorted by URN then version.
func (r *Functions) Describe() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Descriptor
	for _, versions := range r.functions {
		for _, desc := range versions {
			if desc.Discoverable {
				all = append(all, desc)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].URN != all[j].URN {
			return all[i].URN < all[j].URN
		}
		return all[i].Version.LessThan(all[j].Version)
	})
	return all
}

// All returns every registered descriptor.
func (r *Functions) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Descriptor
	for _, versions := range r.functions {
		for _, desc := range versions {
			all = append(all, desc)
		}
	}
	return all
}
