// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package extension holds the process-wide extension registry and computes
// each request's active extension set.
package extension

import (
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
)

// Error is an extension error class.
var Error = errs.Class("extension error")

// Extension is a cross-cutting plug-in observing lifecycle events.
type Extension interface {
	// URN identifies the extension.
	URN() urn.URN
	// Global reports whether the extension runs for every request without
	// being declared.
	Global() bool
	// ErrorFatal reports whether a handler error replaces the response.
	ErrorFatal() bool
	// Subscriptions lists the extension's event subscriptions.
	Subscriptions() []event.Subscription
}

// FunctionProvider is implemented by extensions that contribute system
// functions, resolvable only while the extension is registered.
type FunctionProvider interface {
	Functions() []*registry.Descriptor
}

// Registry is the process-wide extension registry, initialized at boot.
type Registry struct {
	mu    sync.RWMutex
	order []Extension
	byURN map[urn.URN]Extension
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{byURN: make(map[urn.URN]Extension)}
}

// Register adds a non-core extension; registrations under the reserved
// vendor fail.
func (r *Registry) Register(ext Extension) error {
	return r.register(ext, false)
}

// RegisterCore adds a core extension in the reserved namespace.
func (r *Registry) RegisterCore(ext Extension) error {
	return r.register(ext, true)
}

func (r *Registry) register(ext Extension, core bool) error {
	parsed, err := urn.Parse(ext.URN().String())
	if err != nil {
		return Error.Wrap(err)
	}
	if parsed.Kind() != urn.KindExtension {
		return Error.New("not an extension urn: %q", ext.URN())
	}
	if err := urn.CheckRegistration(parsed, core); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byURN[parsed]; exists {
		return Error.New("duplicate registration of %q", parsed)
	}
	r.byURN[parsed] = ext
	r.order = append(r.order, ext)
	return nil
}

// Bus builds the boot-time event bus from every registered extension's
// subscriptions, sorted once by (priority, registration order).
func (r *Registry) Bus(log *zap.Logger) (*event.Bus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bus := event.NewBus(log)
	for _, ext := range r.order {
		if err := bus.Subscribe(ext.URN(), ext.ErrorFatal(), ext.Subscriptions()); err != nil {
			return nil, err
		}
	}
	bus.Seal()
	return bus, nil
}

// Functions collects the system functions contributed by registered
// extensions.
func (r *Registry) Functions() []*registry.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*registry.Descriptor
	for _, ext := range r.order {
		if provider, ok := ext.(FunctionProvider); ok {
			all = append(all, provider.Functions()...)
		}
	}
	return all
}

// URNs returns the registered extension URNs in registration order.
func (r *Registry) URNs() []urn.URN {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urns := make([]urn.URN, len(r.order))
	for i, ext := range r.order {
		urns[i] = ext.URN()
	}
	return urns
}

// Globals returns the active set of an undirected request: every global
// extension, no declared options.
func (r *Registry) Globals() []event.ActiveExtension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []event.ActiveExtension
	for _, ext := range r.order {
		if ext.Global() {
			active = append(active, event.ActiveExtension{
				URN:        ext.URN(),
				ErrorFatal: ext.ErrorFatal(),
			})
		}
	}
	return active
}

// ActiveSet computes a request's active extensions: all globals plus the
// declared set, filtered by the resolved function's supported/excluded
// rules. Declared URNs outside a non-empty supported list, or inside the
// excluded list, fail with EXTENSION_NOT_APPLICABLE; undeclared unknown
// URNs fail with EXTENSION_NOT_SUPPORTED.
func (r *Registry) ActiveSet(fn *registry.Descriptor, declared []envelope.Declared) ([]event.ActiveExtension, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	supported := make(map[urn.URN]bool, len(fn.Extensions.Supported))
	for _, u := range fn.Extensions.Supported {
		supported[u] = true
	}
	excluded := make(map[urn.URN]bool, len(fn.Extensions.Excluded))
	for _, u := range fn.Extensions.Excluded {
		excluded[u] = true
	}

	options := make(map[urn.URN]map[string]envelope.Value, len(declared))
	declaredSet := make(map[urn.URN]bool, len(declared))
	for _, decl := range declared {
		parsed, err := urn.Parse(decl.URN)
		if err != nil {
			return nil, codes.New(codes.ExtensionNotSupported, "invalid extension urn %q", decl.URN).
				WithDetails(map[string]interface{}{"extension": decl.URN})
		}
		if _, ok := r.byURN[parsed]; !ok {
			return nil, codes.New(codes.ExtensionNotSupported, "extension %q is not registered", parsed).
				WithDetails(map[string]interface{}{"extension": parsed.String()})
		}
		if len(supported) > 0 && !supported[parsed] {
			return nil, codes.New(codes.ExtensionNotApplicable, "extension %q is not applicable to %q", parsed, fn.URN).
				WithDetails(map[string]interface{}{"extension": parsed.String(), "function": fn.URN.String()})
		}
		if excluded[parsed] {
			return nil, codes.New(codes.ExtensionNotApplicable, "extension %q is excluded by %q", parsed, fn.URN).
				WithDetails(map[string]interface{}{"extension": parsed.String(), "function": fn.URN.String()})
		}
		declaredSet[parsed] = true
		options[parsed] = decl.Options
	}

	var active []event.ActiveExtension
	seen := make(map[urn.URN]bool)
	for _, ext := range r.order {
		u := ext.URN()
		include := ext.Global() || declaredSet[u]
		if !include || seen[u] {
			continue
		}
		if excluded[u] {
			continue
		}
		seen[u] = true
		active = append(active, event.ActiveExtension{
			URN:        u,
			ErrorFatal: ext.ErrorFatal(),
			Options:    options[u],
		})
	}
	return active, nil
}
