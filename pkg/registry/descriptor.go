// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package registry

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/urn"
)

// Stability describes the maturity of a function version.
type Stability string

// The stability levels.
const (
	StabilityStable Stability = "stable"
	StabilityAlpha  Stability = "alpha"
	StabilityBeta   Stability = "beta"
	StabilityRC     Stability = "rc"
)

// SideEffect describes a state mutation a function performs.
type SideEffect string

// The side effect kinds.
const (
	SideEffectCreate SideEffect = "create"
	SideEffectUpdate SideEffect = "update"
	SideEffectDelete SideEffect = "delete"
)

// ArgumentSpec describes one argument of a function, recursively for lists
// and objects.
type ArgumentSpec struct {
	Name        string
	Type        string // string, number, integer, boolean, list, object
	Required    bool
	Description string

	// numeric and string constraints
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int

	// Items constrains elements of a list argument.
	Items *ArgumentSpec
	// Fields constrains members of an object argument.
	Fields []ArgumentSpec
}

// ResultSpec describes the result of a function.
type ResultSpec struct {
	Type        string
	Description string
}

// ErrorSpec declares an error a function may return.
type ErrorSpec struct {
	Code        string
	Description string
}

// Deprecation marks a function version as deprecated.
type Deprecation struct {
	Reason string
	Sunset *time.Time
}

// ExtensionRules restricts which extensions may run for a function.
// Supported and Excluded are mutually exclusive.
type ExtensionRules struct {
	Supported []urn.URN
	Excluded  []urn.URN
}

// Handler is the body of a function version.
type Handler func(ctx context.Context, call *Call) (envelope.Value, error)

// CancelChecker lets user code cooperate with cancellation at safe points.
type CancelChecker interface {
	IsCancelled(ctx context.Context) (bool, error)
	ThrowIfCancelled(ctx context.Context) error
}

// Call carries the validated arguments and request context into a handler.
type Call struct {
	Function  urn.URN
	Version   string
	Arguments map[string]envelope.Value
	Context   map[string]envelope.Value

	// Cancel is non-nil when the request carries a cancellation token.
	Cancel CancelChecker
}

// Argument returns the named argument, absent when missing.
func (c *Call) Argument(name string) envelope.Value {
	return c.Arguments[name]
}

// Descriptor is the machine-readable specification of a callable
// (urn, version) pair.
type Descriptor struct {
	URN          urn.URN
	Version      *semver.Version
	Stability    Stability
	SideEffects  []SideEffect
	Arguments    []ArgumentSpec
	Result       ResultSpec
	Errors       []ErrorSpec
	Discoverable bool
	Deprecated   *Deprecation
	Extensions   ExtensionRules
	Disabled     bool

	Handler Handler
}
