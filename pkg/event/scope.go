// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package event implements the per-request lifecycle events, the scope
// handed to every handler, and the priority-ordered synchronous bus.
package event

import (
	"time"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
)

// Type names a lifecycle event.
type Type string

// The lifecycle events, in the order they fire for a request.
const (
	RequestReceived   Type = "request_received"
	RequestParsed     Type = "request_parsed"
	RequestValidated  Type = "request_validated"
	ExecutingFunction Type = "executing_function"
	FunctionExecuted  Type = "function_executed"
	ResponseReady     Type = "response_ready"
)

// ActiveExtension is one entry of a request's active extension set.
type ActiveExtension struct {
	URN        urn.URN
	ErrorFatal bool
	// Options are the request-time options the caller declared, nil for
	// extensions that are active globally without declaration.
	Options map[string]envelope.Value
}

// Scope is the per-request mutable state owned by the pipeline. It is
// created when a request arrives and never outlives it; extensions must not
// retain it.
type Scope struct {
	Raw      []byte
	Request  *envelope.Request
	Function *registry.Descriptor
	Response *envelope.Response

	// Active is the computed active extension set. Before resolution it
	// holds only the global extensions.
	Active []ActiveExtension

	// Deadline is the wall-clock deadline for the request; zero means none.
	Deadline time.Time

	// Started is the monotonic start reference captured at
	// ExecutingFunction.
	Started time.Time

	stopped   bool
	responded bool
	scratch   map[string]interface{}
}

// NewScope creates a scope with an empty response skeleton.
func NewScope(raw []byte) *Scope {
	return &Scope{
		Raw:      raw,
		Response: &envelope.Response{},
	}
}

// IsActive reports whether the extension is in the active set.
func (s *Scope) IsActive(ext urn.URN) bool {
	for _, active := range s.Active {
		if active.URN == ext {
			return true
		}
	}
	return false
}

// Options returns the request-time options declared for an active
// extension.
func (s *Scope) Options(ext urn.URN) map[string]envelope.Value {
	for _, active := range s.Active {
		if active.URN == ext {
			return active.Options
		}
	}
	return nil
}

// StopPropagation halts further dispatch of the current event.
func (s *Scope) StopPropagation() { s.stopped = true }

// Stopped reports whether propagation was halted for the current event.
func (s *Scope) Stopped() bool { return s.stopped }

// resetPropagation clears the stop flag between events.
func (s *Scope) resetPropagation() { s.stopped = false }

// SetResponse short-circuits function invocation with the given response.
func (s *Scope) SetResponse(response *envelope.Response) {
	s.Response = response
	s.responded = true
}

// Responded reports whether a handler short-circuited invocation.
func (s *Scope) Responded() bool { return s.responded }

// DeadlineExceeded reports whether the request deadline has passed.
func (s *Scope) DeadlineExceeded() bool {
	return !s.Deadline.IsZero() && !time.Now().Before(s.Deadline)
}

// Set stores per-request extension scratch data.
func (s *Scope) Set(key string, value interface{}) {
	if s.scratch == nil {
		s.scratch = make(map[string]interface{})
	}
	s.scratch[key] = value
}

// Get loads per-request extension scratch data.
func (s *Scope) Get(key string) (interface{}, bool) {
	value, ok := s.scratch[key]
	return value, ok
}

// Clear removes per-request extension scratch data, preventing leakage
// between requests that reuse buffers.
func (s *Scope) Clear(key string) {
	delete(s.scratch, key)
}
