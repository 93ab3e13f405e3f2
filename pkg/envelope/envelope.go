// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package envelope implements the forrst wire envelope: parsing of request
// documents, serialization of response documents, and the Value variant used
// for all free-form members.
package envelope

import (
	"github.com/zeebo/errs"
)

// Error is an envelope error class.
var Error = errs.Class("envelope error")

// Protocol identifies the wire protocol of an envelope.
type Protocol struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Request is a parsed request envelope.
type Request struct {
	Protocol   Protocol
	ID         string
	Call       Call
	Context    map[string]Value
	Extensions []Declared
}

// Call names the target of a request: a function URN or dotted name, an
// optional semver version, and the arguments.
type Call struct {
	Function  string
	Version   string
	Arguments map[string]Value
}

// Declared is an extension declared by the caller, with its request-time
// options.
type Declared struct {
	URN     string
	Options map[string]Value
}

// Response is a response envelope under construction or ready to serialize.
// Exactly one of Result (non-absent) or Errors is emitted.
type Response struct {
	Protocol   Protocol
	ID         *string
	Result     Value
	Errors     []ErrorObject
	Meta       map[string]Value
	Extensions []ResponseExtension
}

// ErrorObject is a wire-visible structured error.
type ErrorObject struct {
	Code    string
	Message string
	Source  *ErrorSource
	Details map[string]Value
}

// ErrorSource locates the origin of an error either as an RFC 6901 pointer
// into the request document or as a byte position in the raw input. The two
// are mutually exclusive.
type ErrorSource struct {
	Pointer  string
	Position int64
}

// ResponseExtension is response-time data contributed by an extension.
type ResponseExtension struct {
	URN  string
	Data Value
}

// Success reports whether the response carries a result rather than errors.
func (r *Response) Success() bool { return len(r.Errors) == 0 }

// SetResult sets the result and clears any errors.
func (r *Response) SetResult(result Value) {
	r.Result = result
	r.Errors = nil
}

// SetError replaces the response outcome with a single error.
func (r *Response) SetError(err ErrorObject) {
	r.Result = Value{}
	r.Errors = []ErrorObject{err}
}

// SetErrors replaces the response outcome with multiple errors.
func (r *Response) SetErrors(errors []ErrorObject) {
	r.Result = Value{}
	r.Errors = errors
}

// SetMeta sets a response meta member.
func (r *Response) SetMeta(key string, value Value) {
	if r.Meta == nil {
		r.Meta = make(map[string]Value)
	}
	r.Meta[key] = value
}

// AddExtension appends response-time extension data, replacing any earlier
// entry for the same URN.
func (r *Response) AddExtension(urn string, data Value) {
	for i := range r.Extensions {
		if r.Extensions[i].URN == urn {
			r.Extensions[i].Data = data
			return
		}
	}
	r.Extensions = append(r.Extensions, ResponseExtension{URN: urn, Data: data})
}

// Extension returns the response-time data for urn, if present.
func (r *Response) Extension(urn string) (Value, bool) {
	for _, ext := range r.Extensions {
		if ext.URN == urn {
			return ext.Data, true
		}
	}
	return Value{}, false
}
