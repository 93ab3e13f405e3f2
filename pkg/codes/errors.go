// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package codes

import (
	"errors"
	"fmt"
)

// Error is an error carrying a taxonomy code, an operator-facing message and
// optional wire-visible details.
type Error struct {
	code     Code
	message  string
	details  map[string]interface{}
	pointer  string
	position *int64
	cause    error
}

// New returns an error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an existing error. A nil err returns nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: err.Error(), cause: err}
}

// WithDetails attaches wire-visible details and returns the same error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.details = details
	return e
}

// WithPointer records an RFC 6901 pointer into the request document and
// returns the same error. Mutually exclusive with WithPosition.
func (e *Error) WithPointer(pointer string) *Error {
	e.pointer = pointer
	e.position = nil
	return e
}

// WithPosition records a byte position in the raw input and returns the same
// error. Mutually exclusive with WithPointer.
func (e *Error) WithPosition(position int64) *Error {
	e.position = &position
	e.pointer = ""
	return e
}

// Code returns the taxonomy code.
func (e *Error) Code() Code { return e.code }

// Pointer returns the recorded RFC 6901 pointer, or empty.
func (e *Error) Pointer() string { return e.pointer }

// Position returns the recorded byte position, or nil.
func (e *Error) Position() *int64 { return e.position }

// Details returns the wire-visible details, possibly nil.
func (e *Error) Details() map[string]interface{} { return e.details }

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.code) + ": " + e.message
}

// Message returns the message without the code prefix.
func (e *Error) Message() string { return e.message }

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the taxonomy code from err, or returns the empty code when
// err carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// DetailsOf extracts the wire-visible details from err, or nil.
func DetailsOf(err error) map[string]interface{} {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.details
	}
	return nil
}

// MessageOf extracts the message from err without the code prefix.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.message
	}
	return err.Error()
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// PointerOf extracts the recorded pointer from err, or empty.
func PointerOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.pointer
	}
	return ""
}

// PositionOf extracts the recorded byte position from err, or nil.
func PositionOf(err error) *int64 {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.position
	}
	return nil
}
