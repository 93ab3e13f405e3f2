// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package codes defines the closed forrst error taxonomy: every
// protocol-visible error carries one of these codes, each with a
// retryability flag and a canonical HTTP status.
package codes

import "net/http"

// Code identifies a forrst error kind in SCREAMING_SNAKE_CASE.
type Code string

// The closed set of error codes.
const (
	ParseError             Code = "PARSE_ERROR"
	InvalidRequest         Code = "INVALID_REQUEST"
	InvalidProtocolVersion Code = "INVALID_PROTOCOL_VERSION"
	FunctionNotFound       Code = "FUNCTION_NOT_FOUND"
	VersionNotFound        Code = "VERSION_NOT_FOUND"
	FunctionDisabled       Code = "FUNCTION_DISABLED"
	InvalidArguments       Code = "INVALID_ARGUMENTS"
	SchemaValidationFailed Code = "SCHEMA_VALIDATION_FAILED"
	ExtensionNotSupported  Code = "EXTENSION_NOT_SUPPORTED"
	ExtensionNotApplicable Code = "EXTENSION_NOT_APPLICABLE"
	Unauthorized           Code = "UNAUTHORIZED"
	Forbidden              Code = "FORBIDDEN"
	NotFound               Code = "NOT_FOUND"
	Conflict               Code = "CONFLICT"
	Gone                   Code = "GONE"
	DeadlineExceeded       Code = "DEADLINE_EXCEEDED"
	RateLimited            Code = "RATE_LIMITED"
	InternalError          Code = "INTERNAL_ERROR"
	Unavailable            Code = "UNAVAILABLE"
	DependencyError        Code = "DEPENDENCY_ERROR"
	IdempotencyConflict    Code = "IDEMPOTENCY_CONFLICT"
	IdempotencyProcessing  Code = "IDEMPOTENCY_PROCESSING"
	ServerMaintenance      Code = "SERVER_MAINTENANCE"
	FunctionMaintenance    Code = "FUNCTION_MAINTENANCE"
	LockNotFound           Code = "LOCK_NOT_FOUND"
	LockOwnershipMismatch  Code = "LOCK_OWNERSHIP_MISMATCH"
	CancellationUnknown    Code = "CANCELLATION_TOKEN_UNKNOWN"
	CancellationTooLate    Code = "CANCELLATION_TOO_LATE"
	ReplayNotFound         Code = "REPLAY_NOT_FOUND"
	ReplayExpired          Code = "REPLAY_EXPIRED"
	ReplayAlreadyComplete  Code = "REPLAY_ALREADY_COMPLETE"
	ReplayCancelled        Code = "REPLAY_CANCELLED"
)

type properties struct {
	retryable bool
	status    int
}

var table = map[Code]properties{
	ParseError:             {false, http.StatusBadRequest},
	InvalidRequest:         {false, http.StatusBadRequest},
	InvalidProtocolVersion: {false, http.StatusBadRequest},
	FunctionNotFound:       {false, http.StatusNotFound},
	VersionNotFound:        {false, http.StatusNotFound},
	FunctionDisabled:       {true, http.StatusServiceUnavailable},
	InvalidArguments:       {false, http.StatusBadRequest},
	SchemaValidationFailed: {false, http.StatusUnprocessableEntity},
	ExtensionNotSupported:  {false, http.StatusBadRequest},
	ExtensionNotApplicable: {false, http.StatusBadRequest},
	Unauthorized:           {false, http.StatusUnauthorized},
	Forbidden:              {false, http.StatusForbidden},
	NotFound:               {false, http.StatusNotFound},
	Conflict:               {false, http.StatusConflict},
	Gone:                   {false, http.StatusGone},
	DeadlineExceeded:       {true, http.StatusRequestTimeout},
	RateLimited:            {true, http.StatusTooManyRequests},
	InternalError:          {true, http.StatusInternalServerError},
	Unavailable:            {true, http.StatusServiceUnavailable},
	DependencyError:        {true, http.StatusBadGateway},
	IdempotencyConflict:    {false, http.StatusConflict},
	IdempotencyProcessing:  {true, http.StatusConflict},
	ServerMaintenance:      {true, http.StatusServiceUnavailable},
	FunctionMaintenance:    {true, http.StatusServiceUnavailable},
	LockNotFound:           {false, http.StatusNotFound},
	LockOwnershipMismatch:  {false, http.StatusConflict},
	CancellationUnknown:    {false, http.StatusNotFound},
	CancellationTooLate:    {false, http.StatusConflict},
	ReplayNotFound:         {false, http.StatusNotFound},
	ReplayExpired:          {false, http.StatusGone},
	ReplayAlreadyComplete:  {false, http.StatusConflict},
	ReplayCancelled:        {false, http.StatusGone},
}

// Valid reports whether c belongs to the closed taxonomy.
func (c Code) Valid() bool {
	_, ok := table[c]
	return ok
}

// Retryable reports whether a client may retry after receiving c.
func (c Code) Retryable() bool {
	return table[c].retryable
}

// HTTPStatus returns the canonical HTTP status for c. Unknown codes map to
// 500 so that a bug in code construction never turns into a success status.
func (c Code) HTTPStatus() int {
	p, ok := table[c]
	if !ok {
		return http.StatusInternalServerError
	}
	return p.status
}

// All returns every code in the taxonomy.
func All() []Code {
	all := make([]Code, 0, len(table))
	for code := range table {
		all = append(all, code)
	}
	return all
}
