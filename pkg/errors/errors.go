// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors for programmer faults raised by the
// coordination kernel.
//
// Refusals (consent missing, capacity exceeded, loop detected, fatigue) are
// never errors: they are returned as decisions with reasons. An *Error means a
// caller referenced something that does not exist or broke an API contract.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies kernel errors for logging and metrics.
type ErrorCode string

const (
	// CodeInternal indicates an internal kernel error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid (bad kind, bad config).
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a record id was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a duplicate id was supplied.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeUnknownAgent indicates the agent was never registered.
	CodeUnknownAgent ErrorCode = "UNKNOWN_AGENT"

	// CodeUnknownRole indicates the role is not in the registry.
	CodeUnknownRole ErrorCode = "UNKNOWN_ROLE"

	// CodeInvariant indicates an arithmetic invariant had to be restored.
	CodeInvariant ErrorCode = "INVARIANT_VIOLATION"

	// CodeCircuitOpen indicates a circuit breaker is latched open.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeCanceled indicates the context ended before the operation finished.
	CodeCanceled ErrorCode = "CANCELED"
)

// Error is a typed error with context for structured logging.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, errors.ErrUnknownAgent).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Err     string         `json:"error,omitempty"`
		Context map[string]any `json:"context,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
		Context: e.Context,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Sentinels for errors.Is matching. Only the code is compared.
var (
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists}
	ErrUnknownAgent  = &Error{Code: CodeUnknownAgent}
	ErrUnknownRole   = &Error{Code: CodeUnknownRole}
	ErrInvalidInput  = &Error{Code: CodeInvalidInput}
	ErrCircuitOpen   = &Error{Code: CodeCircuitOpen}
)

// UnknownAgent builds the error returned when an agent id is not registered.
func UnknownAgent(id string) *Error {
	return New(CodeUnknownAgent, fmt.Sprintf("agent %q is not registered", id), nil).
		WithContext("agent", id)
}

// UnknownRole builds the error returned when a role name is not in the registry.
func UnknownRole(name string) *Error {
	return New(CodeUnknownRole, fmt.Sprintf("role %q is not registered", name), nil).
		WithContext("role", name)
}

// CodeOf returns the code of err, or CodeInternal when err is not an *Error.
// A nil error yields the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
