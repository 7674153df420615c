// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/cgcs/pkg/errors"
)

// CLIError wraps a kernel error with a hint for the operator.
type CLIError struct {
	Cause *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Cause: e, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	msg := e.Cause.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the kernel error.
func (e *CLIError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "run 'cgcs --set key=value' or set CGCS_* variables to override defaults"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ke, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(ke, "run 'cgcs help' for usage information")
}

// PrintError writes err to w, as JSON when asJSON is set.
func PrintError(w io.Writer, err error, asJSON bool) {
	code := errors.CodeOf(err)
	msg, hint := err.Error(), ""
	var ce *CLIError
	if stderrors.As(err, &ce) && ce.Cause != nil {
		msg, hint = ce.Cause.Message, ce.Hint
		if ce.Cause.Err != nil {
			msg += ": " + ce.Cause.Err.Error()
		}
	}
	if asJSON {
		payload := map[string]map[string]string{"error": {"code": string(code), "message": msg}}
		if hint != "" {
			payload["error"]["hint"] = hint
		}
		b, _ := json.Marshal(payload)
		fmt.Fprintln(w, string(b))
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", code, msg)
	if hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}
