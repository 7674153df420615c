// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("boom")
	e := New(CodeInternal, "ledger corrupted", cause)

	if e.Code != CodeInternal {
		t.Errorf("expected CodeInternal, got %v", e.Code)
	}
	if e.Message != "ledger corrupted" {
		t.Errorf("unexpected message %q", e.Message)
	}
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to reach the cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("register: %w", UnknownAgent("r2"))

	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent match")
	}
	if errors.Is(err, ErrUnknownRole) {
		t.Fatalf("unexpected ErrUnknownRole match")
	}
}

func TestWithContext(t *testing.T) {
	e := UnknownRole("transport")
	if e.Context["role"] != "transport" {
		t.Errorf("expected role context, got %v", e.Context)
	}
	e.WithContext("agent", "r1")
	if e.Context["agent"] != "r1" {
		t.Errorf("expected agent context")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"typed", New(CodeAlreadyExists, "dup", nil), CodeAlreadyExists},
		{"wrapped", fmt.Errorf("x: %w", New(CodeNotFound, "gone", nil)), CodeNotFound},
		{"plain", errors.New("plain"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeInvalidInput, "bad kind", errors.New("kind=foo")).WithContext("kind", "foo")
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "INVALID_INPUT" {
		t.Errorf("expected code INVALID_INPUT, got %v", out["code"])
	}
	if out["error"] != "kind=foo" {
		t.Errorf("expected cause string, got %v", out["error"])
	}
}
