// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records admission decisions for external reviewers. The
// kernel writes to a sink and never reads it back.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/cgcs/pkg/coordinator"
	"github.com/jllopis/cgcs/pkg/core"
)

// DefaultMemoryCapacity bounds a MemorySink created with capacity <= 0.
const DefaultMemoryCapacity = 1024

// Record is one persisted admission decision.
type Record struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Action     string    `json:"action"`
	Allowed    bool      `json:"allowed"`
	Code       string    `json:"code,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
	Risk       float64   `json:"risk"`
	Mode       string    `json:"mode"`
	Escalation int       `json:"escalation"`
	Tripped    bool      `json:"tripped,omitempty"`
	At         time.Time `json:"at"`
}

// FromDecision converts a coordinator decision into a record with a fresh id.
func FromDecision(d coordinator.Decision) Record {
	return Record{
		ID:         uuid.NewString(),
		Agent:      d.Agent,
		Action:     d.Action,
		Allowed:    d.Allowed,
		Code:       string(d.Code),
		Reasons:    append([]string(nil), d.Reasons...),
		Risk:       d.Risk,
		Mode:       string(d.Mode),
		Escalation: d.Escalation,
		Tripped:    d.Tripped,
		At:         d.At.UTC(),
	}
}

// Outcome filters records by decision result.
type Outcome string

const (
	OutcomeAny      Outcome = ""
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRefused  Outcome = "refused"
)

// Filter limits List queries.
type Filter struct {
	Agent   string
	Outcome Outcome
	Code    string
	Since   time.Time
	Limit   int
}

func (f Filter) match(r Record) bool {
	if f.Agent != "" && r.Agent != f.Agent {
		return false
	}
	switch f.Outcome {
	case OutcomeAdmitted:
		if !r.Allowed {
			return false
		}
	case OutcomeRefused:
		if r.Allowed {
			return false
		}
	}
	if f.Code != "" && r.Code != f.Code {
		return false
	}
	if !f.Since.IsZero() && r.At.Before(f.Since) {
		return false
	}
	return true
}

// Store is an admission sink that can be queried.
type Store interface {
	coordinator.AdmissionSink
	List(ctx context.Context, filter Filter) ([]Record, error)
	Close() error
}

// MemorySink keeps the most recent records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records *core.Ring[Record]
}

// NewMemorySink creates a sink holding at most capacity records.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{records: core.NewRing[Record](capacity)}
}

// Record implements coordinator.AdmissionSink.
func (s *MemorySink) Record(_ context.Context, d coordinator.Decision) error {
	rec := FromDecision(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Push(rec)
	return nil
}

// List returns matching records, oldest first.
func (s *MemorySink) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, s.records.Len())
	for _, r := range s.records.Items() {
		if !filter.match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of records held.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Len()
}

// Close implements Store.
func (s *MemorySink) Close() error { return nil }
