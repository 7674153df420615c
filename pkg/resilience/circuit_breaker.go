// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides the latching circuit breaker that fences off
// escalated agents, and a small retry helper for collaborator I/O.
package resilience

import (
	"sync"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
)

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed means calls are allowed.
	StateClosed State = "closed"

	// StateOpen means calls are refused.
	StateOpen State = "open"

	// StateHalfOpen means the open timeout elapsed and a trial call is allowed.
	StateHalfOpen State = "half-open"
)

// Config configures a circuit breaker.
type Config struct {
	// Name identifies the breaker in errors and logs.
	Name string

	// Timeout is how long an open breaker waits before going half-open.
	// Zero latches the breaker open until Reset is called.
	Timeout time.Duration

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the time source.
	Now func() time.Time
}

// CircuitBreaker is opened explicitly with Trip and closed with Reset.
type CircuitBreaker struct {
	cfg Config

	mu       sync.RWMutex
	state    State
	reason   string
	openedAt time.Time
	trips    int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "circuit_breaker"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Trip opens the breaker with reason. Tripping an open breaker keeps the
// first reason and reports false.
func (cb *CircuitBreaker) Trip(reason string) bool {
	cb.mu.Lock()
	from := cb.state
	if from == StateOpen {
		cb.mu.Unlock()
		return false
	}
	cb.state = StateOpen
	cb.reason = reason
	cb.openedAt = cb.cfg.Now()
	cb.trips++
	cb.mu.Unlock()
	cb.notify(from, StateOpen)
	return true
}

// Reset closes the breaker. It reports whether the breaker was not closed.
func (cb *CircuitBreaker) Reset() bool {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.reason = ""
	cb.openedAt = time.Time{}
	cb.mu.Unlock()
	if from == StateClosed {
		return false
	}
	cb.notify(from, StateClosed)
	return true
}

// Allow returns nil when a call may proceed, or a CIRCUIT_OPEN error.
func (cb *CircuitBreaker) Allow() error {
	from, to := cb.advance()
	if from != to {
		cb.notify(from, to)
	}
	if to == StateOpen {
		cb.mu.RLock()
		reason := cb.reason
		cb.mu.RUnlock()
		return errors.New(errors.CodeCircuitOpen, "circuit breaker open", nil).
			WithContext("breaker", cb.cfg.Name).
			WithContext("reason", reason)
	}
	return nil
}

// advance moves an open breaker to half-open once its timeout has elapsed.
func (cb *CircuitBreaker) advance() (from, to State) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	from = cb.state
	if cb.state == StateOpen && cb.cfg.Timeout > 0 && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.state = StateHalfOpen
	}
	return from, cb.state
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reason returns why the breaker was last tripped, or "" when closed.
func (cb *CircuitBreaker) Reason() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.reason
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.trips
}
