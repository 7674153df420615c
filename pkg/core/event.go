// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"time"
)

// EventType identifies a kernel lifecycle event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent.registered"
	EventAgentUnregistered EventType = "agent.unregistered"
	EventActionAdmitted    EventType = "action.admitted"
	EventActionRefused     EventType = "action.refused"
	EventDeEscalation      EventType = "agent.deescalated"
	EventCircuitTripped    EventType = "circuit.tripped"
	EventCircuitReset      EventType = "circuit.reset"
	EventRoleActivated     EventType = "role.activated"
	EventRoleReleased      EventType = "role.released"
)

// Event captures something an observer (dashboard, audit log) may want to see.
type Event struct {
	Type      EventType
	Agent     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives kernel events. Emitters must not call back into the
// kernel synchronously.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, agent string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
