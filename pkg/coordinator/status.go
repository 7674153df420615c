// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"sort"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/fatigue"
	"github.com/jllopis/cgcs/pkg/loopguard"
)

// AgentState is the lifecycle state of a registered agent.
type AgentState string

const (
	StateActive        AgentState = "active"
	StateCircuitBroken AgentState = "circuit_broken"
)

// AgentStatus is a read-only snapshot of one agent.
type AgentStatus struct {
	ID             string                        `json:"id"`
	State          AgentState                    `json:"state"`
	CircuitReason  string                        `json:"circuit_reason,omitempty"`
	Escalation     int                           `json:"escalation"`
	ActiveRoles    []string                      `json:"active_roles"`
	Load           float64                       `json:"load"`
	AllowedActions []string                      `json:"allowed_actions"`
	Mode           loopguard.Mode                `json:"mode"`
	Fatigue        fatigue.State                 `json:"fatigue"`
	Stress         map[string]float64            `json:"stress,omitempty"`
	Suggestions    map[string]fatigue.Suggestion `json:"suggestions,omitempty"`
	Admitted       int                           `json:"admitted"`
	Refused        int                           `json:"refused"`
	RegisteredAt   time.Time                     `json:"registered_at"`
}

// Status is a kernel-wide snapshot for telemetry readers.
type Status struct {
	Agents        []AgentStatus `json:"agents"`
	Active        int           `json:"active"`
	CircuitBroken int           `json:"circuit_broken"`
	Admitted      int           `json:"admitted"`
	Refused       int           `json:"refused"`
	LoggedActions int           `json:"logged_actions"`
}

// AgentStatus returns a snapshot of one agent.
func (c *Coordinator) AgentStatus(agentID string) (AgentStatus, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return AgentStatus{}, errors.UnknownAgent(agentID)
	}
	return c.snapshot(a), nil
}

func (c *Coordinator) snapshot(a *agent) AgentStatus {
	now := c.now()
	a.mu.Lock()
	active := a.roles.Active()
	st := AgentStatus{
		ID:             a.id,
		State:          stateOf(a.breaker),
		CircuitReason:  a.breaker.Reason(),
		Escalation:     a.escalation,
		ActiveRoles:    active,
		Load:           a.roles.Load(),
		AllowedActions: a.roles.AllowedActions(),
		Mode:           a.guard.Mode(now),
		Admitted:       a.admitted,
		Refused:        a.refused,
		RegisteredAt:   a.registeredAt,
	}
	a.mu.Unlock()

	st.Stress = a.stress.Values()
	st.Suggestions = a.stress.Suggestions(active)
	if fs, err := c.fatigue.State(a.id); err == nil {
		st.Fatigue = fs
	}
	return st
}

// Status returns a snapshot of every agent, sorted by id.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	agents := make([]*agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.RUnlock()

	var s Status
	s.Agents = make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		st := c.snapshot(a)
		if st.State == StateCircuitBroken {
			s.CircuitBroken++
		} else {
			s.Active++
		}
		s.Admitted += st.Admitted
		s.Refused += st.Refused
		s.Agents = append(s.Agents, st)
	}
	sort.Slice(s.Agents, func(i, j int) bool { return s.Agents[i].ID < s.Agents[j].ID })

	c.logMu.Lock()
	s.LoggedActions = c.log.Len()
	c.logMu.Unlock()
	return s
}
