// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/core"
	"github.com/jllopis/cgcs/pkg/loopguard"
	"github.com/jllopis/cgcs/pkg/resilience"
	"github.com/jllopis/cgcs/pkg/telemetry"
)

// Code classifies a refusal with a bounded set of values for metrics.
type Code string

const (
	CodeAdmitted          Code = ""
	CodeCircuitBroken     Code = "circuit_broken"
	CodeUnknownAgent      Code = "unknown_agent"
	CodeNotPermitted      Code = "not_permitted"
	CodeConsentRequired   Code = "consent_required"
	CodeLoopDetected      Code = "loop_detected"
	CodeEscalationCeiling Code = "escalation_ceiling"
	CodeFatigue           Code = "fatigue"
)

// Human-readable refusal reasons.
const (
	ReasonCircuitBroken     = "circuit broken"
	ReasonUnknownAgent      = "unknown agent"
	ReasonConsentRequired   = "action consent required"
	ReasonEscalationCeiling = "escalation ceiling reached"
)

// ActionContext carries the input that prompted an action. Text and Tags feed
// the loop guard; when both are empty the action name is observed instead.
type ActionContext struct {
	Text      string
	Tags      []string
	ConsentID string
}

// Decision is the outcome of CoordinateAction. A refusal is a value, never
// an error.
type Decision struct {
	Agent       string                `json:"agent"`
	Action      string                `json:"action"`
	Allowed     bool                  `json:"allowed"`
	Code        Code                  `json:"code,omitempty"`
	Reasons     []string              `json:"reasons,omitempty"`
	Risk        float64               `json:"risk"`
	Mode        loopguard.Mode        `json:"mode"`
	Constraints loopguard.Constraints `json:"constraints"`
	Escalation  int                   `json:"escalation"`
	Tripped     bool                  `json:"tripped,omitempty"`
	At          time.Time             `json:"at"`
}

// Reason returns the first refusal reason, or "".
func (d Decision) Reason() string {
	if len(d.Reasons) == 0 {
		return ""
	}
	return d.Reasons[0]
}

// CoordinateAction decides whether agent may perform action. The checks run
// in order: circuit, registration, role permission, action consent (when
// required), loop guard, escalation ceiling, action log, fatigue budget and
// escalation decay.
func (c *Coordinator) CoordinateAction(ctx context.Context, agentID, action string, ac ActionContext) Decision {
	ctx, span := c.tracer.Start(ctx, "coordinator.CoordinateAction",
		trace.WithAttributes(attribute.String(telemetry.AttrAgentID, agentID)))
	defer span.End()

	d, events := c.decide(agentID, action, ac)

	span.SetAttributes(telemetry.DecisionAttributes(agentID, action, d.Allowed, string(d.Code), d.Escalation)...)
	if d.Tripped {
		span.SetStatus(codes.Error, ReasonEscalationCeiling)
	}
	c.report(ctx, d, events)
	return d
}

// decide uses named results so the deferred bookkeeping sees the final
// decision.
func (c *Coordinator) decide(agentID, action string, ac ActionContext) (d Decision, events []core.Event) {
	now := c.now()
	d = Decision{Agent: agentID, Action: action, Mode: loopguard.ModeNormal, At: now}

	a, ok := c.lookup(agentID)
	if !ok {
		return refuse(d, CodeUnknownAgent, ReasonUnknownAgent), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		d.Escalation = a.escalation
		d.Constraints = loopguard.Policy(d.Mode)
		if d.Allowed {
			a.admitted++
		} else {
			a.refused++
		}
	}()

	if a.breaker.Allow() != nil {
		d = refuse(d, CodeCircuitBroken, ReasonCircuitBroken)
		d.Mode = loopguard.ModeDeescalate
		return d, nil
	}

	if !a.roles.Allows(action) {
		return refuse(d, CodeNotPermitted, fmt.Sprintf("action %q not permitted by active roles", action)), nil
	}

	if c.cfg.RequireActionConsent && (c.consent == nil || !c.consent.Check(agentID, consent.KindAction, ac.ConsentID)) {
		return refuse(d, CodeConsentRequired, ReasonConsentRequired), nil
	}

	text := ac.Text
	if text == "" && len(ac.Tags) == 0 {
		text = action
	}
	obs := a.guard.Observe(text, ac.Tags, now)
	d.Risk, d.Mode = obs.Risk, obs.Mode
	if obs.Mode == loopguard.ModeDeescalate {
		a.escalation = min(MaxEscalation, a.escalation+escalationStep)
		if err := c.fatigue.StartRest(agentID); err != nil {
			c.logger.Warn("coordinator.fatigue.rest", "agent", agentID, "error", err)
		}
		d = refuse(d, CodeLoopDetected, "loop detected: "+obs.Reason)
		events = append(events, core.NewEvent(core.EventDeEscalation, agentID,
			map[string]any{"escalation": a.escalation, "risk": obs.Risk}))
		if a.escalation >= c.cfg.EscalationCeiling {
			d.Reasons = append(d.Reasons, ReasonEscalationCeiling)
			events = append(events, c.tripLocked(a, obs.Reason)...)
			d.Tripped = true
		}
		return d, events
	}

	if a.escalation >= c.cfg.EscalationCeiling {
		d = refuse(d, CodeEscalationCeiling, ReasonEscalationCeiling)
		d.Tripped = true
		return d, c.tripLocked(a, ReasonEscalationCeiling)
	}

	c.appendLog(ActionRecord{Agent: agentID, Action: action, Tags: append([]string(nil), ac.Tags...), At: now})
	a.recent.Push(action)

	res, err := c.fatigue.Consume(agentID)
	if err != nil {
		return refuse(d, CodeFatigue, err.Error()), events
	}
	if !res.Allowed {
		return refuse(d, CodeFatigue, "fatigue: "+res.Reason), events
	}

	if a.escalation > 0 && !allIdentical(a.recent.Items()) {
		a.escalation--
	}
	d.Allowed = true
	return d, events
}

// tripLocked opens the circuit and releases every role. a.mu must be held.
func (c *Coordinator) tripLocked(a *agent, reason string) []core.Event {
	if !a.breaker.Trip(reason) {
		return nil
	}
	released := a.roles.ReleaseAll()
	return []core.Event{core.NewEvent(core.EventCircuitTripped, a.id, map[string]any{
		"escalation": a.escalation,
		"reason":     reason,
		"released":   released,
	})}
}

func (c *Coordinator) appendLog(r ActionRecord) {
	c.logMu.Lock()
	c.log.Push(r)
	c.logMu.Unlock()
}

// report runs with no coordinator lock held.
func (c *Coordinator) report(ctx context.Context, d Decision, events []core.Event) {
	if d.Allowed {
		c.logger.DebugContext(ctx, "coordinator.action.admitted", "agent", d.Agent, "action", d.Action, "escalation", d.Escalation)
		c.metrics.ActionAdmitted(ctx, d.Agent)
		c.emitter.Emit(ctx, core.NewEvent(core.EventActionAdmitted, d.Agent, map[string]any{"action": d.Action}))
	} else {
		c.logger.InfoContext(ctx, "coordinator.action.refused",
			"agent", d.Agent, "action", d.Action, "code", d.Code, "reasons", d.Reasons, "escalation", d.Escalation)
		c.metrics.ActionRefused(ctx, d.Agent, string(d.Code))
		c.emitter.Emit(ctx, core.NewEvent(core.EventActionRefused, d.Agent, map[string]any{
			"action": d.Action, "code": string(d.Code), "reasons": d.Reasons,
		}))
	}
	for _, ev := range events {
		if ev.Type == core.EventCircuitTripped {
			c.logger.WarnContext(ctx, "coordinator.circuit.tripped", "agent", d.Agent, "escalation", d.Escalation)
			c.metrics.CircuitState(ctx, d.Agent, true)
		}
		c.emitter.Emit(ctx, ev)
	}
	if d.Code != CodeUnknownAgent {
		c.metrics.Escalation(ctx, d.Agent, d.Escalation)
		c.metrics.LoopRisk(ctx, d.Agent, string(d.Mode), d.Risk)
		if st, err := c.fatigue.State(d.Agent); err == nil {
			c.metrics.FatigueResource(ctx, d.Agent, st.Resource)
		}
	}
	if c.sink != nil {
		if err := c.sink.Record(ctx, d); err != nil {
			c.logger.WarnContext(ctx, "coordinator.sink.failed", "agent", d.Agent, "error", err)
		}
	}
}

func refuse(d Decision, code Code, reason string) Decision {
	d.Allowed = false
	d.Code = code
	d.Reasons = append(d.Reasons, reason)
	return d
}

func allIdentical(actions []string) bool {
	for i := 1; i < len(actions); i++ {
		if actions[i] != actions[0] {
			return false
		}
	}
	return true
}

// stateOf maps the breaker to the agent lifecycle state.
func stateOf(b *resilience.CircuitBreaker) AgentState {
	if b.State() == resilience.StateOpen {
		return StateCircuitBroken
	}
	return StateActive
}
