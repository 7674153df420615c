// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator is the admission authority of the kernel. Every agent
// action passes CoordinateAction, which consults role permissions, consent,
// the loop guard, the escalation ceiling and the fatigue budget in a fixed
// order and refuses by default.
//
// Agents move UNREGISTERED -> ACTIVE <-> CIRCUIT_BROKEN. Only ResetCircuit
// leaves CIRCUIT_BROKEN.
package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/core"
	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/fatigue"
	"github.com/jllopis/cgcs/pkg/loopguard"
	"github.com/jllopis/cgcs/pkg/resilience"
	"github.com/jllopis/cgcs/pkg/roles"
	"github.com/jllopis/cgcs/pkg/telemetry"
)

// Defaults.
const (
	DefaultEscalationCeiling = 5
	MaxEscalation            = 10
	DefaultHistorySize       = 64
	DefaultRepeatWindow      = 3

	escalationStep = 2
)

// ConsentChecker answers consent questions. *consent.Ledger satisfies it.
type ConsentChecker interface {
	Check(requester string, kind consent.Kind, id string) bool
}

// AdmissionSink receives every decision after the coordinator has released
// its locks. Sinks must not call back into the coordinator.
type AdmissionSink interface {
	Record(ctx context.Context, d Decision) error
}

// Config holds coordinator limits. Zero values fall back to the defaults.
type Config struct {
	// MaxLoad is the per-agent role load ceiling.
	MaxLoad float64
	// MinResource is the default resource floor for role activation.
	MinResource float64
	// EscalationCeiling trips the circuit when reached.
	EscalationCeiling int
	// HistorySize bounds the global action log.
	HistorySize int
	// RepeatWindow is how many recent actions must be identical to withhold
	// escalation decay.
	RepeatWindow int
	// RequireActionConsent gates every action on action-kind consent.
	RequireActionConsent bool
	// Guard configures each agent's loop guard.
	Guard []loopguard.Option
	// Stress sets the stress coefficients of each agent.
	Stress fatigue.StressCoefficients
}

func (c Config) withDefaults() Config {
	if c.MaxLoad <= 0 {
		c.MaxLoad = roles.DefaultMaxLoad
	}
	if c.MinResource <= 0 {
		c.MinResource = roles.DefaultMinResource
	}
	if c.EscalationCeiling <= 0 {
		c.EscalationCeiling = DefaultEscalationCeiling
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.RepeatWindow <= 0 {
		c.RepeatWindow = DefaultRepeatWindow
	}
	if c.Stress == (fatigue.StressCoefficients{}) {
		c.Stress = fatigue.DefaultStressCoefficients()
	}
	return c
}

// ActionRecord is one entry of the global action log.
type ActionRecord struct {
	Agent  string    `json:"agent"`
	Action string    `json:"action"`
	Tags   []string  `json:"tags,omitempty"`
	At     time.Time `json:"at"`
}

type agent struct {
	mu           sync.Mutex
	id           string
	roles        *roles.Ledger
	stress       *fatigue.Stress
	guard        *loopguard.Guard
	breaker      *resilience.CircuitBreaker
	escalation   int
	recent       *core.Ring[string]
	registeredAt time.Time
	admitted     int
	refused      int
}

// Coordinator owns the agent records.
type Coordinator struct {
	cfg      Config
	registry *roles.Registry
	fatigue  *fatigue.Engine
	consent  ConsentChecker
	sink     AdmissionSink
	metrics  *telemetry.KernelMetrics
	emitter  core.EventEmitter
	tracer   trace.Tracer
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	agents map[string]*agent

	logMu sync.Mutex
	log   *core.Ring[ActionRecord]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRegistry sets the role registry. The canonical catalog is used
// otherwise.
func WithRegistry(r *roles.Registry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithFatigue sets the fatigue engine shared by all agents.
func WithFatigue(e *fatigue.Engine) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.fatigue = e
		}
	}
}

// WithConsent wires the consent checker used by the action consent gate.
func WithConsent(cc ConsentChecker) Option {
	return func(c *Coordinator) { c.consent = cc }
}

// WithSink sets the admission sink.
func WithSink(s AdmissionSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.KernelMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithEmitter sets the event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithClock overrides the time source for the coordinator, the agents' loop
// guards and the default fatigue engine.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg.withDefaults(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("cgcs/coordinator"),
		now:     time.Now,
		logger:  slog.Default(),
		agents:  make(map[string]*agent),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = roles.CanonicalRegistry()
	}
	if c.fatigue == nil {
		c.fatigue = fatigue.NewEngine(fatigue.DefaultConfig(),
			fatigue.WithClock(c.now), fatigue.WithLogger(c.logger))
	}
	c.log = core.NewRing[ActionRecord](c.cfg.HistorySize)
	return c
}

// Registry returns the role registry.
func (c *Coordinator) Registry() *roles.Registry { return c.registry }

// Fatigue returns the fatigue engine.
func (c *Coordinator) Fatigue() *fatigue.Engine { return c.fatigue }

// RegisterAgent creates an ACTIVE agent record.
func (c *Coordinator) RegisterAgent(ctx context.Context, id string) error {
	if id == "" {
		return errors.New(errors.CodeInvalidInput, "agent id is required", nil)
	}
	c.mu.Lock()
	if _, ok := c.agents[id]; ok {
		c.mu.Unlock()
		return errors.New(errors.CodeAlreadyExists, "agent already registered", nil).
			WithContext("agent", id)
	}
	a := &agent{
		id:           id,
		roles:        roles.NewLedger(c.registry, c.cfg.MaxLoad, roles.WithMinResource(c.cfg.MinResource), roles.WithLedgerLogger(c.logger)),
		stress:       fatigue.NewStress(c.registry.Names(), c.cfg.Stress),
		guard:        loopguard.New(append([]loopguard.Option{loopguard.WithClock(c.now), loopguard.WithLogger(c.logger)}, c.cfg.Guard...)...),
		recent:       core.NewRing[string](c.cfg.RepeatWindow),
		registeredAt: c.now(),
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.Config{
		Name: id,
		Now:  c.now,
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Info("coordinator.circuit.state", "agent", name, "from", from, "to", to)
		},
	})
	c.agents[id] = a
	c.mu.Unlock()

	c.fatigue.Register(id)
	c.logger.InfoContext(ctx, "coordinator.agent.registered", "agent", id)
	c.emitter.Emit(ctx, core.NewEvent(core.EventAgentRegistered, id, nil))
	c.metrics.CircuitState(ctx, id, false)
	c.metrics.Escalation(ctx, id, 0)
	return nil
}

// UnregisterAgent drops the agent and its roles, fatigue budget and history.
func (c *Coordinator) UnregisterAgent(ctx context.Context, id string) error {
	c.mu.Lock()
	a, ok := c.agents[id]
	if ok {
		delete(c.agents, id)
	}
	c.mu.Unlock()
	if !ok {
		return errors.UnknownAgent(id)
	}
	a.mu.Lock()
	a.roles.ReleaseAll()
	a.mu.Unlock()
	c.fatigue.Unregister(id)
	c.ClearHistory(id)
	c.logger.InfoContext(ctx, "coordinator.agent.unregistered", "agent", id)
	c.emitter.Emit(ctx, core.NewEvent(core.EventAgentUnregistered, id, nil))
	return nil
}

// Agents returns the registered agent ids, sorted.
func (c *Coordinator) Agents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.agents))
	for id := range c.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) lookup(id string) (*agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

// ActivateRole admits role for agent through its capacity ledger.
// resource is the agent's remaining resource as a fraction in [0,1]. A
// circuit-broken agent cannot take roles.
func (c *Coordinator) ActivateRole(ctx context.Context, agentID, role string, consentGiven bool, resource float64) (bool, []string, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return false, nil, errors.UnknownAgent(agentID)
	}
	a.mu.Lock()
	if a.breaker.State() == resilience.StateOpen {
		a.mu.Unlock()
		return false, []string{ReasonCircuitBroken}, nil
	}
	okAct, reasons := a.roles.Activate(role, consentGiven, resource)
	load := a.roles.Load()
	a.mu.Unlock()

	if !okAct {
		c.logger.InfoContext(ctx, "coordinator.role.refused", "agent", agentID, "role", role, "reasons", reasons)
		return false, reasons, nil
	}
	c.logger.InfoContext(ctx, "coordinator.role.activated", "agent", agentID, "role", role, "load", load)
	c.emitter.Emit(ctx, core.NewEvent(core.EventRoleActivated, agentID, map[string]any{"role": role, "load": load}))
	c.metrics.RoleLoad(ctx, agentID, load)
	return true, nil, nil
}

// ReleaseRole removes role from agent's active set.
func (c *Coordinator) ReleaseRole(ctx context.Context, agentID, role string) error {
	a, ok := c.lookup(agentID)
	if !ok {
		return errors.UnknownAgent(agentID)
	}
	a.mu.Lock()
	err := a.roles.Release(role)
	load := a.roles.Load()
	a.mu.Unlock()
	if err != nil {
		return err
	}
	c.emitter.Emit(ctx, core.NewEvent(core.EventRoleReleased, agentID, map[string]any{"role": role}))
	c.metrics.RoleLoad(ctx, agentID, load)
	return nil
}

// AllowedActions returns the actions agent's active roles permit.
func (c *Coordinator) AllowedActions(agentID string) ([]string, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return nil, errors.UnknownAgent(agentID)
	}
	return a.roles.AllowedActions(), nil
}

// ActiveRoles returns agent's active role names.
func (c *Coordinator) ActiveRoles(agentID string) ([]string, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return nil, errors.UnknownAgent(agentID)
	}
	return a.roles.Active(), nil
}

// Mode returns the loop guard mode currently in force for agent.
func (c *Coordinator) Mode(agentID string) (loopguard.Mode, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return "", errors.UnknownAgent(agentID)
	}
	return a.guard.Mode(c.now()), nil
}

// Observe feeds input to agent's loop guard without deciding an action.
// It never changes escalation.
func (c *Coordinator) Observe(ctx context.Context, agentID, text string, tags []string) (loopguard.Observation, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return loopguard.Observation{}, errors.UnknownAgent(agentID)
	}
	obs := a.guard.Observe(text, tags, c.now())
	c.metrics.LoopRisk(ctx, agentID, string(obs.Mode), obs.Risk)
	return obs, nil
}

// ResetCircuit closes a broken circuit, zeroes escalation and clears the
// loop guard. It reports false when the circuit was not broken.
func (c *Coordinator) ResetCircuit(ctx context.Context, agentID string) (bool, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return false, errors.UnknownAgent(agentID)
	}
	a.mu.Lock()
	if a.breaker.State() == resilience.StateClosed {
		a.mu.Unlock()
		return false, nil
	}
	a.breaker.Reset()
	a.escalation = 0
	a.guard.Reset()
	a.recent.Clear()
	a.mu.Unlock()

	c.logger.InfoContext(ctx, "coordinator.circuit.reset", "agent", agentID)
	c.emitter.Emit(ctx, core.NewEvent(core.EventCircuitReset, agentID, nil))
	c.metrics.CircuitState(ctx, agentID, false)
	c.metrics.Escalation(ctx, agentID, 0)
	return true, nil
}

// Escalation returns agent's escalation level.
func (c *Coordinator) Escalation(agentID string) (int, error) {
	a, ok := c.lookup(agentID)
	if !ok {
		return 0, errors.UnknownAgent(agentID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.escalation, nil
}

// CircuitBroken reports whether agent is circuit-broken. Unknown agents are
// not.
func (c *Coordinator) CircuitBroken(agentID string) bool {
	a, ok := c.lookup(agentID)
	return ok && a.breaker.State() == resilience.StateOpen
}

// Tick advances every agent's stress model by dt. utilization is keyed by
// role name.
func (c *Coordinator) Tick(dt float64, utilization map[string]float64, globalStress float64) {
	c.mu.RLock()
	agents := make([]*agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.RUnlock()
	for _, a := range agents {
		a.stress.Tick(dt, a.roles.Active(), utilization, globalStress)
	}
}

// RecentActions returns up to n entries of the global action log, oldest
// first.
func (c *Coordinator) RecentActions(n int) []ActionRecord {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	return c.log.Last(n)
}

// ClearHistory removes agent's entries from the action log, or every entry
// when agent is empty. It returns the number removed.
func (c *Coordinator) ClearHistory(agentID string) int {
	if agentID == "" {
		c.mu.RLock()
		for _, a := range c.agents {
			a.mu.Lock()
			a.recent.Clear()
			a.mu.Unlock()
		}
		c.mu.RUnlock()
	} else if a, ok := c.lookup(agentID); ok {
		a.mu.Lock()
		a.recent.Clear()
		a.mu.Unlock()
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if agentID == "" {
		n := c.log.Len()
		c.log.Clear()
		return n
	}
	return c.log.Filter(func(r ActionRecord) bool { return r.Agent != agentID })
}
