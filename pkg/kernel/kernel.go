// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel wires one instance of every coordination component from a
// config.Config. Several kernels can run side by side in one process; none
// of them share state.
package kernel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/cgcs/pkg/audit"
	"github.com/jllopis/cgcs/pkg/config"
	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/coordinator"
	"github.com/jllopis/cgcs/pkg/core"
	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/fatigue"
	"github.com/jllopis/cgcs/pkg/loopguard"
	"github.com/jllopis/cgcs/pkg/memory"
	"github.com/jllopis/cgcs/pkg/roles"
	"github.com/jllopis/cgcs/pkg/telemetry"
)

// Kernel composes the consent ledger, role registry, fatigue engine, dual
// memory store and action coordinator.
type Kernel struct {
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
	meter    metric.Meter
	emitter  core.EventEmitter
	registry *roles.Registry
	consent  *consent.Ledger
	fatigue  *fatigue.Engine
	memory   *memory.DualStore
	coord    *coordinator.Coordinator
	sink     audit.Store
	metrics  *telemetry.KernelMetrics
	health   *core.HealthRegistry

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the base logger. Components log under their own name.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) {
		if now != nil {
			k.now = now
		}
	}
}

// WithMeter sets the meter used for kernel metrics. The global meter
// provider is used otherwise.
func WithMeter(m metric.Meter) Option {
	return func(k *Kernel) { k.meter = m }
}

// WithRegistry overrides the role catalog from the configuration.
func WithRegistry(r *roles.Registry) Option {
	return func(k *Kernel) { k.registry = r }
}

// WithSink overrides the audit store from the configuration.
func WithSink(s audit.Store) Option {
	return func(k *Kernel) { k.sink = s }
}

// WithEmitter receives coordinator lifecycle events.
func WithEmitter(e core.EventEmitter) Option {
	return func(k *Kernel) { k.emitter = e }
}

// New builds a kernel. A nil cfg means config.Default().
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		health: core.NewHealthRegistry(),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.registry == nil {
		reg, err := loadRegistry(cfg.Roles)
		if err != nil {
			return nil, err
		}
		k.registry = reg
	}

	metrics, err := telemetry.NewKernelMetrics(k.meter)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "create kernel metrics", err)
	}
	k.metrics = metrics

	if k.sink == nil {
		sink, err := openSink(ctx, cfg.Audit)
		if err != nil {
			return nil, err
		}
		k.sink = sink
	}

	k.consent = consent.NewLedger(
		consent.WithClock(k.now),
		consent.WithLogger(telemetry.Component(k.logger, "consent")),
	)
	k.fatigue = fatigue.NewEngine(fatigueConfig(cfg.Fatigue),
		fatigue.WithClock(k.now),
		fatigue.WithLogger(telemetry.Component(k.logger, "fatigue")),
	)
	k.memory = memory.NewDualStore(
		memory.WithThreadTurns(cfg.Memory.ThreadTurns),
		memory.WithClock(k.now),
		memory.WithConsent(k.consent),
		memory.WithLogger(telemetry.Component(k.logger, "memory")),
	)

	coordOpts := []coordinator.Option{
		coordinator.WithRegistry(k.registry),
		coordinator.WithFatigue(k.fatigue),
		coordinator.WithConsent(k.consent),
		coordinator.WithSink(k.sink),
		coordinator.WithMetrics(k.metrics),
		coordinator.WithClock(k.now),
		coordinator.WithLogger(telemetry.Component(k.logger, "coordinator")),
	}
	if k.emitter != nil {
		coordOpts = append(coordOpts, coordinator.WithEmitter(k.emitter))
	}
	k.coord = coordinator.New(coordinatorConfig(cfg), coordOpts...)

	k.health.Register("coordinator", core.NewFunctionHealthChecker(k.coordinatorHealth))
	k.health.Register("fatigue", core.NewFunctionHealthChecker(k.fatigueHealth))

	k.logger.InfoContext(ctx, "kernel.ready",
		slog.Int("roles", len(k.registry.Names())),
		slog.String("audit", cfg.Audit.Driver),
	)
	return k, nil
}

func loadRegistry(cfg config.RolesConfig) (*roles.Registry, error) {
	if cfg.Catalog == "" {
		return roles.CanonicalRegistry(), nil
	}
	return roles.LoadCatalog(cfg.Catalog)
}

func openSink(ctx context.Context, cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Driver {
	case config.AuditSQLite:
		return audit.OpenSQLite(ctx, cfg.DSN)
	default:
		return audit.NewMemorySink(cfg.Capacity), nil
	}
}

func fatigueConfig(c config.FatigueConfig) fatigue.Config {
	return fatigue.Config{
		ActionCost:           c.ActionCost,
		MaxActionsBeforeRest: c.MaxActionsBeforeRest,
		MinRest:              c.MinRest,
		ResumeThreshold:      c.ResumeThreshold,
		RecoveryPerMinute:    c.RecoveryPerMinute,
	}
}

func coordinatorConfig(c *config.Config) coordinator.Config {
	guard := []loopguard.Option{
		loopguard.WithWindow(c.LoopGuard.Window),
		loopguard.WithCooldown(c.LoopGuard.Cooldown),
		loopguard.WithMaxEvents(c.LoopGuard.MaxEvents),
	}
	if c.LoopGuard.MaxRepeats > 0 {
		guard = append(guard, loopguard.WithMaxRepeats(c.LoopGuard.MaxRepeats))
	}
	return coordinator.Config{
		MaxLoad:              c.Capacity.MaxLoad,
		MinResource:          c.Capacity.MinResource,
		EscalationCeiling:    c.Coordinator.EscalationCeiling,
		HistorySize:          c.Coordinator.HistorySize,
		RequireActionConsent: c.Coordinator.RequireActionConsent,
		Guard:                guard,
		Stress: fatigue.StressCoefficients{
			Utilization: c.Stress.KUtil,
			Global:      c.Stress.KGlobal,
			Decay:       c.Stress.KDecay,
		},
	}
}

func (k *Kernel) Config() *config.Config                { return k.cfg }
func (k *Kernel) Registry() *roles.Registry             { return k.registry }
func (k *Kernel) Consent() *consent.Ledger              { return k.consent }
func (k *Kernel) Fatigue() *fatigue.Engine              { return k.fatigue }
func (k *Kernel) Memory() *memory.DualStore             { return k.memory }
func (k *Kernel) Coordinator() *coordinator.Coordinator { return k.coord }
func (k *Kernel) Audit() audit.Store                    { return k.sink }

// RegisterAgent adds an agent with a fresh budget and no roles.
func (k *Kernel) RegisterAgent(ctx context.Context, id string) error {
	return k.coord.RegisterAgent(ctx, id)
}

// UnregisterAgent drops the agent and forgets its anchors.
func (k *Kernel) UnregisterAgent(ctx context.Context, id string) error {
	if err := k.coord.UnregisterAgent(ctx, id); err != nil {
		return err
	}
	k.memory.ForgetAll(id)
	return nil
}

// RequestConsent opens a pending record for requester. ttl <= 0 never
// expires.
func (k *Kernel) RequestConsent(id string, kind consent.Kind, requester, description string, ttl time.Duration) (consent.Record, error) {
	var expires time.Time
	if ttl > 0 {
		expires = k.now().Add(ttl)
	}
	return k.consent.Request(id, kind, requester, description, expires)
}

// Grant grants a pending consent record.
func (k *Kernel) Grant(ctx context.Context, id string) bool {
	return k.decide(ctx, id, k.consent.Grant)
}

// Deny denies a consent record.
func (k *Kernel) Deny(ctx context.Context, id string) bool {
	return k.decide(ctx, id, k.consent.Deny)
}

// Revoke withdraws a consent record.
func (k *Kernel) Revoke(ctx context.Context, id string) bool {
	return k.decide(ctx, id, k.consent.Revoke)
}

func (k *Kernel) decide(ctx context.Context, id string, fn func(string) bool) bool {
	ok := fn(id)
	if !ok {
		return false
	}
	if rec, err := k.consent.Get(id); err == nil {
		k.metrics.ConsentDecision(ctx, string(rec.Kind), string(rec.Status))
	}
	return true
}

// ActivateRole activates role for agent. Consent comes from the ledger: the
// record consentID when given, otherwise any live role-assignment grant of
// the agent. A negative resource uses the agent's fatigue budget scaled to
// [0,1].
func (k *Kernel) ActivateRole(ctx context.Context, agentID, role, consentID string, resource float64) (bool, []string, error) {
	if resource < 0 {
		st, err := k.fatigue.State(agentID)
		if err != nil {
			return false, nil, err
		}
		resource = st.Resource / fatigue.MaxResource
	}
	given := k.consent.Check(agentID, consent.KindRoleAssignment, consentID)
	return k.coord.ActivateRole(ctx, agentID, role, given, resource)
}

// ReleaseRole deactivates role for agent.
func (k *Kernel) ReleaseRole(ctx context.Context, agentID, role string) error {
	return k.coord.ReleaseRole(ctx, agentID, role)
}

// CoordinateAction runs the admission pipeline. Text of the action context
// is also recorded in the conversation thread.
func (k *Kernel) CoordinateAction(ctx context.Context, agentID, action string, ac coordinator.ActionContext) coordinator.Decision {
	if ac.Text != "" {
		k.memory.RecordTurn(ac.Text, ac.Tags)
	}
	return k.coord.CoordinateAction(ctx, agentID, action, ac)
}

// Observe records an input turn and feeds it to the agent's loop guard.
func (k *Kernel) Observe(ctx context.Context, agentID, text string, tags []string) (loopguard.Observation, error) {
	obs, err := k.coord.Observe(ctx, agentID, text, tags)
	if err != nil {
		return obs, err
	}
	k.memory.RecordTurn(text, tags)
	return obs, nil
}

// Constraints returns the response policy for the agent's current mode.
func (k *Kernel) Constraints(agentID string) (loopguard.Constraints, error) {
	mode, err := k.coord.Mode(agentID)
	if err != nil {
		return loopguard.Constraints{}, err
	}
	return loopguard.Policy(mode), nil
}

// Anchor stores an opt-in memory receipt owned by agent. It returns nil when
// the agent's loop guard forbids anchoring or no memory-store consent is
// granted.
func (k *Kernel) Anchor(ctx context.Context, agentID string, tags []string, content string) (*memory.Anchor, error) {
	pol, err := k.Constraints(agentID)
	if err != nil {
		return nil, err
	}
	if !pol.AnchoringAllowed {
		k.logger.DebugContext(ctx, "kernel.anchor.refused", "agent", agentID, "reason", "deescalate")
		return nil, nil
	}
	allow := k.consent.Check(agentID, consent.KindMemoryStore, "")
	if !allow {
		k.logger.DebugContext(ctx, "kernel.anchor.refused", "agent", agentID, "reason", "consent")
	}
	return k.memory.AnchorOptIn(agentID, tags, content, allow), nil
}

// Recall returns anchors holding every tag, newest first, when agent holds
// memory-retrieve consent.
func (k *Kernel) Recall(ctx context.Context, agentID string, tags []string) []memory.Anchor {
	if !k.consent.Check(agentID, consent.KindMemoryRetrieve, "") {
		k.logger.DebugContext(ctx, "kernel.recall.refused", "agent", agentID)
		return nil
	}
	return k.memory.Recall(tags)
}

// Forget removes an anchor owned by agent.
func (k *Kernel) Forget(agentID, anchorID string) bool {
	a, ok := k.memory.Get(anchorID)
	if !ok || a.Owner != agentID {
		return false
	}
	return k.memory.Forget(anchorID)
}

// ResetCircuit clears a tripped agent.
func (k *Kernel) ResetCircuit(ctx context.Context, agentID string) (bool, error) {
	return k.coord.ResetCircuit(ctx, agentID)
}

// Tick advances the stress model of every agent.
func (k *Kernel) Tick(dt float64, utilization map[string]float64, globalStress float64) {
	k.coord.Tick(dt, utilization, globalStress)
}

// Status returns a coordinator snapshot and publishes per-agent gauges.
func (k *Kernel) Status(ctx context.Context) coordinator.Status {
	st := k.coord.Status()
	for _, a := range st.Agents {
		k.metrics.FatigueResource(ctx, a.ID, a.Fatigue.Resource)
		k.metrics.RoleLoad(ctx, a.ID, a.Load)
	}
	return st
}

// Close stops the sweeper and closes the audit store.
func (k *Kernel) Close() error {
	k.Stop()
	return k.sink.Close()
}
