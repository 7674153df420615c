// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package fatigue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
)

// Level is a coarse fatigue band derived from the resource value.
type Level string

const (
	LevelFresh      Level = "fresh"
	LevelActive     Level = "active"
	LevelTired      Level = "tired"
	LevelExhausted  Level = "exhausted"
	LevelRecovering Level = "recovering"
)

// Refusal reasons reported by Consume.
const (
	ReasonExhausted     = "exhausted"
	ReasonResting       = "resting"
	ReasonMandatoryRest = "mandatory rest"
)

// MaxResource is the upper bound of an agent's resource.
const MaxResource = 100.0

// Config holds the budget parameters.
type Config struct {
	ActionCost           float64
	MaxActionsBeforeRest int
	MinRest              time.Duration
	ResumeThreshold      float64
	RecoveryPerMinute    float64
}

// DefaultConfig returns cost 5, 20 actions before rest, 5 minutes minimum
// rest, resume at 50 and 10 points of recovery per minute.
func DefaultConfig() Config {
	return Config{
		ActionCost:           5,
		MaxActionsBeforeRest: 20,
		MinRest:              5 * time.Minute,
		ResumeThreshold:      50,
		RecoveryPerMinute:    10,
	}
}

// State is a snapshot of one agent's budget.
type State struct {
	Agent            string    `json:"agent"`
	Level            Level     `json:"level"`
	Resource         float64   `json:"resource"`
	ActionsSinceRest int       `json:"actions_since_rest"`
	TotalActions     int       `json:"total_actions"`
	RestStartedAt    time.Time `json:"rest_started_at,omitempty"`
	LastActionAt     time.Time `json:"last_action_at,omitempty"`
}

// Resting reports whether the agent is in a rest period.
func (s State) Resting() bool { return s.Level == LevelRecovering }

// Result is the outcome of Consume.
type Result struct {
	Allowed     bool
	Reason      string
	Level       Level
	Resource    float64
	RestStarted bool
}

type budget struct {
	resource      float64
	restBase      float64
	level         Level
	actions       int
	total         int
	restStartedAt time.Time
	lastActionAt  time.Time
}

// Engine is the hard-gated per-agent resource budget.
type Engine struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	agents map[string]*budget
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine. Zero fields in cfg fall back to DefaultConfig.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.ActionCost <= 0 {
		cfg.ActionCost = def.ActionCost
	}
	if cfg.MaxActionsBeforeRest <= 0 {
		cfg.MaxActionsBeforeRest = def.MaxActionsBeforeRest
	}
	if cfg.MinRest < 0 {
		cfg.MinRest = def.MinRest
	}
	if cfg.ResumeThreshold <= 0 {
		cfg.ResumeThreshold = def.ResumeThreshold
	}
	if cfg.RecoveryPerMinute <= 0 {
		cfg.RecoveryPerMinute = def.RecoveryPerMinute
	}
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		agents: make(map[string]*budget),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Register adds an agent at full resource. Registering twice is a no-op.
func (e *Engine) Register(agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[agent]; ok {
		return
	}
	e.agents[agent] = &budget{resource: MaxResource, level: LevelFresh}
}

// Unregister drops an agent's budget.
func (e *Engine) Unregister(agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.agents, agent)
}

// Consume spends one action's worth of resource if the agent may act.
func (e *Engine) Consume(agent string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.agents[agent]
	if !ok {
		return Result{}, errors.UnknownAgent(agent)
	}
	now := e.now()
	e.recoverLocked(b, now)

	if b.level == LevelRecovering {
		if !e.resumableLocked(b, now) {
			return e.refuse(b, ReasonResting, false), nil
		}
		b.restStartedAt = time.Time{}
		b.level = levelFor(b.resource)
		e.logger.Debug("fatigue.rest.ended", "agent", agent, "resource", b.resource)
	}
	if b.resource <= 0 {
		e.startRestLocked(agent, b, now)
		return e.refuse(b, ReasonExhausted, true), nil
	}

	b.resource = e.clampLocked(agent, b.resource-e.cfg.ActionCost)
	b.actions++
	b.total++
	b.lastActionAt = now
	b.level = levelFor(b.resource)

	if b.actions >= e.cfg.MaxActionsBeforeRest {
		e.startRestLocked(agent, b, now)
		return e.refuse(b, ReasonMandatoryRest, true), nil
	}
	return Result{Allowed: true, Level: b.level, Resource: b.resource}, nil
}

func (e *Engine) refuse(b *budget, reason string, started bool) Result {
	return Result{Reason: reason, Level: b.level, Resource: b.resource, RestStarted: started}
}

// CanAct reports whether Consume would currently be allowed. Unknown agents
// cannot act.
func (e *Engine) CanAct(agent string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.agents[agent]
	if !ok {
		return false
	}
	now := e.now()
	e.recoverLocked(b, now)
	if b.level == LevelRecovering {
		return e.resumableLocked(b, now) && b.resource > 0
	}
	return b.resource > 0 && b.actions < e.cfg.MaxActionsBeforeRest
}

// StartRest puts the agent into a rest period and resets its action count.
func (e *Engine) StartRest(agent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.agents[agent]
	if !ok {
		return errors.UnknownAgent(agent)
	}
	now := e.now()
	e.recoverLocked(b, now)
	e.startRestLocked(agent, b, now)
	return nil
}

// Reset restores the agent to full resource.
func (e *Engine) Reset(agent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[agent]; !ok {
		return errors.UnknownAgent(agent)
	}
	e.agents[agent] = &budget{resource: MaxResource, level: LevelFresh}
	return nil
}

// State returns a snapshot with recovery applied.
func (e *Engine) State(agent string) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.agents[agent]
	if !ok {
		return State{}, errors.UnknownAgent(agent)
	}
	e.recoverLocked(b, e.now())
	return State{
		Agent:            agent,
		Level:            b.level,
		Resource:         b.resource,
		ActionsSinceRest: b.actions,
		TotalActions:     b.total,
		RestStartedAt:    b.restStartedAt,
		LastActionAt:     b.lastActionAt,
	}, nil
}

// Agents returns the number of registered agents.
func (e *Engine) Agents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.agents)
}

func (e *Engine) startRestLocked(agent string, b *budget, now time.Time) {
	if b.level != LevelRecovering {
		b.restStartedAt = now
		b.restBase = b.resource
	}
	b.level = LevelRecovering
	b.actions = 0
	e.logger.Info("fatigue.rest.started", "agent", agent, "resource", b.resource)
}

// recoverLocked recomputes resource from the rest-start snapshot so repeated
// evaluation never compounds.
func (e *Engine) recoverLocked(b *budget, now time.Time) {
	if b.level != LevelRecovering || b.restStartedAt.IsZero() {
		return
	}
	minutes := now.Sub(b.restStartedAt).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	r := b.restBase + minutes*e.cfg.RecoveryPerMinute
	if r > MaxResource {
		r = MaxResource
	}
	b.resource = r
}

func (e *Engine) resumableLocked(b *budget, now time.Time) bool {
	if b.restStartedAt.IsZero() {
		return true
	}
	return now.Sub(b.restStartedAt) >= e.cfg.MinRest && b.resource >= e.cfg.ResumeThreshold
}

func (e *Engine) clampLocked(agent string, r float64) float64 {
	if r < 0 {
		if r < -e.cfg.ActionCost {
			e.logger.Warn("fatigue.invariant",
				"agent", agent, "code", errors.CodeInvariant, "resource", r)
		}
		return 0
	}
	if r > MaxResource {
		return MaxResource
	}
	return r
}

func levelFor(r float64) Level {
	switch {
	case r <= 0:
		return LevelExhausted
	case r <= 25:
		return LevelTired
	case r <= 60:
		return LevelActive
	default:
		return LevelFresh
	}
}
