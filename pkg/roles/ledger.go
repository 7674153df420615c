// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package roles

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	kerrors "github.com/jllopis/cgcs/pkg/errors"
)

// Refusal reasons returned by Activate.
const (
	ReasonConsentRequired  = "consent required"
	ReasonCapacityExceeded = "capacity exceeded"
	ReasonLowResource      = "low resource"
)

// loadEpsilon absorbs float rounding when summing costs against the ceiling.
const loadEpsilon = 1e-9

// DefaultMaxLoad and DefaultMinResource match the reference robot profile.
const (
	DefaultMaxLoad     = 1.0
	DefaultMinResource = 0.4
)

// Ledger is the capacity coordinator: it tracks the active role set and the
// load they consume, and admits new roles atomically. One Ledger may serve a
// single agent or a whole fleet sharing a capacity pool.
type Ledger struct {
	registry    *Registry
	maxLoad     float64
	minResource float64
	logger      *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	load   float64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMinResource sets the default resource floor for roles that declare none.
func WithMinResource(v float64) LedgerOption {
	return func(l *Ledger) { l.minResource = v }
}

// WithLedgerLogger sets the ledger logger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger over registry. A non-positive maxLoad
// falls back to DefaultMaxLoad.
func NewLedger(registry *Registry, maxLoad float64, opts ...LedgerOption) *Ledger {
	if maxLoad <= 0 {
		maxLoad = DefaultMaxLoad
	}
	l := &Ledger{
		registry:    registry,
		maxLoad:     maxLoad,
		minResource: DefaultMinResource,
		logger:      slog.Default(),
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Activate tries to add role to the active set. Every failing check is
// collected before deciding; on failure nothing changes. resourceLevel is the
// caller's remaining resource as a fraction in [0,1].
func (l *Ledger) Activate(role string, consentGiven bool, resourceLevel float64) (bool, []string) {
	spec, ok := l.registry.Lookup(role)
	if !ok {
		return false, []string{fmt.Sprintf("unknown role %s", role)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, already := l.active[role]; already {
		return true, nil
	}

	var reasons []string
	if spec.RequiresConsent() && !consentGiven {
		reasons = append(reasons, ReasonConsentRequired)
	}
	if l.load+spec.Cost() > l.maxLoad+loadEpsilon {
		reasons = append(reasons, ReasonCapacityExceeded)
	}
	for _, other := range l.activeNamesLocked() {
		if l.registry.Excluded(role, other) {
			reasons = append(reasons, "exclusive with "+other)
		}
	}
	floor := spec.MinResource()
	if floor == 0 {
		floor = l.minResource
	}
	if resourceLevel < floor {
		reasons = append(reasons, ReasonLowResource)
	}
	if len(reasons) > 0 {
		l.logger.Debug("roles.activate.refused",
			slog.String("role", role),
			slog.Any("reasons", reasons),
			slog.Float64("load", l.load),
		)
		return false, reasons
	}

	l.active[role] = struct{}{}
	l.load += spec.Cost()
	l.logger.Debug("roles.activate",
		slog.String("role", role),
		slog.Float64("load", l.load),
	)
	return true, nil
}

// Release removes role from the active set. Releasing an inactive role is a
// no-op; an unknown role is a caller fault.
func (l *Ledger) Release(role string) error {
	spec, ok := l.registry.Lookup(role)
	if !ok {
		return kerrors.UnknownRole(role)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, active := l.active[role]; !active {
		return nil
	}
	delete(l.active, role)
	l.load -= spec.Cost()
	l.restoreLoadLocked()
	return nil
}

// ReleaseAll clears the active set and returns the released role names.
func (l *Ledger) ReleaseAll() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	released := l.activeNamesLocked()
	l.active = make(map[string]struct{})
	l.load = 0
	return released
}

// restoreLoadLocked keeps the load non-negative and logs if rounding or a
// bug ever pushed it below zero.
func (l *Ledger) restoreLoadLocked() {
	if l.load < -loadEpsilon {
		l.logger.Error("roles.load.invariant",
			slog.String("code", string(kerrors.CodeInvariant)),
			slog.Float64("load", l.load),
		)
	}
	if len(l.active) == 0 || l.load < 0 {
		l.load = 0
	}
}

// AllowedActions returns the sorted union of the active roles' actions, or
// the single fallback action when nothing is active. It is never empty.
func (l *Ledger) AllowedActions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.active) == 0 {
		return []string{FallbackAction}
	}
	set := make(map[string]struct{})
	for name := range l.active {
		spec, _ := l.registry.Lookup(name)
		for _, a := range spec.AllowedActions() {
			set[a] = struct{}{}
		}
	}
	if len(set) == 0 {
		return []string{FallbackAction}
	}
	return sortedKeys(set)
}

// Allows reports whether action is in AllowedActions.
func (l *Ledger) Allows(action string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.active) == 0 {
		return action == FallbackAction
	}
	permitted := false
	for name := range l.active {
		spec, _ := l.registry.Lookup(name)
		if len(spec.AllowedActions()) > 0 {
			permitted = true
		}
		if spec.Allows(action) {
			return true
		}
	}
	return !permitted && action == FallbackAction
}

// Active returns the sorted active role names.
func (l *Ledger) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeNamesLocked()
}

// IsActive reports whether role is active.
func (l *Ledger) IsActive(role string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[role]
	return ok
}

// Load returns the current load.
func (l *Ledger) Load() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load
}

// MaxLoad returns the load ceiling.
func (l *Ledger) MaxLoad() float64 { return l.maxLoad }

// Registry returns the registry backing this ledger.
func (l *Ledger) Registry() *Registry { return l.registry }

func (l *Ledger) activeNamesLocked() []string {
	out := make([]string, 0, len(l.active))
	for name := range l.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
