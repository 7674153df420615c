// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package fatigue

import (
	"sort"
	"sync"
)

// Suggestion is an advisory rotation hint. Stress never refuses an action.
type Suggestion int

const (
	SuggestNone Suggestion = iota
	SuggestMild
	SuggestStrong
)

func (s Suggestion) String() string {
	switch s {
	case SuggestMild:
		return "mild"
	case SuggestStrong:
		return "strong"
	default:
		return "none"
	}
}

// Stress thresholds for rotation suggestions.
const (
	MildThreshold   = 0.51
	StrongThreshold = 0.72
)

// StressCoefficients control accumulation and decay per unit of dt.
type StressCoefficients struct {
	Utilization float64 // k1
	Global      float64 // k2
	Decay       float64 // k3
}

// DefaultStressCoefficients returns k1=0.02, k2=0.008, k3=0.04.
func DefaultStressCoefficients() StressCoefficients {
	return StressCoefficients{Utilization: 0.02, Global: 0.008, Decay: 0.04}
}

// Stress tracks a continuous per-role stress value in [0,1]. It is safe for
// concurrent use.
type Stress struct {
	mu    sync.Mutex
	k     StressCoefficients
	roles []string
	sigma map[string]float64
}

// NewStress creates a model over the given role names. Roles seen later in
// Tick are tracked too.
func NewStress(roles []string, k StressCoefficients) *Stress {
	s := &Stress{k: k, sigma: make(map[string]float64, len(roles))}
	for _, r := range roles {
		s.track(r)
	}
	return s
}

func (s *Stress) track(role string) {
	if _, ok := s.sigma[role]; ok {
		return
	}
	s.sigma[role] = 0
	s.roles = append(s.roles, role)
}

// Tick advances every tracked role by dt. Active roles accumulate
// dt*(k1*utilization + k2*max(0, globalStress)); inactive roles decay by dt*k3.
func (s *Stress) Tick(dt float64, active []string, utilization map[string]float64, globalStress float64) {
	if dt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	activeSet := make(map[string]struct{}, len(active))
	for _, r := range active {
		activeSet[r] = struct{}{}
		s.track(r)
	}
	g := globalStress
	if g < 0 {
		g = 0
	}
	for _, r := range s.roles {
		v := s.sigma[r]
		if _, on := activeSet[r]; on {
			v += dt * (s.k.Utilization*utilization[r] + s.k.Global*g)
		} else {
			v -= dt * s.k.Decay
		}
		s.sigma[r] = clamp01(v)
	}
}

// Value returns the stress of role.
func (s *Stress) Value(role string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sigma[role]
}

// Values returns a copy of every tracked stress value.
func (s *Stress) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.sigma))
	for k, v := range s.sigma {
		out[k] = v
	}
	return out
}

// Suggestions returns rotation hints for active roles above the thresholds.
func (s *Stress) Suggestions(active []string) map[string]Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Suggestion)
	for _, r := range active {
		switch v := s.sigma[r]; {
		case v >= StrongThreshold:
			out[r] = SuggestStrong
		case v >= MildThreshold:
			out[r] = SuggestMild
		}
	}
	return out
}

// Roles returns the tracked role names, sorted.
func (s *Stress) Roles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.roles...)
	sort.Strings(out)
	return out
}

// Clear zeroes every stress value.
func (s *Stress) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.sigma {
		s.sigma[k] = 0
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
