// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package roles defines bounded role specifications, the immutable registry
// that holds them, and the capacity ledger that gates their activation.
package roles

import (
	"sort"
)

// Spec describes a bounded role. Specs are immutable: construct them with
// NewSpec and read them through accessors, which return copies.
type Spec struct {
	name            string
	description     string
	allowed         map[string]struct{}
	cost            float64
	exclusive       map[string]struct{}
	requiresConsent bool
	minResource     float64
	recoveryRate    float64
}

// SpecConfig is the mutable input used to build a Spec.
type SpecConfig struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	AllowedActions  []string `yaml:"allowed_actions"`
	Cost            float64  `yaml:"cost"`
	ExclusiveWith   []string `yaml:"exclusive_with"`
	RequiresConsent bool     `yaml:"requires_consent"`
	// MinResource is the resource floor in [0,1]; zero defers to the ledger default.
	MinResource  float64 `yaml:"min_resource"`
	RecoveryRate float64 `yaml:"recovery_rate"`
}

// NewSpec freezes cfg into an immutable Spec.
func NewSpec(cfg SpecConfig) Spec {
	return Spec{
		name:            cfg.Name,
		description:     cfg.Description,
		allowed:         toSet(cfg.AllowedActions),
		cost:            cfg.Cost,
		exclusive:       toSet(cfg.ExclusiveWith),
		requiresConsent: cfg.RequiresConsent,
		minResource:     cfg.MinResource,
		recoveryRate:    cfg.RecoveryRate,
	}
}

func (s Spec) Name() string          { return s.name }
func (s Spec) Description() string   { return s.description }
func (s Spec) Cost() float64         { return s.cost }
func (s Spec) RequiresConsent() bool { return s.requiresConsent }
func (s Spec) MinResource() float64  { return s.minResource }
func (s Spec) RecoveryRate() float64 { return s.recoveryRate }

// AllowedActions returns the sorted allowed-action set.
func (s Spec) AllowedActions() []string { return sortedKeys(s.allowed) }

// ExclusiveWith returns the sorted names of roles this one excludes.
func (s Spec) ExclusiveWith() []string { return sortedKeys(s.exclusive) }

// Allows reports whether the role permits action. A "*" entry permits all.
func (s Spec) Allows(action string) bool {
	if _, ok := s.allowed["*"]; ok {
		return true
	}
	_, ok := s.allowed[action]
	return ok
}

// Excludes reports whether this role lists other as mutually exclusive.
func (s Spec) Excludes(other string) bool {
	_, ok := s.exclusive[other]
	return ok
}

// Config returns a mutable copy of the spec's fields.
func (s Spec) Config() SpecConfig {
	return SpecConfig{
		Name:            s.name,
		Description:     s.description,
		AllowedActions:  s.AllowedActions(),
		Cost:            s.cost,
		ExclusiveWith:   s.ExclusiveWith(),
		RequiresConsent: s.requiresConsent,
		MinResource:     s.minResource,
		RecoveryRate:    s.recoveryRate,
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		out[it] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
