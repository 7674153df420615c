// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package roles

// Canonical role names.
const (
	Housekeeping   = "housekeeping"
	Gardening      = "gardening"
	CookingPrep    = "cooking_prep"
	Transport      = "transport"
	Maintenance    = "maintenance"
	SocialPresence = "social_presence"
	Listener       = "listener"
	Guide          = "guide"
	Analyst        = "analyst"
	Rest           = "rest"
)

// FallbackAction is the only capability available when no role is active.
const FallbackAction = "acknowledge"

var canonical = []SpecConfig{
	{
		Name:            Housekeeping,
		Description:     "Household upkeep.",
		AllowedActions:  []string{"sweep", "vacuum", "wipe", "sort", "trash", "increase_distance", "hold_still_visible", "acknowledge"},
		Cost:            0.35,
		ExclusiveWith:   []string{Maintenance, SocialPresence},
		RequiresConsent: true,
		RecoveryRate:    0.2,
	},
	{
		Name:           Gardening,
		Description:    "Outdoor plant care.",
		AllowedActions: []string{"water", "prune", "soil", "tools", "offer_object", "open_hand_noncontact", "hold_still_visible"},
		Cost:           0.25,
		RecoveryRate:   0.25,
	},
	{
		Name:            CookingPrep,
		Description:     "Food preparation without heat.",
		AllowedActions:  []string{"wash", "stir", "mix", "measure", "plate", "offer_object", "open_hand_noncontact", "acknowledge"},
		Cost:            0.40,
		ExclusiveWith:   []string{Transport, SocialPresence},
		RequiresConsent: true,
		RecoveryRate:    0.2,
	},
	{
		Name:            Transport,
		Description:     "Carrying and delivering objects.",
		AllowedActions:  []string{"carry", "deliver", "hold", "offer_object", "increase_distance"},
		Cost:            0.45,
		ExclusiveWith:   []string{CookingPrep, SocialPresence},
		RequiresConsent: true,
		RecoveryRate:    0.15,
	},
	{
		Name:           Maintenance,
		Description:    "Inspection and reporting only.",
		AllowedActions: []string{"inspect", "diagnose", "report", "hold_still_visible"},
		Cost:           0.20,
		ExclusiveWith:  []string{Housekeeping},
		RecoveryRate:   0.3,
	},
	{
		Name:            SocialPresence,
		Description:     "Standing by and acknowledging.",
		AllowedActions:  []string{"stand by", "acknowledge", "hold_still_visible"},
		Cost:            0.15,
		ExclusiveWith:   []string{Housekeeping, CookingPrep, Transport},
		RequiresConsent: true,
		RecoveryRate:    0.4,
	},
	{
		Name:           Listener,
		Description:    "Receive without advice. Constrained output.",
		AllowedActions: []string{"observe", "acknowledge", "reflect"},
		Cost:           0.4,
		RecoveryRate:   0.3,
	},
	{
		Name:           Guide,
		Description:    "Offer options, never commands.",
		AllowedActions: []string{"observe", "acknowledge", "suggest", "explain"},
		Cost:           0.7,
		RecoveryRate:   0.2,
	},
	{
		Name:           Analyst,
		Description:    "Pattern recognition, no interpretation.",
		AllowedActions: []string{"observe", "analyze", "structure", "summarize"},
		Cost:           0.8,
		RecoveryRate:   0.15,
	},
	{
		Name:         Rest,
		Description:  "Full capability withdrawal for recovery.",
		Cost:         0,
		RecoveryRate: 0.5,
	},
}

// CanonicalSpecs returns the built-in role catalog.
func CanonicalSpecs() []Spec {
	out := make([]Spec, 0, len(canonical))
	for _, cfg := range canonical {
		out = append(out, NewSpec(cfg))
	}
	return out
}

// CanonicalRegistry returns a registry holding the built-in catalog.
func CanonicalRegistry() *Registry {
	r, err := NewRegistry(CanonicalSpecs()...)
	if err != nil {
		panic("roles: canonical catalog is invalid: " + err.Error())
	}
	return r
}
