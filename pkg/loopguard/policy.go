// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package loopguard

// GestureHoldStill is the minimal gesture forced during de-escalation.
const GestureHoldStill = "hold_still_visible"

// Constraints narrow what a collaborator may do for the current mode.
type Constraints struct {
	MaxOutputSize        int    `json:"max_output_size"`
	ForcedMinimalGesture bool   `json:"forced_minimal_gesture"`
	Gesture              string `json:"gesture,omitempty"`
	AnchoringAllowed     bool   `json:"anchoring_allowed"`
	Tone                 string `json:"tone"`
}

// Policy returns the constraints for mode. Unknown modes get the normal
// policy.
func Policy(mode Mode) Constraints {
	if mode == ModeDeescalate {
		return Constraints{
			MaxOutputSize:        550,
			ForcedMinimalGesture: true,
			Gesture:              GestureHoldStill,
			AnchoringAllowed:     false,
			Tone:                 "grounding",
		}
	}
	return Constraints{
		MaxOutputSize:    1400,
		AnchoringAllowed: true,
		Tone:             "neutral",
	}
}
