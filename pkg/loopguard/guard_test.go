// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package loopguard

import (
	"math"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGuardRepeatedInputTriggersCooldown(t *testing.T) {
	g := New()
	var obs Observation
	for i := 0; i < 4; i++ {
		obs = g.Observe("stop it!!!", nil, t0.Add(time.Duration(i)*time.Second))
		if i < 3 && obs.Mode != ModeNormal {
			t.Fatalf("observation %d already de-escalating: %+v", i+1, obs)
		}
	}
	if obs.Risk < TriggerRisk {
		t.Fatalf("risk = %.3f, want >= %.2f", obs.Risk, TriggerRisk)
	}
	if obs.Mode != ModeDeescalate {
		t.Fatalf("mode = %s, want deescalate", obs.Mode)
	}
	if !strings.HasPrefix(obs.Reason, "repeats=4 ") {
		t.Fatalf("reason = %q", obs.Reason)
	}

	later := g.Observe("thanks, all good", nil, t0.Add(13*time.Second))
	if later.Mode != ModeDeescalate {
		t.Fatalf("cooldown not sticky: %+v", later)
	}
	if later.Risk < CooldownFloor {
		t.Fatalf("risk during cooldown = %.3f, want >= %.2f", later.Risk, CooldownFloor)
	}
	if later.Reason != obs.Reason {
		t.Fatalf("reason during cooldown = %q, want %q", later.Reason, obs.Reason)
	}
	if Policy(later.Mode).AnchoringAllowed {
		t.Fatalf("anchoring must be forbidden during de-escalation")
	}

	after := g.Observe("thanks, all good", nil, t0.Add(3*time.Second+DefaultCooldown+time.Second))
	if after.Mode != ModeNormal {
		t.Fatalf("cooldown did not expire: %+v", after)
	}
}

func TestGuardWindowExpiresRepeats(t *testing.T) {
	g := New(WithWindow(30 * time.Second))
	g.Observe("same words", nil, t0)
	g.Observe("same words", nil, t0.Add(15*time.Second))
	obs := g.Observe("same words", nil, t0.Add(45*time.Second))
	if obs.Repeats != 2 {
		t.Fatalf("repeats = %d, want 2 after the first event left the window", obs.Repeats)
	}
	if obs.Rapid != 0.5 {
		t.Fatalf("rapid = %v, want 0.5 for a 30s gap", obs.Rapid)
	}
}

func TestGuardMaxEvents(t *testing.T) {
	g := New(WithMaxEvents(4))
	for i := 0; i < 10; i++ {
		g.Observe("x", nil, t0.Add(time.Duration(i)*time.Millisecond))
	}
	if g.Len() != 4 {
		t.Fatalf("len = %d, want 4", g.Len())
	}
}

func TestGuardStrikeRule(t *testing.T) {
	g := New(WithMaxRepeats(2))
	g.Observe("hello there", nil, t0)
	obs := g.Observe("hello there", nil, t0.Add(50*time.Second))
	if obs.Risk >= TriggerRisk {
		t.Fatalf("risk %.3f should stay under the trigger", obs.Risk)
	}
	if obs.Mode != ModeDeescalate {
		t.Fatalf("strike rule should start cooldown: %+v", obs)
	}
	if !g.CoolingDown(t0.Add(60 * time.Second)) {
		t.Fatalf("expected active cooldown")
	}
}

func TestGuardReset(t *testing.T) {
	g := New(WithMaxRepeats(1))
	if obs := g.Observe("a", nil, t0); obs.Mode != ModeDeescalate {
		t.Fatalf("expected cooldown, got %+v", obs)
	}
	g.Reset()
	if g.CoolingDown(t0.Add(time.Second)) || g.Len() != 0 {
		t.Fatalf("reset should clear cooldown and window")
	}
	if g.Mode(t0.Add(time.Second)) != ModeNormal {
		t.Fatalf("mode after reset should be normal")
	}
}

func TestGuardRiskBounds(t *testing.T) {
	g := New()
	inputs := []string{"", "!!!!!!!!!!!!", strings.Repeat("A", 900), "hi", "WHY??", "ok"}
	for i := 0; i < 120; i++ {
		obs := g.Observe(inputs[i%len(inputs)], nil, t0.Add(time.Duration(i)*time.Second))
		if obs.Risk < 0 || obs.Risk > 1 || math.IsNaN(obs.Risk) {
			t.Fatalf("risk out of bounds: %v", obs.Risk)
		}
	}
}

func TestFingerprint(t *testing.T) {
	cases := []struct {
		name string
		tags []string
		text string
		want string
	}{
		{"tags sorted", []string{"wave", "calm"}, "ignored", "S:calm,wave"},
		{"tags deduped", []string{"b", "a", "b"}, "", "S:a,b"},
		{"first six words", nil, "One two, THREE four five six seven", "W:one two three four five six"},
		{"apostrophes kept", nil, "Don't go", "W:don't go"},
		{"empty", nil, "", "W:"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Fingerprint(c.tags, c.text); got != c.want {
				t.Fatalf("Fingerprint = %q, want %q", got, c.want)
			}
		})
	}
}

func TestIntensity(t *testing.T) {
	cases := []struct {
		text     string
		min, max float64
	}{
		{"", 0, 0},
		{"!!!", 0, 0},
		{"hello", 0.001, 0.01},
		{"HELLO", 0.55, 0.56},
		{"HELLO!!!!!!", 0.85, 0.86},
	}
	for _, c := range cases {
		got := Intensity(c.text)
		if got < c.min || got > c.max {
			t.Errorf("Intensity(%q) = %v, want in [%v,%v]", c.text, got, c.min, c.max)
		}
	}
}

func TestPolicy(t *testing.T) {
	d := Policy(ModeDeescalate)
	if d.MaxOutputSize != 550 || !d.ForcedMinimalGesture || d.Gesture != GestureHoldStill || d.AnchoringAllowed || d.Tone != "grounding" {
		t.Fatalf("deescalate policy = %+v", d)
	}
	n := Policy(ModeNormal)
	if n.MaxOutputSize != 1400 || n.ForcedMinimalGesture || n.Gesture != "" || !n.AnchoringAllowed || n.Tone != "neutral" {
		t.Fatalf("normal policy = %+v", n)
	}
	if Policy("bogus") != n {
		t.Fatalf("unknown mode should map to normal")
	}
}
