// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package loopguard detects repetitive escalation patterns in an input
// stream and narrows capability while a cooldown is active.
package loopguard

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/cgcs/pkg/core"
)

// Mode is the guard's output mode.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeDeescalate Mode = "deescalate"
)

// Defaults.
const (
	DefaultWindow    = 120 * time.Second
	DefaultCooldown  = 90 * time.Second
	DefaultMaxEvents = 128

	// TriggerRisk starts a cooldown.
	TriggerRisk = 0.75
	// CooldownFloor is the minimum risk reported while cooling down.
	CooldownFloor = 0.6

	rapidHorizon = 60 * time.Second
)

// Observation is the result of one Observe call.
type Observation struct {
	Risk      float64 `json:"risk"`
	Mode      Mode    `json:"mode"`
	Reason    string  `json:"reason,omitempty"`
	Repeats   int     `json:"repeats"`
	Rapid     float64 `json:"rapid"`
	Intensity float64 `json:"intensity"`
}

type event struct {
	at        time.Time
	key       string
	intensity float64
}

// Guard keeps a sliding window of observed inputs. It is safe for concurrent
// use.
type Guard struct {
	window     time.Duration
	cooldown   time.Duration
	maxRepeats int
	now        func() time.Time
	logger     *slog.Logger

	mu            sync.Mutex
	events        *core.Ring[event]
	cooldownUntil time.Time
	lastReason    string
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow sets the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithCooldown sets how long de-escalation lasts once triggered.
func WithCooldown(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithMaxEvents bounds the number of events kept in the window.
func WithMaxEvents(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.events = core.NewRing[event](n)
		}
	}
}

// WithMaxRepeats adds a strike rule: n or more identical inputs inside the
// window trigger a cooldown regardless of risk. Zero disables it.
func WithMaxRepeats(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxRepeats = n
		}
	}
}

// WithClock sets the time source used when Observe is given a zero time.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		window:   DefaultWindow,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   slog.Default(),
		events:   core.NewRing[event](DefaultMaxEvents),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe records text (or its symbol tags) and scores escalation risk.
// A zero now uses the guard's clock.
func (g *Guard) Observe(text string, tags []string, now time.Time) Observation {
	if now.IsZero() {
		now = g.now()
	}
	key := Fingerprint(tags, text)
	inten := Intensity(text)

	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	g.events.Filter(func(e event) bool { return !e.at.Before(cutoff) })
	g.events.Push(event{at: now, key: key, intensity: inten})

	var last, prev time.Time
	repeats := 0
	for _, e := range g.events.Items() {
		if e.key != key {
			continue
		}
		repeats++
		prev, last = last, e.at
	}
	rapid := 0.0
	if repeats >= 2 {
		rapid = max(0, 1-float64(last.Sub(prev))/float64(rapidHorizon))
	}

	repeatScore := clamp01(float64(repeats-1) / 3)
	intensityScore := clamp01(inten / 0.55)
	risk := clamp01(0.45*repeatScore + 0.25*rapid + 0.30*intensityScore)

	obs := Observation{Risk: risk, Mode: ModeNormal, Repeats: repeats, Rapid: rapid, Intensity: inten}

	if now.Before(g.cooldownUntil) {
		obs.Risk = max(risk, CooldownFloor)
		obs.Mode = ModeDeescalate
		obs.Reason = g.lastReason
		return obs
	}

	strike := g.maxRepeats > 0 && repeats >= g.maxRepeats
	if risk >= TriggerRisk || strike {
		g.cooldownUntil = now.Add(g.cooldown)
		g.lastReason = fmt.Sprintf("repeats=%d rapid=%.2f inten=%.2f", repeats, rapid, inten)
		obs.Mode = ModeDeescalate
		obs.Reason = g.lastReason
		g.logger.Info("loopguard.cooldown.started",
			"risk", risk, "repeats", repeats, "until", g.cooldownUntil)
	}
	return obs
}

// CoolingDown reports whether a cooldown is active at now.
func (g *Guard) CoolingDown(now time.Time) bool {
	if now.IsZero() {
		now = g.now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.cooldownUntil)
}

// Mode returns the mode in force at now without recording an event.
func (g *Guard) Mode(now time.Time) Mode {
	if g.CoolingDown(now) {
		return ModeDeescalate
	}
	return ModeNormal
}

// Reset clears the window and any active cooldown.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events.Clear()
	g.cooldownUntil = time.Time{}
	g.lastReason = ""
}

// Len returns the number of events in the window.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events.Len()
}

var wordRE = regexp.MustCompile(`[A-Za-z0-9_']+`)

// Fingerprint returns a stable repetition key: sorted tags when present,
// otherwise the first six lower-cased words of text.
func Fingerprint(tags []string, text string) string {
	if len(tags) > 0 {
		s := append([]string(nil), tags...)
		sort.Strings(s)
		return "S:" + strings.Join(dedupe(s), ",")
	}
	words := wordRE.FindAllString(strings.ToLower(text), 6)
	return "W:" + strings.Join(words, " ")
}

// Intensity estimates emphasis from capitalisation, '!' and '?' marks and
// length. The result is in [0,1].
func Intensity(text string) float64 {
	if text == "" {
		return 0
	}
	letters, upper, bangs := 0, 0, 0
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		case r == '!' || r == '?':
			bangs++
		}
	}
	if letters == 0 {
		return 0
	}
	capRatio := float64(upper) / float64(letters)
	bangScore := min(1, float64(bangs)/6)
	lengthScore := min(1, float64(utf8.RuneCountInString(text))/400)
	return clamp01(0.55*capRatio + 0.30*bangScore + 0.15*lengthScore)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
