// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package fatigue

import (
	"sync"
	"testing"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestEngineExhaustionAndRecovery(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(Config{ActionCost: 20}, WithClock(clk.Now))
	e.Register("a1")

	want := []float64{80, 60, 40, 20, 0}
	for i, w := range want {
		res, err := e.Consume("a1")
		if err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("action %d refused: %s", i+1, res.Reason)
		}
		if res.Resource != w {
			t.Fatalf("action %d resource = %v, want %v", i+1, res.Resource, w)
		}
		clk.Advance(time.Second)
	}

	res, _ := e.Consume("a1")
	if res.Allowed || res.Reason != ReasonExhausted || !res.RestStarted {
		t.Fatalf("action 6 = %+v, want exhausted refusal with rest", res)
	}
	if e.CanAct("a1") {
		t.Fatalf("agent should not act right after rest starts")
	}

	clk.Advance(2 * time.Minute)
	res, _ = e.Consume("a1")
	if res.Allowed || res.Reason != ReasonResting {
		t.Fatalf("mid-rest consume = %+v, want resting refusal", res)
	}

	clk.Advance(3 * time.Minute)
	if !e.CanAct("a1") {
		st, _ := e.State("a1")
		t.Fatalf("agent should resume, state %+v", st)
	}
	res, _ = e.Consume("a1")
	if !res.Allowed {
		t.Fatalf("post-rest consume refused: %s", res.Reason)
	}
	if res.Resource != 30 {
		t.Fatalf("resource = %v, want 30", res.Resource)
	}
}

func TestEngineMandatoryRest(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(Config{ActionCost: 1, MaxActionsBeforeRest: 3}, WithClock(clk.Now))
	e.Register("a1")

	for i := 0; i < 2; i++ {
		if res, _ := e.Consume("a1"); !res.Allowed {
			t.Fatalf("action %d refused", i+1)
		}
	}
	res, _ := e.Consume("a1")
	if res.Allowed || res.Reason != ReasonMandatoryRest {
		t.Fatalf("third action = %+v, want mandatory rest", res)
	}
	st, _ := e.State("a1")
	if st.Level != LevelRecovering || st.ActionsSinceRest != 0 || st.TotalActions != 3 {
		t.Fatalf("state = %+v", st)
	}
	if st.Resource != 97 {
		t.Fatalf("budget should be spent by the refused action, resource = %v", st.Resource)
	}
}

func TestEngineRecoveryDoesNotCompound(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(Config{ActionCost: 50}, WithClock(clk.Now))
	e.Register("a1")
	e.Consume("a1")
	e.Consume("a1")
	if err := e.StartRest("a1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		clk.Advance(30 * time.Second)
		e.State("a1")
	}
	st, _ := e.State("a1")
	if st.Resource != 20 {
		t.Fatalf("resource = %v, want 20 after two minutes", st.Resource)
	}
	clk.Advance(time.Hour)
	st, _ = e.State("a1")
	if st.Resource != MaxResource {
		t.Fatalf("resource = %v, want capped at %v", st.Resource, MaxResource)
	}
}

func TestEngineUnknownAgent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	if _, err := e.Consume("ghost"); errors.CodeOf(err) != errors.CodeUnknownAgent {
		t.Fatalf("Consume err = %v", err)
	}
	if e.CanAct("ghost") {
		t.Fatalf("unknown agent must not act")
	}
	if err := e.StartRest("ghost"); err == nil {
		t.Fatalf("StartRest on unknown agent should fail")
	}
	if _, err := e.State("ghost"); err == nil {
		t.Fatalf("State on unknown agent should fail")
	}
}

func TestEngineReset(t *testing.T) {
	e := NewEngine(Config{ActionCost: 60})
	e.Register("a1")
	e.Consume("a1")
	if err := e.Reset("a1"); err != nil {
		t.Fatal(err)
	}
	st, _ := e.State("a1")
	if st.Resource != MaxResource || st.Level != LevelFresh {
		t.Fatalf("state after reset = %+v", st)
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		r    float64
		want Level
	}{
		{0, LevelExhausted},
		{10, LevelTired},
		{25, LevelTired},
		{26, LevelActive},
		{60, LevelActive},
		{61, LevelFresh},
		{100, LevelFresh},
	}
	for _, c := range cases {
		if got := levelFor(c.r); got != c.want {
			t.Errorf("levelFor(%v) = %s, want %s", c.r, got, c.want)
		}
	}
}

func TestEngineResourceBounds(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(Config{ActionCost: 7, MaxActionsBeforeRest: 1000}, WithClock(clk.Now))
	e.Register("a1")
	for i := 0; i < 200; i++ {
		e.Consume("a1")
		clk.Advance(13 * time.Second)
		st, _ := e.State("a1")
		if st.Resource < 0 || st.Resource > MaxResource {
			t.Fatalf("step %d resource out of bounds: %v", i, st.Resource)
		}
	}
}

func TestStressAccumulatesAndDecays(t *testing.T) {
	s := NewStress([]string{"a", "b"}, DefaultStressCoefficients())
	util := map[string]float64{"a": 1}
	for i := 0; i < 40; i++ {
		s.Tick(1, []string{"a"}, util, 0)
	}
	if got := s.Value("a"); got < 0.79 || got > 0.81 {
		t.Fatalf("stress(a) = %v, want ~0.8", got)
	}
	if got := s.Value("b"); got != 0 {
		t.Fatalf("inactive stress should stay at 0, got %v", got)
	}
	sug := s.Suggestions([]string{"a", "b"})
	if sug["a"] != SuggestStrong {
		t.Fatalf("suggestion = %v, want strong", sug["a"])
	}
	if _, ok := sug["b"]; ok {
		t.Fatalf("no suggestion expected for b")
	}

	for i := 0; i < 5; i++ {
		s.Tick(1, nil, nil, 0)
	}
	if got := s.Value("a"); got < 0.59 || got > 0.61 {
		t.Fatalf("stress(a) after decay = %v, want ~0.6", got)
	}
	if s.Suggestions([]string{"a"})["a"] != SuggestMild {
		t.Fatalf("expected mild suggestion after decay")
	}
}

func TestStressBounds(t *testing.T) {
	s := NewStress(nil, DefaultStressCoefficients())
	util := map[string]float64{"x": 1}
	for i := 0; i < 500; i++ {
		s.Tick(3, []string{"x"}, util, 5)
		if v := s.Value("x"); v < 0 || v > 1 {
			t.Fatalf("stress out of bounds: %v", v)
		}
	}
	if s.Value("x") != 1 {
		t.Fatalf("stress should saturate at 1")
	}
	for i := 0; i < 100; i++ {
		s.Tick(1, nil, nil, 0)
	}
	if s.Value("x") != 0 {
		t.Fatalf("stress should floor at 0")
	}
	if got := s.Roles(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("roles = %v", got)
	}
}

func TestStressNegativeGlobalIgnored(t *testing.T) {
	s := NewStress([]string{"a"}, DefaultStressCoefficients())
	s.Tick(1, []string{"a"}, map[string]float64{"a": 0}, -10)
	if s.Value("a") != 0 {
		t.Fatalf("negative global stress must not reduce below zero contributions")
	}
	s.Tick(10, []string{"a"}, map[string]float64{"a": 0.5}, 1)
	s.Clear()
	if s.Value("a") != 0 {
		t.Fatalf("Clear should zero values")
	}
}
