// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package roles

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	kerrors "github.com/jllopis/cgcs/pkg/errors"
)

func abstractRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		NewSpec(SpecConfig{Name: "A", AllowedActions: []string{"a1", "shared"}, Cost: 0.4}),
		NewSpec(SpecConfig{Name: "B", AllowedActions: []string{"b1", "shared"}, Cost: 0.4}),
		NewSpec(SpecConfig{Name: "C", AllowedActions: []string{"c1"}, Cost: 0.4, ExclusiveWith: []string{"A"}}),
		NewSpec(SpecConfig{Name: "S", AllowedActions: []string{"s1"}, Cost: 0.1, RequiresConsent: true, MinResource: 0.5}),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestActivateScenarioCapacityAndExclusivity(t *testing.T) {
	l := NewLedger(abstractRegistry(t), 1.0)

	if ok, reasons := l.Activate("A", false, 1.0); !ok {
		t.Fatalf("activate A: %v", reasons)
	}
	if got := l.Load(); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("load = %v, want 0.4", got)
	}
	if ok, reasons := l.Activate("B", false, 1.0); !ok {
		t.Fatalf("activate B: %v", reasons)
	}
	ok, reasons := l.Activate("C", false, 1.0)
	if ok {
		t.Fatal("activate C must fail")
	}
	want := []string{"capacity exceeded", "exclusive with A"}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	if got := l.Load(); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("load = %v, want 0.8 after refused activation", got)
	}
	if !reflect.DeepEqual(l.Active(), []string{"A", "B"}) {
		t.Fatalf("active = %v", l.Active())
	}
}

func TestActivateCollectsAllReasons(t *testing.T) {
	l := NewLedger(abstractRegistry(t), 0.05)
	ok, reasons := l.Activate("S", false, 0.1)
	if ok {
		t.Fatal("expected refusal")
	}
	want := []string{ReasonConsentRequired, ReasonCapacityExceeded, ReasonLowResource}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
}

func TestActivateUnknownRole(t *testing.T) {
	l := NewLedger(abstractRegistry(t), 1.0)
	ok, reasons := l.Activate("Z", true, 1.0)
	if ok || len(reasons) != 1 || reasons[0] != "unknown role Z" {
		t.Fatalf("got %v %v", ok, reasons)
	}
}

func TestExclusivityIsSymmetric(t *testing.T) {
	l := NewLedger(abstractRegistry(t), 2.0)
	if ok, _ := l.Activate("C", false, 1.0); !ok {
		t.Fatal("activate C")
	}
	ok, reasons := l.Activate("A", false, 1.0)
	if ok || !reflect.DeepEqual(reasons, []string{"exclusive with C"}) {
		t.Fatalf("got %v %v", ok, reasons)
	}
}

func TestReleaseAndAllowedActions(t *testing.T) {
	l := NewLedger(abstractRegistry(t), 1.0)
	if got := l.AllowedActions(); !reflect.DeepEqual(got, []string{FallbackAction}) {
		t.Fatalf("idle allowed = %v", got)
	}
	if !l.Allows(FallbackAction) || l.Allows("a1") {
		t.Fatal("idle ledger must only allow the fallback action")
	}

	l.Activate("A", false, 1.0)
	l.Activate("B", false, 1.0)
	if got := l.AllowedActions(); !reflect.DeepEqual(got, []string{"a1", "b1", "shared"}) {
		t.Fatalf("allowed = %v", got)
	}
	if err := l.Release("A"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release("A"); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if l.Allows("a1") || !l.Allows("b1") {
		t.Fatal("release did not narrow the allowed set")
	}
	if err := l.Release("nope"); !errors.Is(err, kerrors.ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	released := l.ReleaseAll()
	if !reflect.DeepEqual(released, []string{"B"}) || l.Load() != 0 {
		t.Fatalf("released %v load %v", released, l.Load())
	}
}

func TestConcurrentActivationRespectsCapacity(t *testing.T) {
	specs := make([]Spec, 0, 20)
	for i := 0; i < 20; i++ {
		specs = append(specs, NewSpec(SpecConfig{Name: fmt.Sprintf("r%02d", i), Cost: 0.3, AllowedActions: []string{"x"}}))
	}
	reg, err := NewRegistry(specs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	l := NewLedger(reg, 1.0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for _, name := range reg.Names() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if ok, _ := l.Activate(name, true, 1.0); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	if admitted != 3 {
		t.Fatalf("admitted %d roles, want 3", admitted)
	}
	if l.Load() > l.MaxLoad()+1e-9 {
		t.Fatalf("load %v exceeds max %v", l.Load(), l.MaxLoad())
	}
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry(NewSpec(SpecConfig{Name: "a"}), NewSpec(SpecConfig{Name: "a"}))
	if !errors.Is(err, kerrors.ErrAlreadyExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	_, err = NewRegistry(NewSpec(SpecConfig{Name: "a", ExclusiveWith: []string{"ghost"}}))
	if !errors.Is(err, kerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSpecIsImmutable(t *testing.T) {
	actions := []string{"carry"}
	s := NewSpec(SpecConfig{Name: "t", AllowedActions: actions})
	actions[0] = "fly"
	got := s.AllowedActions()
	got[0] = "teleport"
	if !s.Allows("carry") || s.Allows("fly") || s.Allows("teleport") {
		t.Fatalf("spec mutated through caller slices: %v", s.AllowedActions())
	}
}

func TestCanonicalRegistry(t *testing.T) {
	r := CanonicalRegistry()
	if _, ok := r.Lookup(Transport); !ok {
		t.Fatal("transport missing")
	}
	if !r.Excluded(Transport, CookingPrep) || !r.Excluded(Maintenance, Housekeeping) {
		t.Fatal("canonical exclusivity missing")
	}
	l := NewLedger(r, 1.0)
	if ok, reasons := l.Activate(Transport, false, 1.0); ok || reasons[0] != ReasonConsentRequired {
		t.Fatalf("transport without consent: %v %v", ok, reasons)
	}
	if ok, reasons := l.Activate(Gardening, false, 0.3); ok || reasons[0] != ReasonLowResource {
		t.Fatalf("gardening on low battery: %v %v", ok, reasons)
	}
}

func TestLoadCatalog(t *testing.T) {
	doc := `
roles:
  - name: courier
    allowed_actions: [carry, deliver]
    cost: 0.5
    requires_consent: true
  - name: greeter
    allowed_actions: [wave]
    cost: 0.2
    exclusive_with: [courier]
`
	path := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(r.Names(), []string{"courier", "greeter"}) {
		t.Fatalf("names = %v", r.Names())
	}
	courier, _ := r.Lookup("courier")
	if !courier.RequiresConsent() || courier.Cost() != 0.5 {
		t.Fatalf("courier = %+v", courier.Config())
	}
	if !r.Excluded("courier", "greeter") {
		t.Fatal("expected exclusivity from either side")
	}

	if _, err := ParseCatalog([]byte("roles: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
