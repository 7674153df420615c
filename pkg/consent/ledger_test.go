// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kerrors "github.com/jllopis/cgcs/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCheckDefaultsToDenial(t *testing.T) {
	l := NewLedger()
	kinds := []Kind{KindAction, KindMemoryStore, KindMemoryRetrieve, KindRoleAssignment}
	for _, k := range kinds {
		if l.Check("r1", k, "") {
			t.Errorf("expected no ambient consent for %s", k)
		}
		if l.Check("r1", k, "missing-id") {
			t.Errorf("expected unknown id to be denied for %s", k)
		}
	}
}

func TestRequestGrantCheck(t *testing.T) {
	l := NewLedger()
	rec, err := l.Request("c1", KindRoleAssignment, "r1", "assign transport", time.Time{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("status = %s", rec.Status)
	}
	if l.Check("r1", KindRoleAssignment, "c1") {
		t.Fatal("pending consent must not pass")
	}
	if !l.Grant("c1") {
		t.Fatal("grant failed")
	}
	if !l.Check("r1", KindRoleAssignment, "c1") {
		t.Fatal("expected granted id check")
	}
	if !l.Check("r1", KindRoleAssignment, "") {
		t.Fatal("expected ambient scope check")
	}
	if l.Check("r2", KindRoleAssignment, "") {
		t.Fatal("scope must not leak to other requesters")
	}
	if l.Check("r1", KindAction, "") {
		t.Fatal("scope must not leak to other kinds")
	}
}

func TestRequestRejectsDuplicateAndBadKind(t *testing.T) {
	l := NewLedger()
	if _, err := l.Request("c1", KindAction, "r1", "", time.Time{}); err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err := l.Request("c1", KindAction, "r1", "", time.Time{})
	if !errors.Is(err, kerrors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	_, err = l.Request("c2", Kind("telepathy"), "r1", "", time.Time{})
	if !errors.Is(err, kerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestGeneratesID(t *testing.T) {
	l := NewLedger()
	rec, err := l.Request("", KindAction, "r1", "", time.Time{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	l := NewLedger()
	_, _ = l.Request("c1", KindAction, "r1", "", time.Time{})
	for i := 0; i < 3; i++ {
		if !l.Grant("c1") {
			t.Fatalf("grant #%d returned false", i)
		}
	}
	if st := l.Stats(); st.Granted != 1 || st.Scopes != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !l.Revoke("c1") {
		t.Fatal("revoke failed")
	}
	if l.Check("r1", KindAction, "") {
		t.Fatal("repeated grants must not leave a scope behind after revoke")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	l := NewLedger()
	_, _ = l.Request("c1", KindMemoryStore, "r1", "", time.Time{})
	l.Grant("c1")

	first := l.Revoke("c1")
	second := l.Revoke("c1")
	if !first || !second {
		t.Fatalf("revoke returns = %v, %v", first, second)
	}
	if l.Check("r1", KindMemoryStore, "c1") || l.Check("r1", KindMemoryStore, "") {
		t.Fatal("revoked consent still passes")
	}
	if l.Grant("c1") {
		t.Fatal("denied record must not be re-granted")
	}
	if l.Revoke("unknown") {
		t.Fatal("revoke of unknown id must return false")
	}
}

func TestExpiryIsLazy(t *testing.T) {
	clock := newFakeClock()
	l := NewLedger(WithClock(clock.Now))
	_, _ = l.Request("c1", KindAction, "r1", "", clock.Now().Add(time.Minute))
	l.Grant("c1")

	if !l.Check("r1", KindAction, "c1") {
		t.Fatal("expected valid consent before expiry")
	}
	clock.Advance(2 * time.Minute)

	rec, err := l.Get("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", rec.Status)
	}
	if l.Check("r1", KindAction, "c1") {
		t.Fatal("expired consent passes id check")
	}
	if l.Check("r1", KindAction, "") {
		t.Fatal("expired consent passes scope check")
	}
	if l.Grant("c1") {
		t.Fatal("expired record must not be re-granted")
	}
}

func TestAmbientScopeExpiresWithoutSweep(t *testing.T) {
	clock := newFakeClock()
	l := NewLedger(WithClock(clock.Now))
	_, _ = l.Request("c1", KindAction, "r1", "", clock.Now().Add(time.Second))
	l.Grant("c1")
	clock.Advance(time.Hour)
	if l.Check("r1", KindAction, "") {
		t.Fatal("scope backed only by an expired grant must not pass")
	}
}

func TestScopeSurvivesWhileAnotherGrantBacksIt(t *testing.T) {
	clock := newFakeClock()
	l := NewLedger(WithClock(clock.Now))
	_, _ = l.Request("short", KindAction, "r1", "", clock.Now().Add(time.Minute))
	_, _ = l.Request("long", KindAction, "r1", "", time.Time{})
	l.Grant("short")
	l.Grant("long")

	clock.Advance(5 * time.Minute)
	if n := l.SweepExpired(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if !l.Check("r1", KindAction, "") {
		t.Fatal("scope still backed by the long-lived grant")
	}
}

func TestSweepExpiredIdempotent(t *testing.T) {
	clock := newFakeClock()
	l := NewLedger(WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		_, _ = l.Request(id, KindAction, "r1", "", clock.Now().Add(time.Duration(i+1)*time.Minute))
		if i%2 == 0 {
			l.Grant(id)
		}
	}
	clock.Advance(3*time.Minute + time.Second)
	if n := l.SweepExpired(); n != 3 {
		t.Fatalf("first sweep = %d, want 3", n)
	}
	if n := l.SweepExpired(); n != 0 {
		t.Fatalf("second sweep = %d, want 0", n)
	}
	n, err := l.ExpireConsents(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("ExpireConsents = %d, %v", n, err)
	}
}

func TestPendingAndStats(t *testing.T) {
	l := NewLedger()
	_, _ = l.Request("a", KindAction, "r1", "", time.Time{})
	_, _ = l.Request("b", KindAction, "r1", "", time.Time{})
	_, _ = l.Request("c", KindAction, "r1", "", time.Time{})
	l.Grant("a")
	l.Deny("b")

	pending := l.Pending()
	if len(pending) != 1 || pending[0].ID != "c" {
		t.Fatalf("pending = %+v", pending)
	}
	st := l.Stats()
	if st.Total != 3 || st.Granted != 1 || st.Denied != 1 || st.Pending != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.GrantRate != 0.5 {
		t.Fatalf("grant rate = %v", st.GrantRate)
	}
}

func TestConcurrentGrantAndCheck(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%d", i)
		requester := fmt.Sprintf("r%d", i%5)
		if _, err := l.Request(id, KindAction, requester, "", time.Time{}); err != nil {
			t.Fatalf("request: %v", err)
		}
		wg.Add(3)
		go func() { defer wg.Done(); l.Grant(id) }()
		go func() { defer wg.Done(); l.Check(requester, KindAction, "") }()
		go func() { defer wg.Done(); l.SweepExpired() }()
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		if !l.Check(fmt.Sprintf("r%d", i), KindAction, "") {
			t.Fatalf("r%d lost its scope", i)
		}
	}
}
