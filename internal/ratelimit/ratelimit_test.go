package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiterBurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newLimiterWithClock(10, 3, clock.now)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("Request %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("Request beyond burst should be rejected")
	}

	clock.advance(100 * time.Millisecond)
	if !l.Allow() {
		t.Error("One token should have refilled after 100ms at 10/s")
	}
	if l.Allow() {
		t.Error("Only one token should have refilled")
	}
}

func TestLimiterCapsAtBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newLimiterWithClock(100, 2, clock.now)

	clock.advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Expected 2 allowed after long idle, got %d", allowed)
	}
}

func TestGuardEscalation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewGuard(newLimiterWithClock(1, 1, clock.now), 3, 5)

	if v := g.Check(); v != Accept {
		t.Fatalf("First message should be accepted, got %v", v)
	}

	want := []Verdict{DropAndWarn, Drop, Drop, DropAndWarn, Drop, Disconnect}
	for i, w := range want {
		if v := g.Check(); v != w {
			t.Errorf("Violation %d: expected %v, got %v", i+1, w, v)
		}
	}
	if g.Violations() != 6 {
		t.Errorf("Expected 6 violations, got %d", g.Violations())
	}
}
