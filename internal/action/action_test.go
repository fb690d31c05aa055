package action

import (
	"errors"
	"testing"
	"time"
)

// TestShouldSuppressClickGuard covers spec.md §8's anti-overclick testable
// property: suppression is purely time-based — no two clicks within
// minCooldown, regardless of target.
func TestShouldSuppressClickGuard(t *testing.T) {
	d := New(nil, 500*time.Millisecond, 0, 0)
	now := time.Now()
	d.lastClickAt = now

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"immediately after", now.Add(10 * time.Millisecond), true},
		{"right at cooldown boundary", now.Add(500 * time.Millisecond), false},
		{"long after cooldown", now.Add(time.Second), false},
	}
	for _, c := range cases {
		got := d.shouldSuppressClick(c.at)
		if got != c.want {
			t.Errorf("%s: shouldSuppressClick = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestShouldSuppressClickFalseBeforeAnyClick(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	if d.shouldSuppressClick(time.Now()) {
		t.Fatal("expected no suppression before any recorded click")
	}
}

func TestRandomizedClickDelayWithinVariationBounds(t *testing.T) {
	d := New(nil, time.Second, 100*time.Millisecond, 20)
	for i := 0; i < 50; i++ {
		got := d.randomizedClickDelay()
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("randomizedClickDelay() = %v, want within [80ms,120ms]", got)
		}
	}
}

func TestRandomizedClickDelayZeroBaseIsZero(t *testing.T) {
	d := New(nil, time.Second, 0, 20)
	if got := d.randomizedClickDelay(); got != 0 {
		t.Fatalf("randomizedClickDelay() = %v, want 0", got)
	}
}

func TestRandomizedClickDelayNoVariationReturnsBase(t *testing.T) {
	d := New(nil, time.Second, 50*time.Millisecond, 0)
	if got := d.randomizedClickDelay(); got != 50*time.Millisecond {
		t.Fatalf("randomizedClickDelay() = %v, want exactly base 50ms", got)
	}
}

func TestRegisterActionFireRespectsCooldown(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	runs := 0
	d.RegisterAction("attack", 1, 100*time.Millisecond, nil, nil, func() error {
		runs++
		return nil
	})

	fired, err := d.Fire("attack")
	if err != nil || !fired {
		t.Fatalf("first fire: fired=%v err=%v", fired, err)
	}
	fired, err = d.Fire("attack")
	if err != nil || fired {
		t.Fatalf("second immediate fire: fired=%v err=%v, want fired=false", fired, err)
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

func TestFireUnregisteredActionErrors(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	fired, err := d.Fire("missing")
	if fired || err == nil {
		t.Fatalf("expected error and fired=false for unregistered action, got fired=%v err=%v", fired, err)
	}
}

func TestFirePropagatesRunError(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	boom := errors.New("boom")
	postRan := false
	d.RegisterAction("teleport", 1, 0, nil, func() { postRan = true }, func() error { return boom })

	fired, err := d.Fire("teleport")
	if !fired || !errors.Is(err, boom) {
		t.Fatalf("fired=%v err=%v, want fired=true err=boom", fired, err)
	}
	if !postRan {
		t.Fatal("expected post hook to run even when run() errors")
	}
}

func TestHighestPriorityReadySkipsOnCooldown(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	d.RegisterAction("low", 1, time.Hour, nil, nil, func() error { return nil })
	d.RegisterAction("high", 10, time.Hour, nil, nil, func() error { return nil })

	if got := d.HighestPriorityReady(); got != "high" {
		t.Fatalf("HighestPriorityReady() = %q, want %q", got, "high")
	}

	if _, err := d.Fire("high"); err != nil {
		t.Fatalf("Fire(high): %v", err)
	}
	if got := d.HighestPriorityReady(); got != "low" {
		t.Fatalf("HighestPriorityReady() after high fired = %q, want %q", got, "low")
	}
}

func TestHighestPriorityReadyEmptyWhenNoneReady(t *testing.T) {
	d := New(nil, time.Second, 0, 0)
	if got := d.HighestPriorityReady(); got != "" {
		t.Fatalf("HighestPriorityReady() on empty registry = %q, want empty", got)
	}
}
