// Package humanizer implements spec.md §4.5's Humanizer: break scheduling,
// click/delay jitter, and idle micro-movements. Grounded on
// _examples/original_source/rspsbot/core/antiban.py (break scheduling and
// idle mouse nudges), reimplemented with math/rand since no pack library
// offers anything beyond a seeded PRNG for this kind of timing jitter.
package humanizer

import (
	"math/rand"
	"time"
)

// Humanizer tracks break/idle timing state across calls. Zero value is not
// usable; use New.
type Humanizer struct {
	rng *rand.Rand

	lastBreakAt time.Time
	sessionStart time.Time
}

// New builds a Humanizer seeded from the current time.
func New() *Humanizer {
	now := time.Now()
	return &Humanizer{
		rng:          rand.New(rand.NewSource(now.UnixNano())),
		lastBreakAt:  now,
		sessionStart: now,
	}
}

// ShouldTakeBreak implements spec.md §4.5's should_take_break: returns true
// once breakEvery, scaled by a random factor in [1-jitterPercent/100,
// 1+jitterPercent/100] drawn afresh on each call, has elapsed since the
// last break, matching antiban.py's interval-with-jitter scheduling.
func (h *Humanizer) ShouldTakeBreak(breakEvery time.Duration, jitterPercent float64) bool {
	jittered := jitterDuration(h.rng, breakEvery, jitterPercent)
	return time.Since(h.lastBreakAt) >= jittered
}

// TakeBreak resets the break timer; callers sleep for breakDuration
// themselves (the Humanizer only tracks scheduling, not the sleep itself, so
// callers can remain cancellable via context).
func (h *Humanizer) TakeBreak() {
	h.lastBreakAt = time.Now()
}

// RandomizeClickTiming implements spec.md §4.5's randomize_click_timing:
// returns a jittered delay to sleep before/after a click, derived from a
// base delay and a symmetric percentage variation.
func (h *Humanizer) RandomizeClickTiming(base time.Duration, variationPercent float64) time.Duration {
	return jitterDuration(h.rng, base, variationPercent)
}

// RandomizeDelay is an alias for RandomizeClickTiming used by non-click
// pacing call sites (e.g. break duration), per spec.md §4.5
// randomize_delay.
func (h *Humanizer) RandomizeDelay(base time.Duration, variationPercent float64) time.Duration {
	return jitterDuration(h.rng, base, variationPercent)
}

// jitterDuration scales base by a uniform random factor in
// [1-variationPercent/100, 1+variationPercent/100], floored at zero.
func jitterDuration(rng *rand.Rand, base time.Duration, variationPercent float64) time.Duration {
	if variationPercent <= 0 {
		return base
	}
	factor := 1 + (rng.Float64()*2-1)*(variationPercent/100)
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		d = 0
	}
	return d
}

// MicroMovement implements the MODULE EXPANSION's idle micro-movements
// (SPEC_FULL.md, grounded on antiban.py's small idle mouse nudges): returns a
// small jittered (dx, dy) offset and ok=true when enabled, or ok=false when
// jitter is disabled — callers apply the offset via the Action Dispatcher's
// low-level move primitive, not a click.
func (h *Humanizer) MicroMovement(enabled bool, jitterPercent float64) (dx, dy int, ok bool) {
	if !enabled {
		return 0, 0, false
	}
	maxMag := 3.0 * (jitterPercent / 100)
	if maxMag <= 0 {
		maxMag = 1
	}
	dx = int((h.rng.Float64()*2 - 1) * maxMag)
	dy = int((h.rng.Float64()*2 - 1) * maxMag)
	return dx, dy, true
}
