package statemachine

import (
	"image"
	"testing"
	"time"

	"github.com/kvassilev/tilebot/internal/detection"
)

// waitForTransition blocks until a transition notification arrives on ch or
// the timeout elapses, failing the test on timeout.
func waitForTransition(t *testing.T, ch <-chan MainState, timeout time.Duration) MainState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(timeout):
		t.Fatal("timed out waiting for transition")
		return MainHalted
	}
}

func newObservedMainLoop(t *testing.T, params MainLoopParams, hooks ActionHooks) (*MainLoop, <-chan MainState) {
	t.Helper()
	m := NewMainLoop(nil, nil, params, hooks)
	ch := make(chan MainState, 16)
	// The events channel is single-consumer FIFO, so this AddListener is
	// guaranteed to be processed before any EventTick sent afterward.
	m.AddListener(func(prev, next MainState) { ch <- next })
	return m, ch
}

func TestMainLoopIdleToSearchingOnTileFound(t *testing.T) {
	m, ch := newObservedMainLoop(t, MainLoopParams{}, ActionHooks{})
	defer m.Close()

	m.EventTick(detection.Result{TileFound: true}, time.Now())
	if got := waitForTransition(t, ch, time.Second); got != MainSearching {
		t.Fatalf("got %v, want MainSearching", got)
	}
}

func TestMainLoopSearchingClicksMonsterAndApproaches(t *testing.T) {
	var clicked detection.MonsterObservation
	var guard bool
	clickedCh := make(chan struct{}, 1)
	hooks := ActionHooks{ClickMonster: func(target detection.MonsterObservation, enforceGuard bool) {
		clicked = target
		guard = enforceGuard
		clickedCh <- struct{}{}
	}}
	m, ch := newObservedMainLoop(t, MainLoopParams{AttackGrace: time.Minute}, hooks)
	defer m.Close()

	m.EventTick(detection.Result{TileFound: true}, time.Now())
	waitForTransition(t, ch, time.Second)

	target := detection.MonsterObservation{Center: image.Pt(5, 5), Area: 10}
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{target}}, time.Now())

	if got := waitForTransition(t, ch, time.Second); got != MainApproaching {
		t.Fatalf("got %v, want MainApproaching", got)
	}
	select {
	case <-clickedCh:
	case <-time.After(time.Second):
		t.Fatal("expected ClickMonster hook to fire")
	}
	if clicked != target {
		t.Fatalf("clicked = %v, want %v", clicked, target)
	}
	if guard {
		t.Fatal("expected enforceGuard=false on the first click out of Searching")
	}
}

// TestMainLoopSearchingReentryResetsGuardBypass covers spec.md §4.6.c.d:
// only the first click out of a fresh Searching entry skips the
// anti-overclick guard; a later re-entry into Searching (e.g. after the
// attack grace expires) resets that allowance for its own first click.
func TestMainLoopSearchingReentryResetsGuardBypass(t *testing.T) {
	var guards []bool
	hooks := ActionHooks{ClickMonster: func(target detection.MonsterObservation, enforceGuard bool) {
		guards = append(guards, enforceGuard)
	}}
	m, ch := newObservedMainLoop(t, MainLoopParams{AttackGrace: 10 * time.Millisecond}, hooks)
	defer m.Close()

	now := time.Now()
	m.EventTick(detection.Result{TileFound: true}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now)
	waitForTransition(t, ch, time.Second) // -> Approaching, first click, guard=false

	m.EventTick(detection.Result{}, now.Add(time.Second))
	waitForTransition(t, ch, time.Second) // grace expired -> Searching again

	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now.Add(time.Second))
	waitForTransition(t, ch, time.Second) // -> Approaching again, first click of this Searching entry

	if len(guards) != 2 {
		t.Fatalf("got %d ClickMonster calls, want 2", len(guards))
	}
	if guards[0] || guards[1] {
		t.Fatalf("guards = %v, want both false (each is the first click of its Searching entry)", guards)
	}
}

// TestMainLoopSelectTargetLowConfidencePrefersLargestArea covers spec.md
// §4.4's low-confidence click path: a sparse/small read should prefer the
// largest-area candidate over whichever is nearest the ROI center.
func TestMainLoopSelectTargetLowConfidencePrefersLargestArea(t *testing.T) {
	params := MainLoopParams{
		LowConfidenceClickEnabled:  true,
		LowConfidenceAreaThreshold: 1000,
	}
	m := NewMainLoop(nil, nil, params, ActionHooks{})
	defer m.Close()

	near := detection.MonsterObservation{Center: image.Pt(1, 1), Area: 5}
	far := detection.MonsterObservation{Center: image.Pt(900, 900), Area: 50}
	result := detection.Result{
		ActiveROI: image.Rect(0, 0, 10, 10),
		Monsters:  []detection.MonsterObservation{near, far},
	}

	got := m.selectTarget(result)
	if got != far {
		t.Fatalf("selectTarget() = %v, want the larger-area candidate %v", got, far)
	}
}

// TestMainLoopSelectTargetConfidentPrefersNearestROICenter covers the
// confident-read branch of spec.md §4.4's target selection: once the read
// clears the low-confidence thresholds, pick whichever candidate is closest
// to the active ROI's center, not the largest.
func TestMainLoopSelectTargetConfidentPrefersNearestROICenter(t *testing.T) {
	params := MainLoopParams{
		LowConfidenceClickEnabled:  true,
		LowConfidenceAreaThreshold: 1,
		LowConfMinCount:            1,
	}
	m := NewMainLoop(nil, nil, params, ActionHooks{})
	defer m.Close()

	near := detection.MonsterObservation{Center: image.Pt(5, 5), Area: 50}
	far := detection.MonsterObservation{Center: image.Pt(900, 900), Area: 5000}
	result := detection.Result{
		ActiveROI: image.Rect(0, 0, 10, 10),
		Monsters:  []detection.MonsterObservation{far, near},
	}

	got := m.selectTarget(result)
	if got != near {
		t.Fatalf("selectTarget() = %v, want the nearest-to-center candidate %v", got, near)
	}
}

// TestMainLoopMultiMonsterSyncsWeaponStyleOnMismatch covers spec.md
// §4.6.b's Multi-Monster weapon sync: the FSM should switch weapons when the
// engine's combat-style read disagrees with the currently-equipped style,
// and only once per disagreement.
func TestMainLoopMultiMonsterSyncsWeaponStyleOnMismatch(t *testing.T) {
	equipped := StyleMelee
	var switchedTo []CombatStyle
	hooks := ActionHooks{
		DetectWeaponStyle: func() CombatStyle { return equipped },
		SwitchWeapon: func(style CombatStyle) {
			switchedTo = append(switchedTo, style)
			equipped = style
		},
	}
	m, _ := newObservedMainLoop(t, MainLoopParams{Mode: SubModeMultiMonster}, hooks)
	defer m.Close()

	m.EventTick(detection.Result{CombatStyle: "ranged"}, time.Now())
	m.EventTick(detection.Result{CombatStyle: "ranged"}, time.Now())
	m.EventTick(detection.Result{CombatStyle: "melee"}, time.Now())

	// Allow the async event loop to drain.
	time.Sleep(50 * time.Millisecond)

	if len(switchedTo) != 2 {
		t.Fatalf("switchedTo = %v, want exactly 2 switches (ranged once, then back to melee)", switchedTo)
	}
	if switchedTo[0] != StyleRanged || switchedTo[1] != StyleMelee {
		t.Fatalf("switchedTo = %v, want [ranged melee]", switchedTo)
	}
}

func TestMainLoopApproachingTimesOutBackToSearching(t *testing.T) {
	m, ch := newObservedMainLoop(t, MainLoopParams{AttackGrace: 10 * time.Millisecond}, ActionHooks{})
	defer m.Close()

	now := time.Now()
	m.EventTick(detection.Result{TileFound: true}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now)
	waitForTransition(t, ch, time.Second)

	m.EventTick(detection.Result{}, now.Add(time.Second))
	if got := waitForTransition(t, ch, time.Second); got != MainSearching {
		t.Fatalf("got %v, want MainSearching after attack grace expired", got)
	}
}

func TestMainLoopApproachingToAttackingOnCombat(t *testing.T) {
	m, ch := newObservedMainLoop(t, MainLoopParams{AttackGrace: time.Minute}, ActionHooks{})
	defer m.Close()

	now := time.Now()
	m.EventTick(detection.Result{TileFound: true}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now)
	waitForTransition(t, ch, time.Second)

	m.EventTick(detection.Result{InCombat: true}, now)
	if got := waitForTransition(t, ch, time.Second); got != MainAttacking {
		t.Fatalf("got %v, want MainAttacking", got)
	}
}

func TestMainLoopAttackingToPostCombatAfterTimeout(t *testing.T) {
	params := MainLoopParams{
		AttackGrace:          time.Minute,
		CombatNotSeenTimeout: 10 * time.Millisecond,
		PostCombatDelayMin:   5 * time.Millisecond,
		PostCombatDelayMax:   6 * time.Millisecond,
	}
	m, ch := newObservedMainLoop(t, params, ActionHooks{})
	defer m.Close()

	now := time.Now()
	m.EventTick(detection.Result{TileFound: true}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{InCombat: true}, now)
	waitForTransition(t, ch, time.Second)

	m.EventTick(detection.Result{InCombat: false}, now.Add(time.Second))
	if got := waitForTransition(t, ch, time.Second); got != MainPostCombat {
		t.Fatalf("got %v, want MainPostCombat", got)
	}
}

func TestMainLoopOneTeleOneKillFiresTeleportOnHPTimeout(t *testing.T) {
	var teleported bool
	teleCh := make(chan struct{}, 1)
	hooks := ActionHooks{FireOneTeleport: func() { teleported = true; teleCh <- struct{}{} }}
	params := MainLoopParams{
		Mode:                    SubModeOneTeleOneKill,
		AttackGrace:             time.Minute,
		CombatNotSeenTimeout:    time.Millisecond,
		OneTeleOneKillHPTimeout: time.Millisecond,
		PostCombatDelayMin:      5 * time.Millisecond,
		PostCombatDelayMax:      6 * time.Millisecond,
	}
	m, ch := newObservedMainLoop(t, params, hooks)
	defer m.Close()

	now := time.Now()
	m.EventTick(detection.Result{TileFound: true}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{Monsters: []detection.MonsterObservation{{Center: image.Pt(1, 1)}}}, now)
	waitForTransition(t, ch, time.Second)
	m.EventTick(detection.Result{InCombat: true}, now)
	waitForTransition(t, ch, time.Second)

	// Arm the HP-verify deadline (first attacking tick), then let both the
	// deadline and the combat-not-seen timeout elapse.
	m.EventTick(detection.Result{InCombat: true}, now)
	later := now.Add(time.Second)
	m.EventTick(detection.Result{InCombat: false}, later)

	if got := waitForTransition(t, ch, time.Second); got != MainOneTeleWaiting {
		t.Fatalf("got %v, want MainOneTeleWaiting", got)
	}
	select {
	case <-teleCh:
	case <-time.After(time.Second):
		t.Fatal("expected FireOneTeleport hook to fire")
	}
	if !teleported {
		t.Fatal("expected teleported=true")
	}
}

func TestMainLoopHaltTransitionsToHalted(t *testing.T) {
	m, ch := newObservedMainLoop(t, MainLoopParams{}, ActionHooks{})
	defer m.Close()

	m.EventHalt()
	if got := waitForTransition(t, ch, time.Second); got != MainHalted {
		t.Fatalf("got %v, want MainHalted", got)
	}
}

func TestMainStateStringCoversAllStates(t *testing.T) {
	states := []MainState{MainIdle, MainSearching, MainApproaching, MainAttacking, MainPostCombat, MainOneTeleWaiting, MainHalted}
	for _, s := range states {
		if s.String() == "unknown" {
			t.Errorf("state %d has no String() case", s)
		}
	}
}
