// Package statemachine implements the Main Loop FSM and Instance Mode FSM
// from spec.md §4.6/§4.7: channel-driven actors mirroring the teacher's
// FishingFSM (domain/fishing/fsm.go) — a single goroutine owns all state,
// external callers only send events, transitions run a side-effect switch,
// and timers are deadline timestamps ("now + duration") rather than
// countdowns so irregular tick periods never skew them, per
// _examples/original_source/rspsbot/core/state/__init__.py's phase timers.
package statemachine

import (
	"image"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/kvassilev/tilebot/internal/detection"
	"github.com/kvassilev/tilebot/internal/eventbus"
	"github.com/kvassilev/tilebot/internal/geometry"
)

// MainState enumerates the Main Loop FSM's states (spec.md §4.6).
type MainState int

const (
	MainIdle MainState = iota
	MainSearching
	MainApproaching
	MainAttacking
	MainPostCombat
	MainOneTeleWaiting
	MainHalted
)

func (s MainState) String() string {
	switch s {
	case MainIdle:
		return "idle"
	case MainSearching:
		return "searching"
	case MainApproaching:
		return "approaching"
	case MainAttacking:
		return "attacking"
	case MainPostCombat:
		return "post_combat"
	case MainOneTeleWaiting:
		return "one_tele_waiting"
	case MainHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// SubMode selects which of spec.md §4.6's three flows governs transitions:
// standard (4.6.c), 1-Tele-1-Kill (4.6.a), or Multi-Monster (4.6.b).
type SubMode int

const (
	SubModeStandard SubMode = iota
	SubModeOneTeleOneKill
	SubModeMultiMonster
)

// MainLoopParams are the timer/threshold knobs the Main Loop FSM consults,
// lifted from config.Config by the caller (avoids an import cycle between
// statemachine and config).
type MainLoopParams struct {
	Mode SubMode

	AttackGrace          time.Duration
	PostCombatDelayMin   time.Duration
	PostCombatDelayMax   time.Duration
	CombatNotSeenTimeout time.Duration

	OneTeleOneKillHPTimeout time.Duration

	// Low-confidence target selection (spec.md §4.4/§4.6.c): when the
	// engine's tile/monster read is thin (few monsters, or a small area),
	// prefer the largest-area candidate over the one nearest the active
	// ROI's center, since a precise distance ranking is unreliable on a
	// sparse read.
	LowConfidenceClickEnabled  bool
	LowConfidenceAreaThreshold float64
	LowConfMinCount            int
}

// ActionHooks externalize OS interactions, matching the teacher's
// ActionCallbacks shape (FishingFSM.actions) so the FSM never imports the
// Action Dispatcher's concrete robotgo calls directly — only these typed
// function values.
type ActionHooks struct {
	// ClickMonster fires a click at target. enforceGuard is false for the
	// state machine's first click out of each Searching entry (spec.md
	// §4.6.c.d); since every click moves the FSM on to Approaching, each
	// ClickMonster call from the Searching flow passes false.
	ClickMonster    func(target detection.MonsterObservation, enforceGuard bool)
	ClickPoint      func(p image.Point)
	FireOneTeleport func()

	// DetectWeaponStyle/SwitchWeapon back Multi-Monster mode's weapon sync
	// (spec.md §4.6.b): read the currently-equipped style and switch to the
	// style the Detection Engine's combat-style read reports.
	DetectWeaponStyle func() CombatStyle
	SwitchWeapon      func(style CombatStyle)
}

// Listener is called on each successful Main Loop transition, matching the
// teacher's FishingStateListener(prev, next) shape.
type Listener func(prev, next MainState)

// MainLoop is the Main Loop FSM. Zero value is not usable; use NewMainLoop.
type MainLoop struct {
	logger *slog.Logger
	bus    *eventbus.Bus
	params MainLoopParams
	hooks  ActionHooks
	rng    *rand.Rand

	state     MainState
	events    chan any
	listeners []Listener

	timers       detection.CombatTimers
	closed       bool

	// firstSearchClick is true whenever the FSM has just (re)entered
	// Searching and has not yet fired a click out of it — the one click
	// that skips the anti-overclick guard (spec.md §4.6.c.d).
	firstSearchClick bool

	// lastWeaponStyle tracks Multi-Monster mode's last-synced style so
	// syncWeaponStyle only calls SwitchWeapon on an actual change.
	lastWeaponStyle CombatStyle
}

// NewMainLoop constructs and starts the Main Loop FSM's event goroutine,
// matching the teacher's NewFSM(logger, cfg, actions, detectorCtor) shape.
func NewMainLoop(logger *slog.Logger, bus *eventbus.Bus, params MainLoopParams, hooks ActionHooks) *MainLoop {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MainLoop{
		logger:  logger,
		bus:     bus,
		params:  params,
		hooks:   hooks,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		state:   MainIdle,
		events:  make(chan any, 64),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("statemachine: main loop panic", "error", r, "stack", string(debug.Stack()))
				if bus != nil {
					bus.Publish(eventbus.Event{Kind: eventbus.KindErrorOccurred, Payload: r})
				}
			}
		}()
		m.loop()
	}()
	return m
}

// AddListener registers l for future transitions.
func (m *MainLoop) AddListener(l Listener) { m.events <- evtAddListener{l: l} }

// Current returns the FSM's current state (safe to call from any goroutine;
// it sends no event, it races the loop goroutine's writes the same way the
// teacher's FishingFSM.Current() does — last-write-visible, not
// linearizable, which is acceptable for a UI/log read).
func (m *MainLoop) Current() MainState { return m.state }

// EventTick drives one detection cycle's result through the FSM.
func (m *MainLoop) EventTick(result detection.Result, now time.Time) {
	m.events <- evtMainTick{result: result, now: now}
}

// EventHalt forces the FSM to MainHalted.
func (m *MainLoop) EventHalt() { m.events <- evtMainHalt{} }

// Close stops the FSM's event loop.
func (m *MainLoop) Close() { close(m.events) }

type (
	evtAddListener struct{ l Listener }
	evtMainTick    struct {
		result detection.Result
		now    time.Time
	}
	evtMainHalt struct{}
)

func (m *MainLoop) loop() {
	for ev := range m.events {
		switch e := ev.(type) {
		case evtAddListener:
			m.listeners = append(m.listeners, e.l)
		case evtMainTick:
			m.handleTick(e.result, e.now)
		case evtMainHalt:
			m.transition(MainHalted, "halt")
		}
	}
	m.closed = true
}

// handleTick implements spec.md §4.6's per-cycle decision: record when
// combat was last seen, then route to the active state's handler (Searching
// does not click while the result reports combat).
func (m *MainLoop) handleTick(result detection.Result, now time.Time) {
	if result.InCombat {
		m.timers.LastCombatSeenAt = now
	}

	if m.params.Mode == SubModeMultiMonster {
		m.syncWeaponStyle(result)
	}

	switch m.state {
	case MainIdle:
		if result.TileFound {
			m.transition(MainSearching, "tile_found")
		}
	case MainSearching:
		m.handleSearching(result, now)
	case MainApproaching:
		m.handleApproaching(result, now)
	case MainAttacking:
		m.handleAttacking(result, now)
	case MainPostCombat:
		m.handlePostCombat(now)
	case MainOneTeleWaiting:
		m.handleOneTeleWaiting(result, now)
	case MainHalted:
		// no-op: only EventHalt's counterpart (a future EventResume) would leave this state.
	}
}

func (m *MainLoop) handleSearching(result detection.Result, now time.Time) {
	if result.InCombat || len(result.Monsters) == 0 {
		return
	}
	target := m.selectTarget(result)
	enforceGuard := !m.firstSearchClick
	if m.hooks.ClickMonster != nil {
		m.hooks.ClickMonster(target, enforceGuard)
	}
	m.firstSearchClick = false
	m.timers.AttackGraceUntil = now.Add(m.params.AttackGrace)
	m.transition(MainApproaching, "monster_clicked")
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindTargetClicked, Payload: target})
	}
}

// selectTarget picks the monster to click (spec.md §4.4/§4.6.c): on a
// confident read (enough candidates, large enough blobs), prefer whichever
// sits closest to the active ROI's center; on a low-confidence read (few or
// small candidates), a distance ranking is unreliable, so prefer the
// largest-area candidate instead, when LowConfidenceClickEnabled allows it.
func (m *MainLoop) selectTarget(result detection.Result) detection.MonsterObservation {
	monsters := result.Monsters
	largest := monsters[0]
	for _, mo := range monsters[1:] {
		if mo.Area > largest.Area {
			largest = mo
		}
	}

	if m.params.LowConfidenceClickEnabled {
		lowCount := m.params.LowConfMinCount > 0 && len(monsters) < m.params.LowConfMinCount
		lowArea := m.params.LowConfidenceAreaThreshold > 0 && largest.Area < m.params.LowConfidenceAreaThreshold
		if lowCount || lowArea {
			return largest
		}
	}

	center := geometry.Center(result.ActiveROI)
	nearest := monsters[0]
	best := geometry.Point{X: nearest.Center.X, Y: nearest.Center.Y}.DistSquared(center)
	for _, mo := range monsters[1:] {
		d := geometry.Point{X: mo.Center.X, Y: mo.Center.Y}.DistSquared(center)
		if d < best {
			best = d
			nearest = mo
		}
	}
	return nearest
}

// syncWeaponStyle keeps the equipped weapon in step with the Detection
// Engine's combat-style read while in Multi-Monster mode (spec.md §4.6.b):
// switch only when the reported style actually changes.
func (m *MainLoop) syncWeaponStyle(result detection.Result) {
	if result.CombatStyle == "" || m.hooks.DetectWeaponStyle == nil || m.hooks.SwitchWeapon == nil {
		return
	}
	want := CombatStyle(result.CombatStyle)
	current := m.hooks.DetectWeaponStyle()
	if current == want {
		m.lastWeaponStyle = want
		return
	}
	if m.lastWeaponStyle == want {
		return
	}
	m.hooks.SwitchWeapon(want)
	m.lastWeaponStyle = want
}

func (m *MainLoop) handleApproaching(result detection.Result, now time.Time) {
	if result.InCombat {
		m.transition(MainAttacking, "combat_confirmed")
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Kind: eventbus.KindCombatEntered})
		}
		return
	}
	if now.After(m.timers.AttackGraceUntil) {
		// Grace period expired without combat confirmation; re-search.
		m.transition(MainSearching, "attack_grace_expired")
	}
}

func (m *MainLoop) handleAttacking(result detection.Result, now time.Time) {
	if m.params.Mode == SubModeOneTeleOneKill && !m.timers.HPVerifyDeadlineSet {
		m.timers.HPVerifyDeadline = now.Add(m.params.OneTeleOneKillHPTimeout)
		m.timers.HPVerifyDeadlineSet = true
	}

	if result.InCombat {
		return
	}

	timedOut := now.Sub(m.timers.LastCombatSeenAt) > m.params.CombatNotSeenTimeout
	if !timedOut {
		return
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindCombatExited})
	}

	switch m.params.Mode {
	case SubModeOneTeleOneKill:
		if m.timers.HPVerifyDeadlineSet && now.After(m.timers.HPVerifyDeadline) {
			if m.hooks.FireOneTeleport != nil {
				m.hooks.FireOneTeleport()
			}
			m.timers.HPVerifyDeadlineSet = false
			m.transition(MainOneTeleWaiting, "hp_timeout_teleport_fired")
			return
		}
	}

	delay := jitteredPostCombat(m.rng, m.params.PostCombatDelayMin, m.params.PostCombatDelayMax)
	m.timers.PostCombatUntil = now.Add(delay)
	m.transition(MainPostCombat, "combat_ended")
}

func (m *MainLoop) handlePostCombat(now time.Time) {
	if now.After(m.timers.PostCombatUntil) {
		m.transition(MainSearching, "post_combat_elapsed")
	}
}

// handleOneTeleWaiting waits for the teleport's follow-on tile detection
// (spec.md §4.6.a): once a fresh tile reappears, re-enter Searching.
func (m *MainLoop) handleOneTeleWaiting(result detection.Result, now time.Time) {
	if result.TileFound && !result.TileFromPersistence {
		m.transition(MainSearching, "post_teleport_tile_seen")
	}
}

func jitteredPostCombat(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rng.Int63n(int64(span)))
}

func (m *MainLoop) transition(next MainState, reason string) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	if next == MainSearching {
		m.firstSearchClick = true
	}
	m.logger.Debug("statemachine: main loop transition", "from", prev.String(), "to", next.String(), "reason", reason)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindStateTransitioned, Payload: Transition{Prev: prev.String(), Next: next.String(), Reason: reason}})
	}
	for _, l := range m.listeners {
		l(prev, next)
	}
}

// Transition is the payload published on KindStateTransitioned.
type Transition struct {
	Prev, Next, Reason string
}
