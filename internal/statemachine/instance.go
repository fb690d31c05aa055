package statemachine

import (
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/kvassilev/tilebot/internal/detection"
	"github.com/kvassilev/tilebot/internal/eventbus"
)

// InstanceState enumerates the Instance Mode FSM's states (spec.md §4.7).
type InstanceState int

const (
	InstanceIdle InstanceState = iota
	InstanceAwaitingAggro
	InstanceVerifyingAggro
	InstanceFighting
	InstanceAwaitingTeleport
	InstanceVerifyingTeleport
	InstanceFailed
)

func (s InstanceState) String() string {
	switch s {
	case InstanceIdle:
		return "idle"
	case InstanceAwaitingAggro:
		return "awaiting_aggro"
	case InstanceVerifyingAggro:
		return "verifying_aggro"
	case InstanceFighting:
		return "fighting"
	case InstanceAwaitingTeleport:
		return "awaiting_teleport"
	case InstanceVerifyingTeleport:
		return "verifying_teleport"
	case InstanceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AggroStrategy selects how the Instance Mode FSM decides when to refresh
// aggro (spec.md §4.7): by watching the aggro bar, by a fixed interval
// timer, or a hybrid of both (bar preferred, timer as a backstop).
type AggroStrategy int

const (
	AggroStrategyBar AggroStrategy = iota
	AggroStrategyTimer
	AggroStrategyHybrid
)

// InstanceParams are the timer/retry knobs lifted from config.Config.
type InstanceParams struct {
	Strategy AggroStrategy

	AggroInterval       time.Duration
	AggroStartDelay     time.Duration
	AggroJitterPercent  float64

	PostAggroHPWait     time.Duration
	PostTeleportHPWait  time.Duration
	HPTimeout           time.Duration

	TeleportMaxRetries int
	TokenDelay         time.Duration
}

// InstanceHooks externalize the OS interactions the Instance Mode FSM fires.
type InstanceHooks struct {
	FireAggroPotion func()
	FireToken       func()
	FireTeleport    func()
}

// InstanceListener is called on each successful Instance Mode transition.
type InstanceListener func(prev, next InstanceState)

// InstanceFSM is the Instance Mode FSM. Zero value is not usable; use
// NewInstanceFSM.
type InstanceFSM struct {
	logger *slog.Logger
	bus    *eventbus.Bus
	params InstanceParams
	hooks  InstanceHooks
	rng    *rand.Rand

	state     InstanceState
	events    chan any
	listeners []InstanceListener

	timers detection.InstanceTimers
	closed bool
}

// NewInstanceFSM constructs and starts the Instance Mode FSM.
func NewInstanceFSM(logger *slog.Logger, bus *eventbus.Bus, params InstanceParams, hooks InstanceHooks) *InstanceFSM {
	if logger == nil {
		logger = slog.Default()
	}
	f := &InstanceFSM{
		logger: logger,
		bus:    bus,
		params: params,
		hooks:  hooks,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		state:  InstanceIdle,
		events: make(chan any, 64),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("statemachine: instance fsm panic", "error", r, "stack", string(debug.Stack()))
				if bus != nil {
					bus.Publish(eventbus.Event{Kind: eventbus.KindErrorOccurred, Payload: r})
				}
			}
		}()
		f.loop()
	}()
	return f
}

func (f *InstanceFSM) AddListener(l InstanceListener) { f.events <- evtInstAddListener{l: l} }
func (f *InstanceFSM) Current() InstanceState          { return f.state }
func (f *InstanceFSM) Close()                          { close(f.events) }

// EventStart begins the instance cycle, arming the first aggro deadline
// after AggroStartDelay (spec.md §4.7).
func (f *InstanceFSM) EventStart(now time.Time) { f.events <- evtInstStart{now: now} }

// EventTick drives one detection cycle's result through the FSM.
func (f *InstanceFSM) EventTick(result detection.Result, now time.Time) {
	f.events <- evtInstTick{result: result, now: now}
}

type (
	evtInstAddListener struct{ l InstanceListener }
	evtInstStart        struct{ now time.Time }
	evtInstTick          struct {
		result detection.Result
		now    time.Time
	}
)

func (f *InstanceFSM) loop() {
	for ev := range f.events {
		switch e := ev.(type) {
		case evtInstAddListener:
			f.listeners = append(f.listeners, e.l)
		case evtInstStart:
			f.timers.NextAggroAt = e.now.Add(f.params.AggroStartDelay)
			f.transition(InstanceAwaitingAggro, "start")
		case evtInstTick:
			f.handleTick(e.result, e.now)
		}
	}
	f.closed = true
}

func (f *InstanceFSM) handleTick(result detection.Result, now time.Time) {
	switch f.state {
	case InstanceIdle:
		// no-op until EventStart
	case InstanceAwaitingAggro:
		f.handleAwaitingAggro(now)
	case InstanceVerifyingAggro:
		f.handleVerifyingAggro(result, now)
	case InstanceFighting:
		f.handleFighting(result, now)
	case InstanceAwaitingTeleport:
		f.handleAwaitingTeleport(now)
	case InstanceVerifyingTeleport:
		f.handleVerifyingTeleport(result, now)
	case InstanceFailed:
		// terminal until an external EventStart restarts the cycle.
	}
}

// handleAwaitingAggro fires the aggro action once NextAggroAt passes. Every
// strategy (bar, timer, hybrid) fires on this deadline alone; the tick's
// detection result is not read, and no aggro-bar observation is consulted.
func (f *InstanceFSM) handleAwaitingAggro(now time.Time) {
	if now.Before(f.timers.NextAggroAt) {
		return
	}
	if f.hooks.FireAggroPotion != nil {
		f.hooks.FireAggroPotion()
	}
	f.timers.PostAggroVerifyUntil = now.Add(f.params.PostAggroHPWait)
	f.transition(InstanceVerifyingAggro, "aggro_deadline_reached")
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Kind: eventbus.KindInstanceAggroFired})
	}
}

func (f *InstanceFSM) handleVerifyingAggro(result detection.Result, now time.Time) {
	if result.InCombat {
		f.timers.LastHPSeenAt = now
		f.armNextAggro(now)
		f.transition(InstanceFighting, "combat_confirmed")
		return
	}
	if now.After(f.timers.PostAggroVerifyUntil) {
		// No combat confirmed within the wait window; retry the aggro action
		// immediately. This repeats on every verify timeout, with no retry
		// limit and no escalation to teleport.
		f.timers.NextAggroAt = now
		f.transition(InstanceAwaitingAggro, "aggro_verify_timeout")
	}
}

func (f *InstanceFSM) armNextAggro(now time.Time) {
	switch f.params.Strategy {
	case AggroStrategyTimer, AggroStrategyHybrid:
		jittered := jitterInterval(f.rng, f.params.AggroInterval, f.params.AggroJitterPercent)
		f.timers.NextAggroAt = now.Add(jittered)
	case AggroStrategyBar:
		// Bar strategy re-arms when the aggro bar itself is observed empty;
		// the caller's detection result does not currently surface that
		// signal, so the timer is left as a backstop at the configured
		// interval rather than left unset.
		f.timers.NextAggroAt = now.Add(f.params.AggroInterval)
	}
}

func jitterInterval(rng *rand.Rand, base time.Duration, percent float64) time.Duration {
	if percent <= 0 {
		return base
	}
	factor := 1 + (rng.Float64()*2-1)*(percent/100)
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		d = 0
	}
	return d
}

// handleFighting requires instance_hp_timeout of continuous no-HP before
// declaring the instance empty (spec.md §4.7 / scenario S5): a single missed
// HP-bar frame must not fire re-entry early.
func (f *InstanceFSM) handleFighting(result detection.Result, now time.Time) {
	if result.InCombat {
		f.timers.LastHPSeenAt = now
		return
	}
	if f.params.Strategy == AggroStrategyTimer || f.params.Strategy == AggroStrategyHybrid {
		if now.After(f.timers.NextAggroAt) {
			f.transition(InstanceAwaitingAggro, "aggro_interval_elapsed")
			return
		}
	}
	if now.Sub(f.timers.LastHPSeenAt) < f.params.HPTimeout {
		return
	}
	// Combat genuinely ended (target died). Begin re-entry via token+teleport.
	if f.hooks.FireToken != nil {
		f.hooks.FireToken()
	}
	f.timers.TeleportRetryCount = 0
	f.transition(InstanceAwaitingTeleport, "combat_ended")
}

func (f *InstanceFSM) handleAwaitingTeleport(now time.Time) {
	if f.hooks.FireTeleport != nil {
		f.hooks.FireTeleport()
	}
	f.timers.PostTeleportVerifyUntil = now.Add(f.params.PostTeleportHPWait)
	f.transition(InstanceVerifyingTeleport, "teleport_fired")
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Kind: eventbus.KindInstanceTeleported})
	}
}

// handleVerifyingTeleport implements a bounded teleport retry: Instance Mode skips tile/monster detection entirely and uses
// only HP-bar detection, so re-entry is confirmed once combat is seen again
// (not by tile reappearance); otherwise retry up to TeleportMaxRetries times
// before giving up into InstanceFailed. Each retry fires the teleport only,
// and no fallback aggro action is made before InstanceFailed.
func (f *InstanceFSM) handleVerifyingTeleport(result detection.Result, now time.Time) {
	if result.InCombat {
		f.timers.NextAggroAt = now.Add(f.params.AggroStartDelay)
		f.transition(InstanceAwaitingAggro, "reentry_confirmed")
		return
	}
	if now.After(f.timers.PostTeleportVerifyUntil) {
		if f.timers.TeleportRetryCount >= f.params.TeleportMaxRetries {
			f.transition(InstanceFailed, "teleport_retries_exhausted")
			return
		}
		f.timers.TeleportRetryCount++
		f.transition(InstanceAwaitingTeleport, "teleport_retry")
	}
}

func (f *InstanceFSM) transition(next InstanceState, reason string) {
	prev := f.state
	if prev == next {
		return
	}
	f.state = next
	f.logger.Debug("statemachine: instance fsm transition", "from", prev.String(), "to", next.String(), "reason", reason)
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Kind: eventbus.KindStateTransitioned, Payload: Transition{Prev: prev.String(), Next: next.String(), Reason: reason}})
	}
	for _, l := range f.listeners {
		l(prev, next)
	}
}
