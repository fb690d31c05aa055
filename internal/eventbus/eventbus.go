// Package eventbus implements the Event Bus from spec.md §4.8: a typed
// synchronous pub/sub with FIFO delivery per event kind and per-subscriber
// panic recovery. Grounded on the teacher's FishingFSM listener fan-out
// (domain/fishing/fsm.go: listeners []FishingStateListener, "for _, l :=
// range f.listeners { l(prev, next) }"), generalized from a single listener
// slice tied to one state transition to a map of typed event kinds, each
// with its own subscriber slice.
package eventbus

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Kind identifies one of spec.md §4.8's event categories.
type Kind string

const (
	KindDetectionCompleted Kind = "DETECTION_COMPLETED"
	KindCombatEntered      Kind = "COMBAT_ENTERED"
	KindCombatExited       Kind = "COMBAT_EXITED"
	KindTargetClicked      Kind = "TARGET_CLICKED"
	KindInstanceAggroFired Kind = "INSTANCE_AGGRO_FIRED"
	KindInstanceTeleported Kind = "INSTANCE_TELEPORTED"
	KindStateTransitioned  Kind = "STATE_TRANSITIONED"
	KindErrorOccurred      Kind = "ERROR_OCCURRED"
)

// Event is one published message: a Kind plus an arbitrary, kind-specific
// payload (e.g. a detection.Result, a statemachine.Transition).
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives one published Event. Handlers run synchronously on the
// publishing goroutine, in subscription order, matching the teacher's direct
// "for _, l := range listeners { l(...) }" fan-out rather than a worker pool.
type Handler func(Event)

// Bus is the Event Bus. Zero value is not usable; use New.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[Kind][]Handler
}

// New builds an Event Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subscribers: make(map[Kind][]Handler)}
}

// Subscribe registers h to receive every Event of kind, appended after any
// existing subscribers (FIFO delivery order, spec.md §4.8).
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], h)
}

// Publish delivers ev to every subscriber of ev.Kind in FIFO order. A
// handler that panics is recovered and logged; it does not stop delivery to
// the handlers after it (spec.md §4.8 "a failing subscriber must not corrupt
// delivery to other subscribers").
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.subscribers[ev.Kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: subscriber panic",
				"kind", ev.Kind, "error", r, "stack", string(debug.Stack()))
		}
	}()
	h(ev)
}
