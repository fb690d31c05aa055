// Package action implements the Action Dispatcher from spec.md §4.4:
// move_and_click with a human-like intermediate path, an anti-overclick
// guard, ROI clamping, key/hotkey presses, and a named-action registry with
// cooldown/priority and pre/post hooks. Grounded on the teacher's
// domain/action/actions_windows.go (ClickRight/MoveCursor/PressKey shape)
// and FlyffBot's movement.go (HoldKey/ReleaseKey/WaitRandom humanized
// timing), generalized to go-vgo/robotgo for cross-platform input synthesis.
package action

import (
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/kvassilev/tilebot/internal/geometry"
)

// Dispatcher is the Action Dispatcher. Zero value is not usable; use New.
type Dispatcher struct {
	logger *slog.Logger
	rng    *rand.Rand

	mu          sync.Mutex
	lastClickAt time.Time
	registry    map[string]*namedAction

	// Anti-overclick guard window (spec.md §8 testable property #7: purely
	// time-based — no two clicks occur within minCooldown, regardless of
	// target). Callers that need the guard disabled (the state machine's
	// first post-cooldown click, spec.md §4.6.c.d) pass enforceGuard=false
	// to MoveAndClick.
	minCooldown time.Duration

	// click_delay / click_variation (spec.md §4.4): base inter-click delay
	// and its randomization spread for multi-click MoveAndClick calls.
	clickDelay            time.Duration
	clickVariationPercent float64
}

// namedAction is one registered entry in the action registry (spec.md §4.4
// "named-action registry"): a callable bound to a cooldown/priority and
// optional pre/post hooks, keyed by name (e.g. "attack", "loot", "teleport").
type namedAction struct {
	name       string
	priority   int
	cooldown   time.Duration
	lastFired  time.Time
	pre        func()
	post       func()
	run        func() error
}

// New builds an Action Dispatcher. minCooldown is the anti-overclick guard's
// window (spec.md §8 testable property #7); clickDelay/clickVariationPercent
// configure MoveAndClick's inter-click pacing for multi-click calls (spec.md
// §4.4's click_delay · (1 ± click_variation%)).
func New(logger *slog.Logger, minCooldown, clickDelay time.Duration, clickVariationPercent float64) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:                logger,
		rng:                   rand.New(rand.NewSource(time.Now().UnixNano())),
		registry:              make(map[string]*namedAction),
		minCooldown:           minCooldown,
		clickDelay:            clickDelay,
		clickVariationPercent: clickVariationPercent,
	}
}

// shouldSuppressClick applies the anti-overclick guard under lock: purely
// time-based per spec.md §8's testable property #7 — no two clicks occur
// within minCooldown, regardless of how far apart their targets are.
func (d *Dispatcher) shouldSuppressClick(now time.Time) bool {
	if d.lastClickAt.IsZero() {
		return false
	}
	return now.Sub(d.lastClickAt) < d.minCooldown
}

// MoveAndClick implements spec.md §4.4's move_and_click: clamps target into
// the resolved search ROI, walks a human-like multi-point path to it (see
// path.go), and issues clicks presses of button, each separated by a
// randomized click_delay. enforceGuard lets the caller (the state machine)
// opt out of the anti-overclick guard for its first post-cooldown click,
// per spec.md §4.6.c.d and §9's design notes — pacing is already owned by
// the FSM at that point, so the guard would only ever misfire there.
func (d *Dispatcher) MoveAndClick(target geometry.Point, roiBounds image.Rectangle, button string, clicks int, enforceGuard bool) error {
	clamped := geometry.ClampPoint(target, roiBounds)

	d.mu.Lock()
	now := time.Now()
	if enforceGuard && d.shouldSuppressClick(now) {
		d.mu.Unlock()
		d.logger.Debug("action: click suppressed by anti-overclick guard", "target", clamped)
		return nil
	}
	d.lastClickAt = now
	d.mu.Unlock()

	path := HumanPath(currentMousePosition(), clamped, 0)
	for i, p := range path {
		robotgo.Move(p.X, p.Y)
		if i < len(path)-1 {
			time.Sleep(stepDelay(d.rng))
		}
	}

	if button == "" {
		button = "left"
	}
	if clicks <= 0 {
		clicks = 1
	}
	for i := 0; i < clicks; i++ {
		robotgo.Click(button, false)
		if i < clicks-1 {
			time.Sleep(d.randomizedClickDelay())
		}
	}
	d.logger.Debug("action: clicked", "target", clamped, "button", button, "clicks", clicks)
	return nil
}

// randomizedClickDelay applies spec.md §4.4's click_delay · (1 ±
// click_variation%) jitter to the configured base inter-click delay.
func (d *Dispatcher) randomizedClickDelay() time.Duration {
	if d.clickDelay <= 0 {
		return 0
	}
	if d.clickVariationPercent <= 0 {
		return d.clickDelay
	}
	factor := 1 + (d.rng.Float64()*2-1)*(d.clickVariationPercent/100)
	v := time.Duration(float64(d.clickDelay) * factor)
	if v < 0 {
		v = 0
	}
	return v
}

func currentMousePosition() geometry.Point {
	x, y := robotgo.Location()
	return geometry.Point{X: x, Y: y}
}

// stepDelay returns a small jittered sleep between path waypoints, matching
// FlyffBot's WaitRandom(minMs, maxMs) pattern.
func stepDelay(rng *rand.Rand) time.Duration {
	return time.Duration(6+rng.Intn(10)) * time.Millisecond
}

// PressKey presses and releases a single key (spec.md §4.4 press_key),
// matching the teacher's PressKey(vk) down-sleep-up shape via robotgo.KeyTap.
func (d *Dispatcher) PressKey(key string) error {
	if err := robotgo.KeyTap(key); err != nil {
		d.logger.Error("action: press_key failed", "key", key, "error", err)
		return fmt.Errorf("action: press_key %q: %w", key, err)
	}
	return nil
}

// PressHotkey presses a key combination, e.g. PressHotkey("r", "ctrl")
// (spec.md §4.4 press_hotkey), used by the 1-Tele-1-Kill post-hotkey option.
func (d *Dispatcher) PressHotkey(key string, modifiers ...string) error {
	args := make([]interface{}, 0, len(modifiers))
	for _, m := range modifiers {
		args = append(args, m)
	}
	if err := robotgo.KeyTap(key, args...); err != nil {
		d.logger.Error("action: press_hotkey failed", "key", key, "modifiers", modifiers, "error", err)
		return fmt.Errorf("action: press_hotkey %q: %w", key, err)
	}
	return nil
}

// RegisterAction adds a named action to the registry (spec.md §4.4
// "named-action registry"), keyed by name with a priority and per-action
// cooldown. Re-registering a name overwrites the previous entry.
func (d *Dispatcher) RegisterAction(name string, priority int, cooldown time.Duration, pre, post func(), run func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry[name] = &namedAction{name: name, priority: priority, cooldown: cooldown, pre: pre, post: post, run: run}
}

// Fire executes a registered action by name if its cooldown has elapsed,
// running its pre/post hooks around run(). Returns false without error if
// the action is still on cooldown, and false with an error if name is not
// registered.
func (d *Dispatcher) Fire(name string) (bool, error) {
	d.mu.Lock()
	a, ok := d.registry[name]
	if !ok {
		d.mu.Unlock()
		return false, fmt.Errorf("action: no such registered action %q", name)
	}
	now := time.Now()
	if !a.lastFired.IsZero() && now.Sub(a.lastFired) < a.cooldown {
		d.mu.Unlock()
		return false, nil
	}
	a.lastFired = now
	d.mu.Unlock()

	if a.pre != nil {
		a.pre()
	}
	err := a.run()
	if a.post != nil {
		a.post()
	}
	if err != nil {
		d.logger.Error("action: registered action failed", "name", name, "error", err)
		return true, err
	}
	return true, nil
}

// HighestPriorityReady returns the name of the highest-priority registered
// action that is currently off cooldown, or "" if none are ready.
func (d *Dispatcher) HighestPriorityReady() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	best := ""
	bestPriority := -1 << 31
	for name, a := range d.registry {
		if !a.lastFired.IsZero() && now.Sub(a.lastFired) < a.cooldown {
			continue
		}
		if a.priority > bestPriority {
			bestPriority = a.priority
			best = name
		}
	}
	return best
}
