// Package detection implements the Detection Engine from spec.md §4.3:
// single-pass tile detection (no adaptive-search retry), windowed monster
// detection with ROI expansion, temporal persistence, and combat detection. Orchestration is
// grounded on _examples/original_source/rspsbot/core/detection/detector.py's
// overall pipeline (capture -> tile -> monster -> combat), reimplemented
// atop this module's own colordet/capture primitives rather than ported
// line-for-line.
package detection

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// MonsterObservation is one detected monster candidate (spec.md §3).
type MonsterObservation struct {
	Center   image.Point
	Area     float64
	DistSq   float64 // squared distance to the reference tile/ROI center
	TileCenter image.Point // the tile this monster's window was scanned around
}

// CombatTimers tracks deadline timestamps for combat-phase pacing (spec.md
// §4.6): attack grace and post-combat cooldown are both "now + duration"
// deadlines rather than countdowns, so irregular tick periods never skew
// them (spec.md's own rationale for deadline-based timers).
type CombatTimers struct {
	AttackGraceUntil     time.Time
	PostCombatUntil      time.Time
	LastCombatSeenAt     time.Time
	HPVerifyDeadline     time.Time // armed by 1-Tele-1-Kill; see DESIGN.md Open Question #1
	HPVerifyDeadlineSet  bool
}

// InstanceTimers tracks Instance Mode's deadline timestamps (spec.md §4.7).
type InstanceTimers struct {
	NextAggroAt          time.Time
	PostAggroVerifyUntil time.Time
	PostTeleportVerifyUntil time.Time
	TeleportRetryCount   int
	LastHPSeenAt         time.Time // last tick result.InCombat was true, while Fighting
}

// TileMonsterCount pairs a detected tile center with how many monsters were
// attributed to its window, matching spec.md §3's monsters_by_tile.
type TileMonsterCount struct {
	Tile  image.Point
	Count int
}

// Result is the Detection Engine's per-cycle output (spec.md §3
// DetectionResult), carrying a correlation ID for log tracing across the
// capture -> detect -> act pipeline (google/uuid, per SPEC_FULL's domain
// stack section).
type Result struct {
	CorrelationID string

	ActiveROI image.Rectangle

	TileFound           bool
	TileCenter           image.Point
	TileFromPersistence  bool
	Tiles                []image.Point

	Monsters             []MonsterObservation
	MonstersFromPersistence bool
	MonstersByTile       []TileMonsterCount

	// HPSeen is the raw per-cycle HP-bar observation; InCombat is HPSeen run
	// through the Combat Detector's hysteresis (combat_leave_immediately /
	// combat_not_seen_timeout_s) so single missed frames don't flip it.
	HPSeen   bool
	InCombat bool

	CombatStyle       string
	CombatStyleCounts map[string]int

	CapturedAt time.Time
	ElapsedMs  int64
}

// NewResult returns a Result stamped with a fresh correlation ID.
func NewResult() Result {
	return Result{CorrelationID: uuid.NewString(), CapturedAt: time.Now()}
}
