package detection

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/exp/slices"

	"github.com/kvassilev/tilebot/internal/capture"
	"github.com/kvassilev/tilebot/internal/colordet"
	"github.com/kvassilev/tilebot/internal/geometry"
)

// StyleColor pairs a combat-style label with the ColorSpec that signals it,
// used for the combat-style indicator read (spec.md §3's combat_style /
// combat_style_counts), independent of Multi-Monster mode's own per-monster
// weapon-style read (internal/statemachine's StyleCandidate).
type StyleColor struct {
	Style string
	Color colordet.ColorSpec
	MinPixels int
}

// Params bundles the per-cycle tuning knobs the Detection Engine needs from
// config.Config, avoiding a direct import cycle between detection and
// config (config imports colordet; detection stays a pure consumer of
// colordet + capture + its own types).
type Params struct {
	TileColor      colordet.ColorSpec
	MonsterColors  []colordet.ColorSpec
	HPBarColor     colordet.ColorSpec

	TileMinArea    float64
	MonsterMinArea float64
	HPBarMinArea   float64
	HPBarMinPixelMatches int

	AroundTileRadius   int
	ROIMaxExpansion    int
	ROIExpansionFactor float64
	EnableFullFallback bool

	SubsampleStep int
	UsePrecise    bool

	// Combat gating (spec.md §4.3's Combat Detector hysteresis).
	CombatNotSeenTimeout      time.Duration
	CombatLeaveImmediately    bool
	SkipDetectionWhenInCombat bool

	// Combat-style indicator (spec.md §3's combat_style/combat_style_counts).
	CombatStyles []StyleColor
}

// combatHysteresis tracks the Combat Detector's debounce window across
// cycles: combat state does not flip on a single missed/seen frame, matching
// spec.md §4.3's "combat_not_seen_timeout_s" design. Guarded by Engine.mu
// since Detect may be called from different goroutines across Main Loop and
// Instance Mode (spec.md §5's shared-resource policy).
type combatHysteresis struct {
	lastSeenAt time.Time
	inCombat   bool
}

// Engine is the Detection Engine (spec.md §4.3). Zero value is not usable;
// use New.
type Engine struct {
	logger  *slog.Logger
	cap     *capture.Service
	persist *PersistenceCache

	mu     sync.Mutex
	combat combatHysteresis
}

// New builds a Detection Engine.
func New(logger *slog.Logger, cap *capture.Service, persist *PersistenceCache) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, cap: cap, persist: persist}
}

// updateCombatHysteresis folds a raw per-cycle HP-seen observation into the
// debounced InCombat flag: any HP-seen immediately (re)arms combat; leaving
// combat is either immediate (CombatLeaveImmediately) or gated on
// CombatNotSeenTimeout of continuous non-seen, per spec.md §4.3.
func (e *Engine) updateCombatHysteresis(hpSeen bool, p Params, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hpSeen {
		e.combat.lastSeenAt = now
		e.combat.inCombat = true
		return true
	}
	if !e.combat.inCombat {
		return false
	}
	if p.CombatLeaveImmediately || now.Sub(e.combat.lastSeenAt) >= p.CombatNotSeenTimeout {
		e.combat.inCombat = false
		return false
	}
	return true
}

// Detect runs one full detection cycle over searchROI (already resolved to
// absolute screen coordinates): an early combat read (optionally short-
// circuiting the rest of the cycle), a single tile-detection pass (no
// widened-tolerance retry), windowed monster detection around each detected
// tile with ROI expansion (or a full-ROI fallback scan), a combat-style
// read, and a final combat refresh.
// Matches spec.md §4.3's overall detect() pipeline steps 1-10.
func (e *Engine) Detect(searchROI, hpBarROI, combatStyleROI image.Rectangle, p Params) (Result, error) {
	result := NewResult()
	result.ActiveROI = searchROI
	start := result.CapturedAt

	earlyHPSeen, err := e.detectCombat(hpBarROI, p)
	if err != nil {
		e.logger.Warn("detection: combat detection failed", "error", err)
	}
	result.HPSeen = earlyHPSeen
	result.InCombat = e.updateCombatHysteresis(earlyHPSeen, p, start)

	// spec.md §4.3 step 3: in combat, a caller may choose to skip the
	// (expensive) tile/monster scan entirely rather than waste cycles on a
	// region the player has already left the lobby for.
	if result.InCombat && p.SkipDetectionWhenInCombat {
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}

	frame, err := e.cap.Capture(searchROI)
	if err != nil {
		e.logger.Error("detection: capture failed", "error", err)
		return result, err
	}
	result.CapturedAt = frame.Taken

	roiMat, err := gocv.ImageToMatRGB(frame.Img)
	if err != nil {
		e.logger.Error("detection: frame to mat failed", "error", err)
		return result, err
	}
	defer roiMat.Close()

	tileCenters, tileFresh := e.detectTiles(&roiMat, p)
	centers, tileOK, fromPersist := e.persist.TileOrPersisted("tile", tileCenters, tileFresh)
	result.TileFound = tileOK
	result.TileFromPersistence = fromPersist
	absCenters := make([]image.Point, len(centers))
	for i, c := range centers {
		absCenters[i] = toAbsolute(c, searchROI.Min)
	}
	result.Tiles = absCenters
	if tileOK {
		result.TileCenter = absCenters[0]
	}

	var freshMonsters []MonsterObservation
	var byTile []TileMonsterCount
	if tileOK {
		for _, center := range centers {
			var found []MonsterObservation
			radius := p.AroundTileRadius
			for level := 0; ; level++ {
				windowRect := geometry.SquareWindow(
					geometry.Point{X: center.X, Y: center.Y},
					radius,
					image.Rect(0, 0, roiMat.Cols(), roiMat.Rows()),
				)
				window := roiMat.Region(windowRect)
				found = e.detectMonsters(&roiMat, &window, windowRect.Min, true, p)
				window.Close()
				if len(found) > 0 || level >= p.ROIMaxExpansion || p.ROIExpansionFactor <= 1 {
					break
				}
				radius = int(float64(radius) * p.ROIExpansionFactor)
			}
			absTile := toAbsolute(center, searchROI.Min)
			for i := range found {
				// ROI-local; shifted to screen space with Center below.
				found[i].TileCenter = center
			}
			freshMonsters = append(freshMonsters, found...)
			byTile = append(byTile, TileMonsterCount{Tile: absTile, Count: len(found)})
		}
	} else if p.EnableFullFallback {
		freshMonsters = e.detectMonsters(&roiMat, nil, image.Point{}, false, p)
	}

	monsters, monstersFromPersist := e.persist.MonstersOrPersisted("monsters", freshMonsters)
	monsters = append([]MonsterObservation(nil), monsters...) // keep the cached slice ROI-local
	for i := range monsters {
		monsters[i].Center = addPoint(monsters[i].Center, searchROI.Min)
		if monsters[i].TileCenter != (image.Point{}) {
			monsters[i].TileCenter = addPoint(monsters[i].TileCenter, searchROI.Min)
		}
	}
	slices.SortFunc(monsters, func(a, b MonsterObservation) int {
		switch {
		case a.DistSq < b.DistSq:
			return -1
		case a.DistSq > b.DistSq:
			return 1
		default:
			return 0
		}
	})
	result.Monsters = monsters
	result.MonstersFromPersistence = monstersFromPersist
	result.MonstersByTile = byTile

	if combatStyleROI.Dx() > 0 && combatStyleROI.Dy() > 0 && len(p.CombatStyles) > 0 {
		style, counts, err := e.detectCombatStyle(combatStyleROI, p)
		if err != nil {
			e.logger.Warn("detection: combat style detection failed", "error", err)
		}
		result.CombatStyle = style
		result.CombatStyleCounts = counts
	}

	// spec.md §4.3 step 9: refresh the HP-bar read once more after the
	// (potentially slow) tile/monster scan so InCombat reflects the most
	// current frame, not the one sampled before the scan began.
	finalHPSeen, err := e.detectCombat(hpBarROI, p)
	if err != nil {
		e.logger.Warn("detection: combat detection failed", "error", err)
	} else {
		result.HPSeen = finalHPSeen
		result.InCombat = e.updateCombatHysteresis(finalHPSeen, p, time.Now())
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

// detectTiles runs one tile-mask pass at the configured subsample step and
// tolerances. No adaptive-search re-scan with widened tolerances is made,
// here or by any caller. Returns every qualifying tile blob's center,
// largest area first, matching spec.md §3's tiles: [Point].
func (e *Engine) detectTiles(roiMat *gocv.Mat, p Params) ([]image.Point, bool) {
	mask, err := colordet.BuildMaskBroad(roiMat, p.TileColor, p.SubsampleStep, false)
	if err != nil {
		e.logger.Error("detection: tile mask failed", "error", err)
		return nil, false
	}
	defer mask.Close()

	blobs := colordet.ExtractBlobs(mask, p.TileMinArea)
	if len(blobs) == 0 {
		return nil, false
	}
	slices.SortFunc(blobs, func(a, b colordet.Blob) int {
		switch {
		case a.Area > b.Area:
			return -1
		case a.Area < b.Area:
			return 1
		default:
			return 0
		}
	})
	out := make([]image.Point, len(blobs))
	for i, b := range blobs {
		out[i] = scalePoint(b.Center, p.SubsampleStep)
	}
	return out, true
}

// detectMonsters scans either the tile-centered window (preferred) or, when
// no tile was found and EnableFullFallback is set, the entire ROI (spec.md
// §4.3 "full-ROI fallback scan").
func (e *Engine) detectMonsters(fullROI *gocv.Mat, window *gocv.Mat, windowOrigin image.Point, tileOK bool, p Params) []MonsterObservation {
	target := fullROI
	origin := image.Point{}
	if tileOK && window != nil {
		target = window
		origin = windowOrigin
	} else if !p.EnableFullFallback {
		return nil
	}

	mask, err := colordet.BuildMaskMulti(target, p.MonsterColors, p.SubsampleStep, &p.TileColor, 3)
	if err != nil {
		e.logger.Error("detection: monster mask failed", "error", err)
		return nil
	}
	defer mask.Close()

	blobs := colordet.ExtractBlobs(mask, p.MonsterMinArea)
	out := make([]MonsterObservation, 0, len(blobs))
	refCenter := geometry.Point{X: origin.X + target.Cols()/2, Y: origin.Y + target.Rows()/2}
	for _, b := range blobs {
		c := scalePoint(b.Center, p.SubsampleStep)
		c = addPoint(c, origin)
		gc := geometry.Point{X: c.X, Y: c.Y}
		out = append(out, MonsterObservation{
			Center: c,
			Area:   b.Area,
			DistSq: gc.DistSquared(refCenter),
		})
	}
	return out
}

// detectCombat runs the HP-bar mask and reports whether combat pixels are
// currently present: spec.md §4.3 defines "HP seen" as the pixel count
// clearing HPBarMinPixelMatches AND at least one qualifying contour, not
// contour presence alone (a single stray pixel surviving morphology
// shouldn't flip combat state). Returns the raw per-cycle observation; the
// caller runs it through updateCombatHysteresis for the debounced flag.
func (e *Engine) detectCombat(hpBarROI image.Rectangle, p Params) (bool, error) {
	if hpBarROI.Dx() <= 0 || hpBarROI.Dy() <= 0 {
		return false, nil
	}
	frame, err := e.cap.Capture(hpBarROI)
	if err != nil {
		return false, err
	}
	mat, err := gocv.ImageToMatRGB(frame.Img)
	if err != nil {
		return false, err
	}
	defer mat.Close()

	var mask colordet.Mask
	if p.UsePrecise {
		mask, err = colordet.BuildMaskPreciseSmall(&mat, p.HPBarColor, 12, 60, 60, 3)
	} else {
		mask, err = colordet.BuildMaskBroad(&mat, p.HPBarColor, 1, false)
	}
	if err != nil {
		return false, err
	}
	defer mask.Close()

	count := mask.CountNonZero()
	blobs := colordet.ExtractBlobs(mask, p.HPBarMinArea)
	return count >= p.HPBarMinPixelMatches && len(blobs) > 0, nil
}

// detectCombatStyle samples combatStyleROI against each configured style
// color and reports both the winning style (most matching pixels clearing
// its MinPixels) and the raw per-style pixel counts, matching spec.md §3's
// combat_style / combat_style_counts debug surface.
func (e *Engine) detectCombatStyle(combatStyleROI image.Rectangle, p Params) (string, map[string]int, error) {
	frame, err := e.cap.Capture(combatStyleROI)
	if err != nil {
		return "", nil, err
	}
	mat, err := gocv.ImageToMatRGB(frame.Img)
	if err != nil {
		return "", nil, err
	}
	defer mat.Close()

	counts := make(map[string]int, len(p.CombatStyles))
	best := ""
	bestCount := -1
	for _, sc := range p.CombatStyles {
		mask, err := colordet.BuildMaskBroad(&mat, sc.Color, 1, false)
		if err != nil {
			continue
		}
		count := mask.CountNonZero()
		mask.Close()
		counts[sc.Style] = count
		if count >= sc.MinPixels && count > bestCount {
			bestCount = count
			best = sc.Style
		}
	}
	return best, counts, nil
}

func largestBlob(blobs []colordet.Blob) colordet.Blob {
	best := blobs[0]
	for _, b := range blobs[1:] {
		if b.Area > best.Area {
			best = b
		}
	}
	return best
}

func scalePoint(p image.Point, step int) image.Point {
	if step <= 1 {
		return p
	}
	return image.Pt(p.X*step, p.Y*step)
}

func addPoint(p, origin image.Point) image.Point {
	return image.Pt(p.X+origin.X, p.Y+origin.Y)
}

func toAbsolute(p, roiOrigin image.Point) image.Point {
	return image.Pt(p.X+roiOrigin.X, p.Y+roiOrigin.Y)
}
