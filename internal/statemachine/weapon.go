package statemachine

import (
	"gocv.io/x/gocv"

	"github.com/kvassilev/tilebot/internal/colordet"
)

// CombatStyle names a weapon/attack style, mirroring config.CombatStyle
// without importing the config package (statemachine stays a pure consumer
// of typed params, per the same import-cycle avoidance as MainLoopParams).
type CombatStyle string

const (
	StyleMelee  CombatStyle = "melee"
	StyleRanged CombatStyle = "ranged"
	StyleMagic  CombatStyle = "magic"
	StyleUnknown CombatStyle = ""
)

// StyleCandidate pairs a ColorSpec with the style it signals, matching
// spec.md MODULE EXPANSION's weapon/style detection for Multi-Monster mode
// (SPEC_FULL.md, grounded on
// _examples/original_source/rspsbot/core/detection/multi_monster_detector.py's
// monster_style_map: color -> style).
type StyleCandidate struct {
	Style CombatStyle
	Color colordet.ColorSpec
}

// DetectWeaponStyle samples a weapon ROI with the broad-mask primitive
// against each candidate in turn and returns the style of whichever color
// produced the most matching pixels above minPixels, or StyleUnknown if none
// qualify — the direct color sample path from multi_monster_detector.py's
// "assign combat style based on monster color".
func DetectWeaponStyle(roiBGR *gocv.Mat, candidates []StyleCandidate, minPixels int) CombatStyle {
	best := StyleUnknown
	bestCount := minPixels - 1
	for _, c := range candidates {
		mask, err := colordet.BuildMaskBroad(roiBGR, c.Color, 1, false)
		if err != nil {
			continue
		}
		count := mask.CountNonZero()
		mask.Close()
		if count > bestCount {
			bestCount = count
			best = c.Style
		}
	}
	return best
}

// DetectWeaponStylePrecise falls back to the Lab-assisted precise mask when
// the direct color sample is inconclusive (DetectWeaponStyle returned
// StyleUnknown), matching multi_monster_detector.py's documented fallback
// for dark weapon icons where a plain color box under-matches.
func DetectWeaponStylePrecise(roiBGR *gocv.Mat, candidates []StyleCandidate, minPixels int, deltaEMax float64) CombatStyle {
	best := StyleUnknown
	bestCount := minPixels - 1
	for _, c := range candidates {
		mask, err := colordet.BuildMaskPreciseSmall(roiBGR, c.Color, deltaEMax, 40, 40, 3)
		if err != nil {
			continue
		}
		count := mask.CountNonZero()
		mask.Close()
		if count > bestCount {
			bestCount = count
			best = c.Style
		}
	}
	return best
}
