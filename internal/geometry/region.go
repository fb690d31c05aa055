// Package geometry implements the ROI/point/rectangle primitives shared by
// capture, color detection, and the control loops.
package geometry

import "image"

// Mode tags how a Region's coordinates must be interpreted relative to the
// focused window before use.
type Mode int

const (
	// ModeAbsolute means Left/Top/Width/Height are already in screen space.
	ModeAbsolute Mode = iota
	// ModeRelative means Left/Top are offsets added to the window's bbox.
	ModeRelative
	// ModePercent means Left/Top/Width/Height are percentages (0..100) of the
	// window's bbox.
	ModePercent
)

// Region is a rectangle with a coordinate mode. Zero value is invalid; use
// NewRegion or construct with positive Width/Height.
type Region struct {
	Left, Top, Width, Height int
	Mode                     Mode
}

// Valid reports whether the region has positive dimensions.
func (r Region) Valid() bool { return r.Width > 0 && r.Height > 0 }

// Resolve normalizes r to absolute screen coordinates given the current
// focused-window bounding box. Absolute regions pass through unchanged.
//
// As a defensive heuristic (spec.md §4.3 "Active-region resolution policy"),
// a region tagged absolute whose Left/Top/Width/Height all fit inside the
// window's dimensions is treated as if it had been window-relative — this
// catches the common authoring mistake of forgetting to set Mode.
func (r Region) Resolve(windowBBox image.Rectangle) image.Rectangle {
	switch r.Mode {
	case ModePercent:
		ww, wh := windowBBox.Dx(), windowBBox.Dy()
		left := windowBBox.Min.X + int(float64(r.Left)/100*float64(ww))
		top := windowBBox.Min.Y + int(float64(r.Top)/100*float64(wh))
		w := int(float64(r.Width) / 100 * float64(ww))
		h := int(float64(r.Height) / 100 * float64(wh))
		return image.Rect(left, top, left+w, top+h)
	case ModeRelative:
		left := windowBBox.Min.X + r.Left
		top := windowBBox.Min.Y + r.Top
		return image.Rect(left, top, left+r.Width, top+r.Height)
	default: // ModeAbsolute
		if r.looksWindowRelative(windowBBox) {
			left := windowBBox.Min.X + r.Left
			top := windowBBox.Min.Y + r.Top
			return image.Rect(left, top, left+r.Width, top+r.Height)
		}
		return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
	}
}

// looksWindowRelative is the re-interpretation heuristic: the region's
// extent fits entirely within the window's own dimensions but its absolute
// origin would fall far outside the window, suggesting the author meant
// window-relative coordinates.
func (r Region) looksWindowRelative(windowBBox image.Rectangle) bool {
	if r.Left < 0 || r.Top < 0 {
		return false
	}
	ww, wh := windowBBox.Dx(), windowBBox.Dy()
	withinWindowExtent := r.Left+r.Width <= ww && r.Top+r.Height <= wh
	if !withinWindowExtent {
		return false
	}
	abs := image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
	return !abs.Overlaps(windowBBox)
}

// Point is an absolute screen coordinate unless documented otherwise by the
// caller (color detector internals use ROI-local points before converting).
type Point struct{ X, Y int }

// DistSquared returns the squared Euclidean distance between two points,
// avoiding a sqrt for hot-path comparisons (spec.md §3 MonsterObservation).
func (p Point) DistSquared(o Point) float64 {
	dx := float64(p.X - o.X)
	dy := float64(p.Y - o.Y)
	return dx*dx + dy*dy
}

// Center returns the center point of a rectangle.
func Center(r image.Rectangle) Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// ClampPoint returns p clamped to lie within r (spec.md §4.4 clamp_to_search_roi).
func ClampPoint(p Point, r image.Rectangle) Point {
	x, y := p.X, p.Y
	if x < r.Min.X {
		x = r.Min.X
	} else if x >= r.Max.X {
		x = r.Max.X - 1
	}
	if y < r.Min.Y {
		y = r.Min.Y
	} else if y >= r.Max.Y {
		y = r.Max.Y - 1
	}
	return Point{X: x, Y: y}
}

// Contains reports whether p lies within r (exclusive max, matching
// image.Rectangle convention).
func Contains(r image.Rectangle, p Point) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// SquareWindow returns a square region of the given radius centered on c,
// clipped to bounds (spec.md §4.3 "around_tile_radius").
func SquareWindow(c Point, radius int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(c.X-radius, c.Y-radius, c.X+radius, c.Y+radius)
	return r.Intersect(bounds)
}
