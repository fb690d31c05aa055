package action

import (
	"math"
	"math/rand"
	"time"

	"github.com/kvassilev/tilebot/internal/geometry"
)

// HumanPath builds a human-like multi-point path from start to end, matching
// spec.md §4.4's "human-like mouse path" requirement. It places 2 random
// control points (3 when the distance exceeds 300 px) offset perpendicular to the straight line, then resamples
// the resulting Catmull-Rom spline at a fixed step count — the same
// intermediate-point idea FlyffBot's movement.go achieves with discrete
// hold/wait steps, generalized here to pixel-level mouse movement.
//
// seed selects the jitter deterministically for tests; pass 0 in production
// to use the current time.
func HumanPath(start, end geometry.Point, seed int64) []geometry.Point {
	if start == end {
		return []geometry.Point{end}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	dist := math.Sqrt(start.DistSquared(end))
	numControls := 2
	if dist > 300 {
		numControls = 3
	}

	dx := float64(end.X - start.X)
	dy := float64(end.Y - start.Y)
	length := math.Hypot(dx, dy)
	var nx, ny float64
	if length > 0 {
		nx, ny = -dy/length, dx/length
	}

	pts := make([]geometry.Point, 0, numControls+2)
	pts = append(pts, start)
	for i := 1; i <= numControls; i++ {
		t := float64(i) / float64(numControls+1)
		baseX := float64(start.X) + dx*t
		baseY := float64(start.Y) + dy*t
		jitterMag := (rng.Float64()*2 - 1) * math.Min(20, dist*0.08)
		pts = append(pts, geometry.Point{
			X: int(baseX + nx*jitterMag),
			Y: int(baseY + ny*jitterMag),
		})
	}
	pts = append(pts, end)

	return catmullRomResample(pts, stepsForDistance(dist))
}

func stepsForDistance(dist float64) int {
	steps := int(dist / 20)
	if steps < 4 {
		steps = 4
	}
	if steps > 24 {
		steps = 24
	}
	return steps
}

// catmullRomResample resamples a Catmull-Rom spline through ctrl at n evenly
// spaced parameter values per segment, producing a smooth path through the
// jittered control points.
func catmullRomResample(ctrl []geometry.Point, stepsPerSegment int) []geometry.Point {
	if len(ctrl) < 2 {
		return ctrl
	}
	get := func(i int) geometry.Point {
		if i < 0 {
			return ctrl[0]
		}
		if i >= len(ctrl) {
			return ctrl[len(ctrl)-1]
		}
		return ctrl[i]
	}

	out := make([]geometry.Point, 0, stepsPerSegment*(len(ctrl)-1)+1)
	for seg := 0; seg < len(ctrl)-1; seg++ {
		p0 := get(seg - 1)
		p1 := get(seg)
		p2 := get(seg + 1)
		p3 := get(seg + 2)
		for s := 0; s < stepsPerSegment; s++ {
			t := float64(s) / float64(stepsPerSegment)
			out = append(out, catmullRomPoint(p0, p1, p2, p3, t))
		}
	}
	out = append(out, ctrl[len(ctrl)-1])
	return out
}

func catmullRomPoint(p0, p1, p2, p3 geometry.Point, t float64) geometry.Point {
	t2 := t * t
	t3 := t2 * t
	x := 0.5 * ((2 * float64(p1.X)) +
		(-float64(p0.X)+float64(p2.X))*t +
		(2*float64(p0.X)-5*float64(p1.X)+4*float64(p2.X)-float64(p3.X))*t2 +
		(-float64(p0.X)+3*float64(p1.X)-3*float64(p2.X)+float64(p3.X))*t3)
	y := 0.5 * ((2 * float64(p1.Y)) +
		(-float64(p0.Y)+float64(p2.Y))*t +
		(2*float64(p0.Y)-5*float64(p1.Y)+4*float64(p2.Y)-float64(p3.Y))*t2 +
		(-float64(p0.Y)+3*float64(p1.Y)-3*float64(p2.Y)+float64(p3.Y))*t3)
	return geometry.Point{X: int(x), Y: int(y)}
}
