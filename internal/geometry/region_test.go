package geometry

import (
	"image"
	"testing"
)

func TestRegionResolveAbsolute(t *testing.T) {
	// The region extends past the window's width and height, so the
	// window-relative reinterpretation heuristic does not apply.
	win := image.Rect(1000, 1000, 1150, 1080)
	r := Region{Left: 50, Top: 60, Width: 200, Height: 100, Mode: ModeAbsolute}
	got := r.Resolve(win)
	want := image.Rect(50, 60, 250, 160)
	if got != want {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestRegionResolveRelative(t *testing.T) {
	win := image.Rect(1000, 1000, 1800, 1600)
	r := Region{Left: 50, Top: 60, Width: 200, Height: 100, Mode: ModeRelative}
	got := r.Resolve(win)
	want := image.Rect(1050, 1060, 1250, 1160)
	if got != want {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestRegionResolvePercent(t *testing.T) {
	win := image.Rect(0, 0, 1000, 500)
	r := Region{Left: 10, Top: 20, Width: 50, Height: 50, Mode: ModePercent}
	got := r.Resolve(win)
	want := image.Rect(100, 100, 600, 350)
	if got != want {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

// TestRegionResolveAbsoluteReinterpretHeuristic covers spec.md §4.3's
// "Active-region resolution policy" defensive heuristic: an absolute region
// that fits inside the window but would land far outside it is treated as
// window-relative.
func TestRegionResolveAbsoluteReinterpretHeuristic(t *testing.T) {
	win := image.Rect(2000, 2000, 2800, 2600)
	r := Region{Left: 10, Top: 10, Width: 100, Height: 80, Mode: ModeAbsolute}
	got := r.Resolve(win)
	want := image.Rect(2010, 2010, 2110, 2090)
	if got != want {
		t.Fatalf("Resolve() = %v, want %v (expected window-relative reinterpretation)", got, want)
	}
}

func TestRegionResolveAbsoluteNoReinterpretWhenOverlapping(t *testing.T) {
	win := image.Rect(0, 0, 1920, 1080)
	r := Region{Left: 100, Top: 100, Width: 200, Height: 150, Mode: ModeAbsolute}
	got := r.Resolve(win)
	want := image.Rect(100, 100, 300, 250)
	if got != want {
		t.Fatalf("Resolve() = %v, want %v (should not reinterpret when already overlapping)", got, want)
	}
}

func TestClampPoint(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	cases := []struct {
		in   Point
		want Point
	}{
		{Point{-5, 50}, Point{0, 50}},
		{Point{50, -5}, Point{50, 0}},
		{Point{150, 50}, Point{99, 50}},
		{Point{50, 150}, Point{50, 99}},
		{Point{50, 50}, Point{50, 50}},
	}
	for _, c := range cases {
		got := ClampPoint(c.in, bounds)
		if got != c.want {
			t.Errorf("ClampPoint(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSquareWindowClipsToBounds(t *testing.T) {
	bounds := image.Rect(0, 0, 50, 50)
	got := SquareWindow(Point{X: 10, Y: 10}, 30, bounds)
	want := image.Rect(0, 0, 40, 40)
	if got != want {
		t.Fatalf("SquareWindow() = %v, want %v", got, want)
	}
}

func TestDistSquared(t *testing.T) {
	a := Point{X: 0, Y: 0}
	b := Point{X: 3, Y: 4}
	if got := a.DistSquared(b); got != 25 {
		t.Fatalf("DistSquared() = %v, want 25", got)
	}
}

func TestContains(t *testing.T) {
	bounds := image.Rect(0, 0, 10, 10)
	if !Contains(bounds, Point{X: 0, Y: 0}) {
		t.Fatal("expected (0,0) to be contained (min inclusive)")
	}
	if Contains(bounds, Point{X: 10, Y: 5}) {
		t.Fatal("expected (10,5) to be excluded (max exclusive)")
	}
}
