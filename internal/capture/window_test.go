package capture

import (
	"image"
	"testing"
)

func TestPickLargestMatchPrefersLargerArea(t *testing.T) {
	windows := []WindowInfo{
		{PID: 1, Title: "RuneScape - small", Bounds: image.Rect(0, 0, 100, 100)},
		{PID: 2, Title: "RuneScape - large", Bounds: image.Rect(0, 0, 800, 600)},
		{PID: 3, Title: "Unrelated window", Bounds: image.Rect(0, 0, 1000, 1000)},
	}
	best, found := pickLargestMatch(windows, "RuneScape", false)
	if !found {
		t.Fatal("expected a match")
	}
	if best.PID != 2 {
		t.Fatalf("got PID %d, want 2 (the larger matching window)", best.PID)
	}
}

func TestPickLargestMatchSkipsMinimizedWindows(t *testing.T) {
	windows := []WindowInfo{
		{PID: 1, Title: "Target", Bounds: image.Rect(0, 0, 0, 0)},
		{PID: 2, Title: "Target", Bounds: image.Rect(0, 0, 400, 300)},
	}
	best, found := pickLargestMatch(windows, "Target", false)
	if !found || best.PID != 2 {
		t.Fatalf("got (%v, %v), want PID 2", best, found)
	}
}

func TestPickLargestMatchExactRequiresFullEquality(t *testing.T) {
	windows := []WindowInfo{
		{PID: 1, Title: "Target Window", Bounds: image.Rect(0, 0, 100, 100)},
		{PID: 2, Title: "Target", Bounds: image.Rect(0, 0, 100, 100)},
	}
	best, found := pickLargestMatch(windows, "Target", true)
	if !found || best.PID != 2 {
		t.Fatalf("got (%v, %v), want exact match PID 2", best, found)
	}
}

func TestPickLargestMatchNoneFound(t *testing.T) {
	windows := []WindowInfo{{PID: 1, Title: "Something Else", Bounds: image.Rect(0, 0, 100, 100)}}
	_, found := pickLargestMatch(windows, "Target", false)
	if found {
		t.Fatal("expected no match")
	}
}
