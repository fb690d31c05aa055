package capture

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func TestToRGBAPassesThroughExistingRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	out, ok := toRGBA(src)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if out != src {
		t.Fatal("expected the exact same *image.RGBA to be returned, not a copy")
	}
}

func TestToRGBAConvertsNonRGBAImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	src.Set(1, 1, color.NRGBA{R: 100, G: 150, B: 200, A: 255})

	out, ok := toRGBA(src)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if out.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
	r, g, b, _ := out.At(1, 1).RGBA()
	wantR, wantG, wantB, _ := src.At(1, 1).RGBA()
	if r != wantR || g != wantG || b != wantB {
		t.Fatalf("converted pixel = (%d,%d,%d), want (%d,%d,%d)", r, g, b, wantR, wantG, wantB)
	}
}

func TestServiceCapturesFromCacheWithinTTL(t *testing.T) {
	s := New(nil, time.Minute, 4)
	bbox := image.Rect(0, 0, 5, 5)
	frame := Frame{Img: image.NewRGBA(bbox), Bounds: bbox}
	s.cache.Add(bbox, frame)

	got, err := s.Capture(bbox)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got.Bounds != bbox {
		t.Fatalf("got bounds %v, want %v", got.Bounds, bbox)
	}
	_, errs, hits := s.Stats()
	if hits != 1 {
		t.Fatalf("cache hits = %d, want 1", hits)
	}
	if errs != 0 {
		t.Fatalf("errs = %d, want 0", errs)
	}
}
