// Package capture implements the Capture Service from spec.md §4.1: frame
// grabbing with a bbox-keyed TTL cache, window focus/enumeration, and a
// healthcheck. Structurally grounded on the teacher's
// domain/capture/capture_service.go (running flag, instrumentation counters,
// selection-then-fallback grab order) and domain/action/actions_windows.go
// (window enumeration / foreground title pattern), generalized cross-platform
// via go-vgo/robotgo instead of raw Win32 syscalls.
package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/go-vgo/robotgo"
	"github.com/vova616/screenshot"
)

// Frame is one captured image plus the absolute screen rectangle it covers.
type Frame struct {
	Img    *image.RGBA
	Bounds image.Rectangle
	Taken  time.Time
}

// ErrNoFrame is returned when both the robotgo and screenshot backends fail
// to produce an image for a requested bbox.
var ErrNoFrame = errors.New("capture: no backend produced a frame")

// Service is the Capture Service. Zero value is not usable; use New.
type Service struct {
	logger *slog.Logger
	cache  *lru.LRU[image.Rectangle, Frame]

	captures atomic.Uint64
	errors   atomic.Uint64
	cacheHit atomic.Uint64
}

// New builds a Capture Service with a bbox-keyed TTL cache (spec.md §4.1
// "detection_cache_ttl"), backed by hashicorp/golang-lru's expirable LRU in
// place of the teacher's hand-rolled channel buffer — capture here is
// request/response (capture(bbox)), not the teacher's push-channel model,
// since the Detection Engine pulls frames on its own cadence (spec.md §4.3).
func New(logger *slog.Logger, ttl time.Duration, maxEntries int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 8
	}
	return &Service{
		logger: logger,
		cache:  lru.NewLRU[image.Rectangle, Frame](maxEntries, nil, ttl),
	}
}

// Capture returns a Frame covering bbox, reusing a cached grab if one is
// still within the TTL window (spec.md §4.1 "capture(bbox)").
func (s *Service) Capture(bbox image.Rectangle) (Frame, error) {
	if f, ok := s.cache.Get(bbox); ok {
		s.cacheHit.Add(1)
		return f, nil
	}

	f, err := s.grab(bbox)
	if err != nil {
		s.errors.Add(1)
		return Frame{}, err
	}
	s.captures.Add(1)
	s.cache.Add(bbox, f)
	return f, nil
}

// CaptureRegion is an alias for Capture taking explicit coordinates, matching
// spec.md §4.1's capture_region(left, top, width, height) naming.
func (s *Service) CaptureRegion(left, top, width, height int) (Frame, error) {
	return s.Capture(image.Rect(left, top, left+width, top+height))
}

// grab tries the robotgo backend first, then falls back to vova616/screenshot
// — mirroring the teacher's loop's "selection first, then full-screen
// fallback" order, generalized to "primary backend, then fallback backend".
func (s *Service) grab(bbox image.Rectangle) (Frame, error) {
	start := time.Now()

	bmp := robotgo.CaptureScreen(bbox.Min.X, bbox.Min.Y, bbox.Dx(), bbox.Dy())
	if bmp != nil {
		defer robotgo.FreeBitmap(bmp)
		img := robotgo.ToImage(bmp)
		if rgba, ok := toRGBA(img); ok {
			return Frame{Img: rgba, Bounds: bbox, Taken: start}, nil
		}
	}

	img, err := screenshot.CaptureRect(bbox)
	if err != nil || img == nil {
		s.logger.Error("capture: both backends failed", "bbox", bbox, "error", err)
		return Frame{}, ErrNoFrame
	}
	return Frame{Img: img, Bounds: bbox, Taken: start}, nil
}

func toRGBA(img image.Image) (*image.RGBA, bool) {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, true
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba, true
}

// Healthcheck reports whether the capture backend is producing non-blank
// frames, per spec.md §4.1 "capture_healthcheck": grabs a small probe region
// and flags an all-black or all-identical-pixel result as unhealthy (a
// common symptom of a minimized/occluded target window).
func (s *Service) Healthcheck(probe image.Rectangle) error {
	f, err := s.grab(probe)
	if err != nil {
		return err
	}
	b := f.Img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("capture: healthcheck probe returned empty frame")
	}
	first := f.Img.RGBAAt(b.Min.X, b.Min.Y)
	uniform := true
	for y := b.Min.Y; y < b.Max.Y && uniform; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if f.Img.RGBAAt(x, y) != first {
				uniform = false
				break
			}
		}
	}
	if uniform {
		return fmt.Errorf("capture: healthcheck probe frame is uniform (window occluded or minimized?)")
	}
	return nil
}

// Stats returns the running capture/error/cache-hit counters, for the
// periodic stats log line (SPEC_FULL ambient stack, dustin/go-humanize
// formats these at the call site).
func (s *Service) Stats() (captures, errs, cacheHits uint64) {
	return s.captures.Load(), s.errors.Load(), s.cacheHit.Load()
}
