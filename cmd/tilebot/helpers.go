package main

import (
	"image"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/kvassilev/tilebot/internal/capture"
	"github.com/kvassilev/tilebot/internal/geometry"
)

// targetWindowBBox resolves the bounding box of the currently foregrounded
// window, falling back to a zero rectangle (treated as "no offset" by
// geometry.Region.Resolve) if no window is focused yet — the CLI's `focus`
// subcommand is expected to have been run first in normal operation.
func targetWindowBBox() image.Rectangle {
	win, err := capture.ForegroundWindow()
	if err != nil {
		return image.Rectangle{}
	}
	return win.Bounds
}

func geometryPoint(x, y int) geometry.Point {
	return geometry.Point{X: x, Y: y}
}

// logCaptureStats emits the Capture Service's running counters in
// human-readable form, matching spec.md's periodic diagnostics requirement
// without a full metrics exporter (out of scope, spec.md §1).
func logCaptureStats(logger *slog.Logger, capSvc *capture.Service) {
	captures, errs, cacheHits := capSvc.Stats()
	logger.Info("tilebot: capture stats",
		"captures", humanize.Comma(int64(captures)),
		"errors", humanize.Comma(int64(errs)),
		"cache_hits", humanize.Comma(int64(cacheHits)),
	)
}
