package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// newLogger returns a structured slog.Logger at the given level, choosing a
// human-readable text handler when stdout is a terminal and JSON otherwise —
// generalizing the teacher's NewLogger(level slog.Leveler) (always-JSON) per
// SPEC_FULL.md's ambient Logging section.
func newLogger(level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
