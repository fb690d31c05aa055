package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

// WindowInfo describes one enumerated top-level window, generalizing the
// teacher's ListWindows()/ForegroundWindowTitle() (title-only) to carry the
// PID and bbox the Capture Service needs to resolve a Region (spec.md §4.3).
type WindowInfo struct {
	PID    int
	Title  string
	Bounds image.Rectangle
}

// ErrWindowNotFound is returned by FocusWindow when no window title contains
// the requested substring after all retries.
var ErrWindowNotFound = errors.New("capture: no matching window found")

// ListWindows enumerates visible top-level windows with a non-empty title,
// generalizing the teacher's Win32 ListWindows to robotgo's cross-platform
// FindIds/GetTitle/GetBounds.
func ListWindows() ([]WindowInfo, error) {
	pids := robotgo.FindIds("")
	out := make([]WindowInfo, 0, len(pids))
	for _, pid := range pids {
		title := robotgo.GetTitle(pid)
		if strings.TrimSpace(title) == "" {
			continue
		}
		x, y, w, h := robotgo.GetBounds(pid)
		if w <= 0 || h <= 0 {
			continue
		}
		out = append(out, WindowInfo{
			PID:    pid,
			Title:  title,
			Bounds: image.Rect(x, y, x+w, y+h),
		})
	}
	return out, nil
}

// ForegroundWindow returns the currently active window, generalizing the
// teacher's ForegroundWindowTitle (title-only) to also report its bbox.
func ForegroundWindow() (WindowInfo, error) {
	pid := robotgo.GetPID()
	title := robotgo.GetTitle(pid)
	x, y, w, h := robotgo.GetBounds(pid)
	if title == "" && w == 0 && h == 0 {
		return WindowInfo{}, fmt.Errorf("capture: no foreground window")
	}
	return WindowInfo{PID: pid, Title: title, Bounds: image.Rect(x, y, x+w, y+h)}, nil
}

// FocusWindow implements spec.md §4.1's focus_window(title_substring,
// retries, exact_match): it searches enumerated windows for one whose title
// contains (or, if exact, equals) titleSubstring, preferring the largest
// non-minimized match, activates it via robotgo, and retries with a sleep
// between attempts up to maxRetries times.
func FocusWindow(logger *slog.Logger, titleSubstring string, exactMatch bool, maxRetries int, retryDelay time.Duration) (WindowInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		windows, err := ListWindows()
		if err != nil {
			lastErr = err
		} else {
			best, found := pickLargestMatch(windows, titleSubstring, exactMatch)
			if found {
				robotgo.ActivePID(best.PID)
				return best, nil
			}
		}
		if attempt < maxRetries {
			logger.Warn("capture: window not found, retrying", "title_substring", titleSubstring, "attempt", attempt)
			time.Sleep(retryDelay)
		}
	}
	if lastErr != nil {
		return WindowInfo{}, fmt.Errorf("capture: focus_window: %w", lastErr)
	}
	return WindowInfo{}, ErrWindowNotFound
}

// pickLargestMatch selects the largest-area matching, non-minimized window,
// per spec.md §4.1's "prefer largest non-minimized window" tie-break.
func pickLargestMatch(windows []WindowInfo, titleSubstring string, exactMatch bool) (WindowInfo, bool) {
	var best WindowInfo
	bestArea := -1
	found := false
	for _, w := range windows {
		matched := false
		if exactMatch {
			matched = w.Title == titleSubstring
		} else {
			matched = strings.Contains(w.Title, titleSubstring)
		}
		if !matched {
			continue
		}
		area := w.Bounds.Dx() * w.Bounds.Dy()
		if area <= 0 {
			continue // minimized windows report zero-area bounds
		}
		if area > bestArea {
			bestArea = area
			best = w
			found = true
		}
	}
	return best, found
}
