package utils

import (
	"strconv"
	"strings"
	"time"
)

// DefaultWindow is applied when a time-window string cannot be parsed.
const DefaultWindow = time.Hour

// ParseWindow converts a relative window such as "30m", "2h" or "1d" into a
// duration. Malformed input falls back to DefaultWindow rather than failing,
// so a bad window degrades an investigation instead of rejecting it.
func ParseWindow(window string) time.Duration {
	window = strings.TrimSpace(window)
	if len(window) < 2 {
		return DefaultWindow
	}

	value, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || value <= 0 {
		return DefaultWindow
	}

	switch window[len(window)-1] {
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return DefaultWindow
	}
}

// WindowStart returns the absolute start of a relative window ending at now.
func WindowStart(window string, now time.Time) time.Time {
	return now.Add(-ParseWindow(window))
}

// ParseInterval converts a histogram bucket interval such as "1m" or "5m"
// into a duration, defaulting to five minutes.
func ParseInterval(interval string) time.Duration {
	if d, err := time.ParseDuration(interval); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}
