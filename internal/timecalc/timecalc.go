package timecalc

import (
	"fmt"
	"time"
)

// ElapsedSeconds returns the whole seconds between start and now.
// Clock skew never yields a negative duration.
func ElapsedSeconds(start, now time.Time) int64 {
	d := int64(now.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// FormatDuration formats seconds as a human-readable string like "1h 40m" or "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatDurationHHMMSS formats seconds as HH:MM:SS.
func FormatDurationHHMMSS(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatSince renders a past instant relative to now, e.g. "3m ago".
// A nil or zero time renders as "never".
func FormatSince(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return FormatDuration(ElapsedSeconds(*t, now)) + " ago"
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
