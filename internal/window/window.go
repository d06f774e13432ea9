// Package window resolves requested time windows into canonical cache keys and
// day-aligned query bounds.
package window

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// BoundLayout renders query bounds with millisecond precision and a fixed offset.
	BoundLayout = "2006-01-02T15:04:05.000-07:00"

	// KeyToday addresses the default window.
	KeyToday = "today"
)

// Window is a requested span of calendar days. A range takes precedence over a
// single date; with neither set the window means "today".
type Window struct {
	Start time.Time
	End   time.Time
	Date  time.Time
}

// Today is the default window.
func Today() Window { return Window{} }

// Day is a single-date window.
func Day(d time.Time) Window { return Window{Date: d} }

// Range is an explicit window from start to end, inclusive at day granularity.
func Range(start, end time.Time) Window { return Window{Start: start, End: end} }

// IsRange reports whether both range ends are set.
func (w Window) IsRange() bool { return !w.Start.IsZero() && !w.End.IsZero() }

// IsDay reports whether the window is a single explicit date.
func (w Window) IsDay() bool { return !w.IsRange() && !w.Date.IsZero() }

// Key derives the canonical cache key. Time of day never affects it.
func (w Window) Key() string {
	switch {
	case w.IsRange():
		return fmt.Sprintf("range:%s:%s", w.Start.Format(dateLayout), w.End.Format(dateLayout))
	case w.IsDay():
		return "date:" + w.Date.Format(dateLayout)
	default:
		return KeyToday
	}
}

// String is the key; windows print the way they are cached.
func (w Window) String() string { return w.Key() }

// Bounds resolves the window to [00:00:00.000, 23:59:59.999] of its first and
// last day in loc. now decides what "today" is.
func (w Window) Bounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	var first, last time.Time
	switch {
	case w.IsRange():
		first, last = w.Start, w.End
	case w.IsDay():
		first, last = w.Date, w.Date
	default:
		today := now.In(loc)
		first, last = today, today
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	end := time.Date(last.Year(), last.Month(), last.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// ParseOffset turns "-03:00" style text into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return nil, fmt.Errorf("invalid UTC offset %q: %w", s, err)
	}
	_, secs := t.Zone()
	return time.FixedZone("UTC"+s, secs), nil
}

// ParseDate parses a YYYY-MM-DD argument in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}
