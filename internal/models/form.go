package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	formDateLayout = "2006-01-02"
	formTimeLayout = "15:04"

	// TimestampLayout is the fixed-offset textual form sent to the remote source.
	TimestampLayout = "2006-01-02T15:04:05-07:00"
)

// EventFormData is the transient input of a create or edit.
type EventFormData struct {
	Date           string // YYYY-MM-DD
	StartTime      string // HH:MM
	EndTime        string // HH:MM
	Summary        string
	Description    string
	OrganizerEmail string
	HostName       string
}

// Resolve combines Date with the start and end times in loc and returns both
// instants. The end must not precede the start.
func (f EventFormData) Resolve(loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(formDateLayout, strings.TrimSpace(f.Date), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", f.Date, err)
	}
	start, err := atClock(day, f.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q: %w", f.StartTime, err)
	}
	end, err := atClock(day, f.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time %q: %w", f.EndTime, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %s is before start time %s", f.EndTime, f.StartTime)
	}
	return start, end, nil
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse(formTimeLayout, strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
