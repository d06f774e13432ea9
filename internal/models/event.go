package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the confirmation state of an event on the remote calendar.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// ParseStatus maps a raw status to a known Status, defaulting to confirmed.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTentative:
		return StatusTentative
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusConfirmed
	}
}

// Attendee is one participant of an event. Email may be empty.
type Attendee struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CalendarEvent is one entry of the remote calendar, as surfaced to renderers
// and persisted in the cache. Start and End keep the timezone-qualified text the
// source sent.
type CalendarEvent struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Status      Status     `json:"status"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	HostName    string     `json:"hostName,omitempty"`
	Link        string     `json:"link,omitempty"`
}

// StartTime parses Start. The zero time is returned when it cannot be parsed.
func (e CalendarEvent) StartTime() time.Time {
	t, _ := ParseTimestamp(e.Start)
	return t
}

// EndTime parses End. The zero time is returned when it cannot be parsed.
func (e CalendarEvent) EndTime() time.Time {
	t, _ := ParseTimestamp(e.End)
	return t
}

// Emails returns the non-empty attendee emails in order.
func (e CalendarEvent) Emails() []string {
	var emails []string
	for _, a := range e.Attendees {
		if a.Email != "" {
			emails = append(emails, a.Email)
		}
	}
	return emails
}

// placeholderSummaries are titles calendar tools insert when the user left the
// field blank.
var placeholderSummaries = map[string]struct{}{
	"(no title)":   {},
	"no title":     {},
	"(sem título)": {},
	"sem título":   {},
	"sem titulo":   {},
	"untitled":     {},
	"-":            {},
}

// IsPlaceholderSummary reports whether s is empty or a known placeholder title.
func IsPlaceholderSummary(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	_, ok := placeholderSummaries[s]
	return ok
}

// Valid reports whether the event carries a real summary and offset-qualified
// start and end timestamps. Date-only values such as all-day markers fail.
func (e CalendarEvent) Valid() bool {
	if IsPlaceholderSummary(e.Summary) {
		return false
	}
	if _, err := ParseTimestamp(e.Start); err != nil {
		return false
	}
	_, err := ParseTimestamp(e.End)
	return err == nil
}

// Filter returns the valid events in their original order along with the
// number of dropped records. The result is never nil.
func Filter(events []CalendarEvent) ([]CalendarEvent, int) {
	valid := make([]CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.Valid() {
			valid = append(valid, e)
		}
	}
	return valid, len(events) - len(valid)
}

// LocalID synthesizes an identifier for a record the source sent without one.
func LocalID(now time.Time) string {
	return fmt.Sprintf("local-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// ParseTimestamp accepts RFC 3339 text with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
