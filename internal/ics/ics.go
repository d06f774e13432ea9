// Package ics renders synchronized events as iCalendar data.
package ics

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"agendasync/internal/models"
)

// ProductID identifies the generator in every calendar written.
const ProductID = "-//agendasync//EN"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UID is the iCalendar UID of e. Events without an id get a random one.
func UID(e models.CalendarEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return uuid.New().String()
}

// FileName is a filesystem and URL safe object name for uid.
func FileName(uid string) string {
	return unsafeName.ReplaceAllString(uid, "_") + ".ics"
}

// Calendar wraps the given events in a VCALENDAR. Events whose times cannot be
// parsed are skipped.
func Calendar(events []models.CalendarEvent, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	for _, e := range events {
		if ve, err := Event(e, UID(e), now); err == nil {
			cal.Children = append(cal.Children, ve)
		}
	}
	return cal
}

// Event converts e to a VEVENT stamped now.
func Event(e models.CalendarEvent, uid string, now time.Time) (*ical.Component, error) {
	start, err := models.ParseTimestamp(e.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s start: %w", e.ID, err)
	}
	end, err := models.ParseTimestamp(e.End)
	if err != nil {
		return nil, fmt.Errorf("event %s end: %w", e.ID, err)
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, e.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	if e.Status != "" {
		ve.Props.SetText(ical.PropStatus, strings.ToUpper(string(e.Status)))
	}

	if e.Description != "" {
		ve.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Link != "" {
		ve.Props.SetText(ical.PropURL, e.Link)
	}
	if e.HostName != "" {
		ve.Props.SetText(ical.PropComment, "Host: "+e.HostName)
	}
	for _, a := range e.Attendees {
		if a.Email == "" {
			continue
		}
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", a.Email))
		if a.Name != "" {
			p.Params.Set(ical.ParamCommonName, a.Name)
		}
		ve.Props.Add(p)
	}
	return ve, nil
}

// Encode writes events to w as a single calendar.
func Encode(w io.Writer, events []models.CalendarEvent, now time.Time) error {
	cal := Calendar(events, now)
	if len(cal.Children) == 0 {
		// An empty VCALENDAR is not valid iCalendar.
		return fmt.Errorf("no exportable events")
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode events to iCal format: %w", err)
	}
	return nil
}
