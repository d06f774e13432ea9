package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agendasync/internal/models"
)

var errUnexpectedPayload = errors.New("payload is neither an event list nor an object with an events list")

// decodeRecords accepts either a bare JSON array or an object with an "events"
// array and returns the raw records. Anything else is an error.
func decodeRecords(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errUnexpectedPayload
	}
	switch body[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decoding event list: %w", err)
		}
		return records, nil
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("decoding event object: %w", err)
		}
		list, ok := wrapper["events"]
		if !ok || !bytes.HasPrefix(bytes.TrimSpace(list), []byte("[")) {
			return nil, errUnexpectedPayload
		}
		var records []json.RawMessage
		if err := json.Unmarshal(list, &records); err != nil {
			return nil, fmt.Errorf("decoding events field: %w", err)
		}
		return records, nil
	default:
		return nil, errUnexpectedPayload
	}
}

// rawTime accepts "2024-06-01T09:00:00-03:00" or {"dateTime": "..."}.
// Date-only values carry no offset and are left empty.
type rawTime string

func (t *rawTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = rawTime(s)
		return nil
	}
	var obj struct {
		DateTime string `json:"dateTime"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = rawTime(obj.DateTime)
	return nil
}

type rawAttendee struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type rawOrganizer struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type rawEvent struct {
	ID          string        `json:"id"`
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Start       rawTime       `json:"start"`
	End         rawTime       `json:"end"`
	Status      string        `json:"status"`
	Attendees   []rawAttendee `json:"attendees"`
	HostName    string        `json:"hostName"`
	Organizer   *rawOrganizer `json:"organizer"`
	Link        string        `json:"link"`
	HTMLLink    string        `json:"htmlLink"`
}

func (r rawEvent) toModel() models.CalendarEvent {
	e := models.CalendarEvent{
		ID:          strings.TrimSpace(r.ID),
		Summary:     strings.TrimSpace(r.Summary),
		Description: r.Description,
		Start:       strings.TrimSpace(string(r.Start)),
		End:         strings.TrimSpace(string(r.End)),
		Status:      models.ParseStatus(r.Status),
		HostName:    r.HostName,
		Link:        r.Link,
	}
	if e.HostName == "" && r.Organizer != nil {
		e.HostName = r.Organizer.DisplayName
	}
	if e.Link == "" {
		e.Link = r.HTMLLink
	}
	for _, a := range r.Attendees {
		name := a.Name
		if name == "" {
			name = a.DisplayName
		}
		e.Attendees = append(e.Attendees, models.Attendee{Email: a.Email, Name: name})
	}
	return e
}

// normalize turns raw records into valid events, preserving order. Records
// that fail to decode or validate are dropped and counted.
func normalize(records []json.RawMessage, now time.Time, logger *slog.Logger) ([]models.CalendarEvent, int) {
	events := make([]models.CalendarEvent, 0, len(records))
	dropped := 0
	for i, rec := range records {
		var r rawEvent
		if err := json.Unmarshal(rec, &r); err != nil {
			logger.Debug("Dropping undecodable event record", "index", i, "error", err)
			dropped++
			continue
		}
		e := r.toModel()
		if !e.Valid() {
			logger.Debug("Dropping incomplete event record", "index", i, "id", e.ID)
			dropped++
			continue
		}
		if e.ID == "" {
			e.ID = models.LocalID(now)
			logger.Warn("Remote event has no id, generating a local one.", "summary", e.Summary, "id", e.ID)
		}
		events = append(events, e)
	}
	return events, dropped
}
