// Package google reads and writes the event calendar through the Google
// Calendar API. It is an alternative to the webhook source with the same
// fetch and mutation contract.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"agendasync/internal/clock"
	"agendasync/internal/metrics"
	"agendasync/internal/models"
	"agendasync/internal/remote"
	"agendasync/internal/window"
)

// SourceName labels metrics for this source.
const SourceName = "google"

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The account name selects the token file written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir, account, calendarID string, timeout time.Duration, loc *time.Location) (*CalendarClient, error) {
	config, err := OAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(tokenDir, account))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", account, err)
	}

	client := config.Client(ctx, token)
	client.Timeout = timeout
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewFromService(service, calendarID, loc, nil, logger), nil
}

// NewFromService wraps an existing service. An empty calendarID means "primary".
func NewFromService(service *calendar.Service, calendarID string, loc *time.Location, clk clock.Clock, logger *slog.Logger) *CalendarClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &CalendarClient{service: service, calendarID: calendarID, loc: loc, clock: clk, logger: logger}
}

// Fetch returns the valid timed events of w, expanded to single instances
// and ordered by start time.
func (c *CalendarClient) Fetch(ctx context.Context, w window.Window) ([]models.CalendarEvent, error) {
	key := w.Key()
	start, end := w.Bounds(c.clock.Now(), c.loc)
	began := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(SourceName).Observe(time.Since(began).Seconds())
	}()

	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "window", key)
	items, err := c.list(ctx, start, end)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(SourceName, "error").Inc()
		fe := &remote.FetchError{Window: key, Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			fe.StatusCode = gerr.Code
			fe.Status = fmt.Sprintf("%d %s", gerr.Code, http.StatusText(gerr.Code))
		}
		return nil, fe
	}
	metrics.FetchesTotal.WithLabelValues(SourceName, "success").Inc()

	events, dropped := toInternalEvents(items)
	if dropped > 0 {
		metrics.EventsDropped.WithLabelValues(SourceName).Add(float64(dropped))
		c.logger.Debug("Dropped invalid event records", "window", key, "dropped", dropped)
	}
	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events), "calendarID", c.calendarID)
	return events, nil
}

func (c *CalendarClient) list(ctx context.Context, start, end time.Time) ([]*calendar.Event, error) {
	var items []*calendar.Event
	call := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339Nano)).
		TimeMax(end.Format(time.RFC3339Nano)).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *calendar.Events) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}
	return items, nil
}

// Create inserts sub as a new event.
func (c *CalendarClient) Create(ctx context.Context, sub models.Submission) error {
	_, err := c.service.Events.Insert(c.calendarID, toGoogleEvent(sub)).Context(ctx).Do()
	return c.mutationResult(remote.OpAdd, sub, err)
}

// Update replaces the fields of event sub.ID.
func (c *CalendarClient) Update(ctx context.Context, sub models.Submission) error {
	_, err := c.service.Events.Patch(c.calendarID, sub.ID, toGoogleEvent(sub)).Context(ctx).Do()
	return c.mutationResult(remote.OpUpdate, sub, err)
}

// Remove deletes event sub.ID.
func (c *CalendarClient) Remove(ctx context.Context, sub models.Submission) error {
	err := c.service.Events.Delete(c.calendarID, sub.ID).Context(ctx).Do()
	return c.mutationResult(remote.OpRemove, sub, err)
}

func (c *CalendarClient) mutationResult(op string, sub models.Submission, err error) error {
	if err == nil {
		c.logger.Debug("Google Calendar event changed", "operation", op, "id", sub.ID)
		return nil
	}
	me := &remote.MutationError{Operation: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		me.StatusCode = gerr.Code
		me.Status = fmt.Sprintf("%d %s", gerr.Code, http.StatusText(gerr.Code))
	}
	return me
}

// toInternalEvents converts Google Calendar events to the internal model and
// reports how many were discarded.
func toInternalEvents(items []*calendar.Event) ([]models.CalendarEvent, int) {
	converted := make([]models.CalendarEvent, 0, len(items))
	skipped := 0
	for _, item := range items {
		// All-day events carry only a date and have no place in a timed agenda.
		if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
			skipped++
			continue
		}

		event := models.CalendarEvent{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       item.Start.DateTime,
			End:         item.End.DateTime,
			Status:      models.ParseStatus(item.Status),
			Link:        item.HtmlLink,
		}
		for _, a := range item.Attendees {
			event.Attendees = append(event.Attendees, models.Attendee{Email: a.Email, Name: a.DisplayName})
		}
		if item.Organizer != nil {
			event.HostName = item.Organizer.DisplayName
		}
		converted = append(converted, event)
	}
	events, dropped := models.Filter(converted)
	return events, dropped + skipped
}

func toGoogleEvent(sub models.Submission) *calendar.Event {
	ev := &calendar.Event{
		Summary:     sub.Summary,
		Description: sub.Description,
		Start:       &calendar.EventDateTime{DateTime: sub.Start},
		End:         &calendar.EventDateTime{DateTime: sub.End},
	}
	if sub.OrganizerEmail != "" {
		ev.Attendees = []*calendar.EventAttendee{{Email: sub.OrganizerEmail, DisplayName: sub.HostName}}
	}
	return ev
}
