// Package mirror publishes synchronized events to a CalDAV calendar, one
// object per event, so they show up on phones and desktop calendar apps.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"agendasync/internal/clock"
	"agendasync/internal/ics"
	"agendasync/internal/models"
)

// DefaultEndpoint is iCloud's CalDAV entry point.
const DefaultEndpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "agendasync/1.0")
	return t.Transport.RoundTrip(req)
}

// Creator opens a resource on the server for writing.
type Creator interface {
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// Config locates the target calendar.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	Timeout      time.Duration
}

// Mirror writes events under one calendar collection.
type Mirror struct {
	creator      Creator
	calendarPath string
	clock        clock.Clock
	logger       *slog.Logger
}

// New creates a Mirror writing below calendarPath.
func New(logger *slog.Logger, creator Creator, calendarPath string, clk clock.Clock) *Mirror {
	if clk == nil {
		clk = clock.System{}
	}
	return &Mirror{creator: creator, calendarPath: calendarPath, clock: clk, logger: logger}
}

// Dial discovers the calendar named in cfg and returns a Mirror for it.
func Dial(ctx context.Context, logger *slog.Logger, cfg Config) (*Mirror, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &customTransport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: http.DefaultTransport,
		},
	}

	caldavClient, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	logger.Info("Finding CalDAV calendar", "calendarName", cfg.CalendarName)
	calendarPath, err := findCalendar(ctx, caldavClient, cfg.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.CalendarName, err)
	}
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return New(logger, webdavClient, calendarPath, nil), nil
}

// Publish writes every event, replacing earlier copies with the same UID. It
// keeps going past failures and returns how many were written with the first
// error seen.
func (m *Mirror) Publish(ctx context.Context, events []models.CalendarEvent) (int, error) {
	var (
		written  int
		firstErr error
	)
	for _, e := range events {
		if err := m.publish(ctx, e); err != nil {
			m.logger.Warn("Failed to mirror event", "id", e.ID, "summary", e.Summary, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	return written, firstErr
}

func (m *Mirror) publish(ctx context.Context, e models.CalendarEvent) error {
	uid := ics.UID(e)
	ve, err := ics.Event(e, uid, m.clock.Now())
	if err != nil {
		return err
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ics.ProductID)
	cal.Children = append(cal.Children, ve)

	eventPath := path.Join(m.calendarPath, ics.FileName(uid))
	writer, err := m.creator.Create(ctx, eventPath)
	if err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		writer.Close()
		return fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload event: %w", err)
	}

	m.logger.Debug("Mirrored event", "id", e.ID, "path", eventPath)
	return nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func findCalendar(ctx context.Context, c *caldav.Client, name string) (string, error) {
	principalPath, err := c.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
