// Package mutation applies create, edit and delete operations to the remote
// calendar and resynchronizes the window in view after each success.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"agendasync/internal/metrics"
	"agendasync/internal/models"
	"agendasync/internal/notify"
	"agendasync/internal/syncer"
)

var (
	// ErrSubmitting rejects a mutation issued while another is in flight.
	ErrSubmitting = errors.New("another event change is still being submitted")

	// ErrUnknownEvent means the id is not among the synchronized events.
	ErrUnknownEvent = errors.New("event is not in the synchronized calendar")
)

// Remote performs the mutations against the authoritative source.
type Remote interface {
	Create(ctx context.Context, sub models.Submission) error
	Update(ctx context.Context, sub models.Submission) error
	Remove(ctx context.Context, sub models.Submission) error
}

// Resyncer is the part of the synchronizer the gateway drives.
type Resyncer interface {
	RefreshActive(ctx context.Context) (syncer.View, error)
	Lookup(id string) (models.CalendarEvent, bool)
}

// Gateway serializes mutations behind a single submitting flag. Overlapping
// calls are rejected, never queued.
type Gateway struct {
	logger   *slog.Logger
	remote   Remote
	sync     Resyncer
	notifier notify.Notifier
	loc      *time.Location

	submitting atomic.Bool
}

// NewGateway creates a Gateway. Form dates and times are read in loc.
func NewGateway(logger *slog.Logger, remote Remote, sync Resyncer, notifier notify.Notifier, loc *time.Location) *Gateway {
	if loc == nil {
		loc = time.UTC
	}
	return &Gateway{
		logger:   logger,
		remote:   remote,
		sync:     sync,
		notifier: notifier,
		loc:      loc,
	}
}

// Submitting reports whether a mutation is in flight.
func (g *Gateway) Submitting() bool {
	return g.submitting.Load()
}

// Create adds a new event.
func (g *Gateway) Create(ctx context.Context, form models.EventFormData) error {
	return g.run(ctx, "create", func() (models.Submission, error) {
		return g.fromForm("", form)
	}, g.remote.Create)
}

// Edit replaces the fields of event id with form.
func (g *Gateway) Edit(ctx context.Context, id string, form models.EventFormData) error {
	return g.run(ctx, "edit", func() (models.Submission, error) {
		if strings.TrimSpace(id) == "" {
			return models.Submission{}, fmt.Errorf("edit requires an event id")
		}
		return g.fromForm(id, form)
	}, g.remote.Update)
}

// Delete removes event id. The full record is sent along with the id.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	return g.run(ctx, "delete", func() (models.Submission, error) {
		event, ok := g.sync.Lookup(id)
		if !ok {
			return models.Submission{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
		}
		sub := models.Submission{
			ID:          event.ID,
			Summary:     event.Summary,
			Description: event.Description,
			Start:       g.reformat(event.Start),
			End:         g.reformat(event.End),
			HostName:    event.HostName,
			Event:       &event,
		}
		if emails := event.Emails(); len(emails) > 0 {
			sub.OrganizerEmail = emails[0]
		}
		return sub, nil
	}, g.remote.Remove)
}

func (g *Gateway) run(ctx context.Context, op string, build func() (models.Submission, error), send func(context.Context, models.Submission) error) error {
	if !g.submitting.CompareAndSwap(false, true) {
		metrics.MutationsTotal.WithLabelValues(op, "rejected").Inc()
		g.logger.Warn("Rejecting overlapping event change", "operation", op)
		return ErrSubmitting
	}
	defer g.submitting.Store(false)

	sub, err := build()
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(op, "error").Inc()
		g.logger.Warn("Invalid event change", "operation", op, "error", err)
		g.notifier.Error(fmt.Sprintf("Could not %s event: %v", op, err))
		return err
	}

	if err := send(ctx, sub); err != nil {
		metrics.MutationsTotal.WithLabelValues(op, "error").Inc()
		g.logger.Error("Event change failed", "operation", op, "id", sub.ID, "error", err)
		g.notifier.Error(fmt.Sprintf("Could not %s event: %v", op, err))
		return err
	}

	metrics.MutationsTotal.WithLabelValues(op, "success").Inc()
	g.logger.Info("Event change submitted", "operation", op, "id", sub.ID, "summary", sub.Summary)
	g.notifier.Success(successMessage(op))

	// A change can move an event across days, so the whole view is reloaded.
	if _, err := g.sync.RefreshActive(ctx); err != nil {
		g.logger.Warn("Resynchronization after event change failed", "operation", op, "error", err)
	}
	return nil
}

func (g *Gateway) fromForm(id string, form models.EventFormData) (models.Submission, error) {
	if models.IsPlaceholderSummary(form.Summary) {
		return models.Submission{}, fmt.Errorf("summary is required")
	}
	start, end, err := form.Resolve(g.loc)
	if err != nil {
		return models.Submission{}, err
	}
	return models.Submission{
		ID:             id,
		Summary:        strings.TrimSpace(form.Summary),
		Description:    form.Description,
		Start:          start.Format(models.TimestampLayout),
		End:            end.Format(models.TimestampLayout),
		OrganizerEmail: strings.TrimSpace(form.OrganizerEmail),
		HostName:       strings.TrimSpace(form.HostName),
	}, nil
}

// reformat renders a stored timestamp in the gateway's fixed offset, leaving
// unparseable text untouched.
func (g *Gateway) reformat(ts string) string {
	t, err := models.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return t.In(g.loc).Format(models.TimestampLayout)
}

func successMessage(op string) string {
	switch op {
	case "create":
		return "Event created"
	case "edit":
		return "Event updated"
	default:
		return "Event deleted"
	}
}
