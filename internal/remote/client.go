// Package remote talks to the authoritative event source: the automation
// webhooks that read and write the shared calendar.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agendasync/internal/clock"
	"agendasync/internal/metrics"
	"agendasync/internal/models"
	"agendasync/internal/window"
)

const (
	// SourceName labels metrics for this source.
	SourceName = "webhook"

	// DefaultTimeout bounds every request when Config.Timeout is zero.
	DefaultTimeout = 15 * time.Second

	maxBodyBytes  = 8 << 20
	maxErrorBytes = 512
)

// Operation names, also used as the default webhook paths.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
)

// Config describes the webhook endpoints.
type Config struct {
	BaseURL    string
	Token      string // sent as a bearer token when set
	EventsPath string
	AddPath    string
	UpdatePath string
	RemovePath string
	Timeout    time.Duration
	Location   *time.Location // fixed offset the source expects
}

// Client reads and mutates events through the webhooks.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a webhook client. Empty paths fall back to "events",
// "add", "update" and "remove".
func NewClient(cfg Config, clk clock.Clock, logger *slog.Logger) *Client {
	if cfg.EventsPath == "" {
		cfg.EventsPath = "events"
	}
	if cfg.AddPath == "" {
		cfg.AddPath = OpAdd
	}
	if cfg.UpdatePath == "" {
		cfg.UpdatePath = OpUpdate
	}
	if cfg.RemovePath == "" {
		cfg.RemovePath = OpRemove
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clk,
		logger:     logger,
	}
}

// Fetch returns the valid events of w. An empty slice is a successful answer.
func (c *Client) Fetch(ctx context.Context, w window.Window) ([]models.CalendarEvent, error) {
	key := w.Key()
	began := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(SourceName).Observe(time.Since(began).Seconds())
	}()

	events, err := c.fetch(ctx, w)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(SourceName, "error").Inc()
		return nil, err
	}
	metrics.FetchesTotal.WithLabelValues(SourceName, "success").Inc()
	c.logger.Debug("Fetched events", "window", key, "count", len(events))
	return events, nil
}

func (c *Client) fetch(ctx context.Context, w window.Window) ([]models.CalendarEvent, error) {
	key := w.Key()
	start, end := w.Bounds(c.clock.Now(), c.cfg.Location)

	q := url.Values{}
	q.Set("start", start.Format(window.BoundLayout))
	q.Set("end", end.Format(window.BoundLayout))
	endpoint := c.endpoint(c.cfg.EventsPath) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Window: key, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching events", "window", key, "start", q.Get("start"), "end", q.Get("end"))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Window: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		c.logger.Warn("Event source returned an error", "window", key, "status", resp.Status, "body", string(snippet))
		return nil, &FetchError{Window: key, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Window: key, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, &FetchError{Window: key, Err: err}
	}

	events, dropped := normalize(records, c.clock.Now(), c.logger)
	if dropped > 0 {
		metrics.EventsDropped.WithLabelValues(SourceName).Add(float64(dropped))
		c.logger.Debug("Dropped invalid event records", "window", key, "dropped", dropped)
	}
	return events, nil
}

// Create posts sub to the add webhook.
func (c *Client) Create(ctx context.Context, sub models.Submission) error {
	return c.submit(ctx, OpAdd, c.cfg.AddPath, sub)
}

// Update posts sub to the update webhook.
func (c *Client) Update(ctx context.Context, sub models.Submission) error {
	return c.submit(ctx, OpUpdate, c.cfg.UpdatePath, sub)
}

// Remove posts sub to the remove webhook. sub.Event must hold the full record.
func (c *Client) Remove(ctx context.Context, sub models.Submission) error {
	return c.submit(ctx, OpRemove, c.cfg.RemovePath, sub)
}

func (c *Client) submit(ctx context.Context, op, path string, sub models.Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return &MutationError{Operation: op, Err: fmt.Errorf("failed to encode submission: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return &MutationError{Operation: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Submitting event mutation", "operation", op, "id", sub.ID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &MutationError{Operation: op, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &MutationError{Operation: op, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("User-Agent", "agendasync/1.0")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}
