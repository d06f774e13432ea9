package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendasync/internal/clock"
	"agendasync/internal/models"
	"agendasync/internal/window"
)

var brt = time.FixedZone("UTC-03:00", -3*3600)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clk := clock.NewFake(time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC))
	return NewClient(Config{
		BaseURL:  srv.URL + "/webhook/",
		Token:    "secret",
		Location: brt,
		Timeout:  2 * time.Second,
	}, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchSendsDayBounds(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[]`))
	})

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, brt)
	events, err := c.Fetch(context.Background(), window.Day(day))
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/webhook/events", got.URL.Path)
	assert.Equal(t, "2024-06-01T00:00:00.000-03:00", got.URL.Query().Get("start"))
	assert.Equal(t, "2024-06-01T23:59:59.999-03:00", got.URL.Query().Get("end"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
}

func TestFetchTodayResolvesInOffset(t *testing.T) {
	var start string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		start = r.URL.Query().Get("start")
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.Fetch(context.Background(), window.Today())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T00:00:00.000-03:00", start)
}

func TestFetchBareList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"1","summary":"Vistoria","start":"2024-06-01T09:00:00-03:00","end":"2024-06-01T10:00:00-03:00"},
			{"id":"2","summary":"","start":"2024-06-01T09:00:00-03:00","end":"2024-06-01T10:00:00-03:00"},
			{"id":"3","summary":"Sem end","start":"2024-06-01T09:00:00-03:00"},
			{"id":4,"summary":"bad id type","start":"2024-06-01T09:00:00-03:00","end":"2024-06-01T10:00:00-03:00"},
			{"id":"5","summary":"Entrega","status":"tentative",
			 "start":{"dateTime":"2024-06-01T11:00:00-03:00"},"end":{"dateTime":"2024-06-01T12:00:00-03:00"},
			 "attendees":[{"email":"a@example.com","displayName":"Ana"},{}],
			 "organizer":{"displayName":"Imobiliária"},"htmlLink":"https://calendar.example.com/5"}
		]`))
	})

	events, err := c.Fetch(context.Background(), window.Today())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.CalendarEvent{
		ID:      "1",
		Summary: "Vistoria",
		Start:   "2024-06-01T09:00:00-03:00",
		End:     "2024-06-01T10:00:00-03:00",
		Status:  models.StatusConfirmed,
	}, events[0])

	e := events[1]
	assert.Equal(t, "5", e.ID)
	assert.Equal(t, models.StatusTentative, e.Status)
	assert.Equal(t, "2024-06-01T11:00:00-03:00", e.Start)
	assert.Equal(t, "Imobiliária", e.HostName)
	assert.Equal(t, "https://calendar.example.com/5", e.Link)
	assert.Equal(t, []models.Attendee{{Email: "a@example.com", Name: "Ana"}, {}}, e.Attendees)
}

func TestFetchEventsObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"summary":"Sem id","start":"2024-06-01T09:00:00-03:00","end":"2024-06-01T10:00:00-03:00"}]}`))
	})

	events, err := c.Fetch(context.Background(), window.Today())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].ID, "local-")
}

func TestFetchDropsDateOnlyRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"1","summary":"Feriado","start":"2024-06-01","end":"2024-06-02"},
			{"id":"2","summary":"Feriado","start":{"date":"2024-06-01"},"end":{"date":"2024-06-02"}},
			{"id":"3","summary":"Vistoria","start":"2024-06-01T09:00:00-03:00","end":"2024-06-01T10:00:00-03:00"}
		]`))
	})

	events, err := c.Fetch(context.Background(), window.Today())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "3", events[0].ID)
}

func TestFetchRejectsUnknownShapes(t *testing.T) {
	for _, body := range []string{`{"items":[]}`, `{"events":{}}`, `"nope"`, ``, `42`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.Fetch(context.Background(), window.Today())

		var fe *FetchError
		require.ErrorAs(t, err, &fe, body)
		assert.Equal(t, "today", fe.Window)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.Fetch(context.Background(), window.Today())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchTransportError(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Fetch(context.Background(), window.Today())

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestMutationsPostEnvelope(t *testing.T) {
	type call struct {
		path string
		sub  models.Submission
	}
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var sub models.Submission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		calls = append(calls, call{path: r.URL.Path, sub: sub})
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()
	snapshot := models.CalendarEvent{ID: "7", Summary: "Vistoria", Start: "a", End: "b", Status: models.StatusConfirmed}

	require.NoError(t, c.Create(ctx, models.Submission{Summary: "Nova"}))
	require.NoError(t, c.Update(ctx, models.Submission{ID: "7", Summary: "Editada"}))
	require.NoError(t, c.Remove(ctx, models.Submission{ID: "7", Event: &snapshot}))

	require.Len(t, calls, 3)
	assert.Equal(t, "/webhook/add", calls[0].path)
	assert.Equal(t, "/webhook/update", calls[1].path)
	assert.Equal(t, "/webhook/remove", calls[2].path)
	require.NotNil(t, calls[2].sub.Event)
	assert.Equal(t, snapshot, *calls[2].sub.Event)
}

func TestMutationFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Create(context.Background(), models.Submission{Summary: "x"})
	var me *MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, OpAdd, me.Operation)
	assert.Equal(t, http.StatusInternalServerError, me.StatusCode)
}
