package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendasync/internal/cache"
	"agendasync/internal/clock"
	"agendasync/internal/models"
	"agendasync/internal/notify"
	"agendasync/internal/store"
	"agendasync/internal/visibility"
	"agendasync/internal/window"
)

var (
	brt = time.FixedZone("UTC-03:00", -3*3600)
	t0  = time.Date(2024, 6, 1, 12, 0, 0, 0, brt)
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]models.CalendarEvent
	err     error
	gate    chan struct{}
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[string]int),
		results: make(map[string][]models.CalendarEvent),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, w window.Window) ([]models.CalendarEvent, error) {
	key := w.Key()
	f.mu.Lock()
	f.calls[key]++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- key
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	events := f.results[key]
	if events == nil {
		events = []models.CalendarEvent{}
	}
	return events, nil
}

func (f *fakeFetcher) set(key string, events []models.CalendarEvent, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = events
	f.err = err
}

func (f *fakeFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type recordingRenderer struct {
	mu    sync.Mutex
	views []View
}

func (r *recordingRenderer) Render(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recordingRenderer) all() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

type harness struct {
	syncer   *Syncer
	fetcher  *fakeFetcher
	cache    *cache.Store
	renderer *recordingRenderer
	notifier *notify.Recorder
	clock    *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(t0)
	h := &harness{
		fetcher:  newFakeFetcher(),
		cache:    cache.New(store.NewMemory(), clk, logger),
		renderer: &recordingRenderer{},
		notifier: &notify.Recorder{},
		clock:    clk,
	}
	h.syncer = NewSyncer(logger, h.fetcher, h.cache, h.renderer, h.notifier, clk)
	return h
}

func vistoria(id string) models.CalendarEvent {
	return models.CalendarEvent{
		ID:      id,
		Summary: "Vistoria",
		Start:   "2024-06-01T09:00:00-03:00",
		End:     "2024-06-01T10:00:00-03:00",
		Status:  models.StatusConfirmed,
	}
}

func TestColdFetchPublishesAndCaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := window.Day(time.Date(2024, 6, 1, 0, 0, 0, 0, brt))
	h.fetcher.set("date:2024-06-01", []models.CalendarEvent{vistoria("1")}, nil)

	v, err := h.syncer.Refresh(ctx, w)
	require.NoError(t, err)
	require.Len(t, v.Events, 1)
	assert.Equal(t, "1", v.Events[0].ID)
	assert.False(t, v.Loading)
	assert.True(t, v.LastUpdated.Equal(t0))

	entry, ok := h.cache.Load(ctx, "date:2024-06-01")
	require.True(t, ok)
	assert.Equal(t, []models.CalendarEvent{vistoria("1")}, entry.Events)

	views := h.renderer.all()
	require.Len(t, views, 2)
	assert.True(t, views[0].Loading)
	assert.Empty(t, views[0].Events)
	assert.False(t, views[1].Loading)

	// A cold load is not announced as a background refresh.
	assert.Empty(t, h.notifier.Messages())
	assert.Equal(t, StateIdle, h.syncer.State("date:2024-06-01"))
}

func TestCachedEventsShownBeforeRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cache.Save(ctx, "today", []models.CalendarEvent{vistoria("old")})
	h.clock.Advance(time.Minute)
	h.fetcher.set("today", []models.CalendarEvent{vistoria("new")}, nil)

	v, err := h.syncer.Refresh(ctx, window.Today())
	require.NoError(t, err)
	assert.Equal(t, "new", v.Events[0].ID)

	views := h.renderer.all()
	require.Len(t, views, 2)
	assert.True(t, views[0].Loading)
	assert.True(t, views[0].FromCache)
	assert.Equal(t, "old", views[0].Events[0].ID)
	assert.Equal(t, "new", views[1].Events[0].ID)

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Error)

	entry, ok := h.cache.Load(ctx, "today")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Events[0].ID)
}

func TestFailureKeepsStaleEntryOnScreen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetcher.set("today", []models.CalendarEvent{vistoria("1")}, nil)

	_, err := h.syncer.Refresh(ctx, window.Today())
	require.NoError(t, err)
	before := h.cache.Entries(ctx)

	h.clock.Advance(6 * time.Minute)
	h.fetcher.set("today", nil, errors.New("network unreachable"))

	v, err := h.syncer.Refresh(ctx, window.Today())
	require.Error(t, err)
	require.Len(t, v.Events, 1)
	assert.Equal(t, "1", v.Events[0].ID)
	assert.Equal(t, err, v.Err)
	assert.Equal(t, 1, h.notifier.Errors())
	assert.Equal(t, before, h.cache.Entries(ctx))
	assert.Equal(t, StateIdle, h.syncer.State("today"))
}

func TestFailureAfterRestartServesStaleCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cache.Save(ctx, "today", []models.CalendarEvent{vistoria("1")})
	h.clock.Advance(6 * time.Minute)
	h.fetcher.set("today", nil, errors.New("timeout"))

	v, err := h.syncer.Refresh(ctx, window.Today())
	require.Error(t, err)
	require.Len(t, v.Events, 1)
	assert.Equal(t, 1, h.notifier.Errors())

	entries := h.cache.Entries(ctx)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].FetchedAt.Equal(t0))
}

func TestFailureServesStaleEntryAfterOtherWindowSaved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cache.Save(ctx, "today", []models.CalendarEvent{vistoria("1")})
	h.clock.Advance(6 * time.Minute)
	h.cache.Save(ctx, "date:2024-06-03", []models.CalendarEvent{vistoria("2")})
	h.fetcher.set("today", nil, errors.New("offline"))

	v, err := h.syncer.Refresh(ctx, window.Today())
	require.Error(t, err)
	require.Len(t, v.Events, 1)
	assert.Equal(t, "1", v.Events[0].ID)
	assert.Len(t, h.cache.Entries(ctx), 2)
}

func TestColdFailurePublishesEmpty(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("today", nil, errors.New("down"))

	v, err := h.syncer.Refresh(context.Background(), window.Today())
	require.Error(t, err)
	assert.NotNil(t, v.Events)
	assert.Empty(t, v.Events)
	assert.Equal(t, 1, h.notifier.Errors())
	assert.True(t, h.syncer.LastUpdated().IsZero())
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.gate = make(chan struct{})
	h.fetcher.started = make(chan string, 2)
	h.fetcher.set("today", []models.CalendarEvent{vistoria("1")}, nil)

	var wg sync.WaitGroup
	results := make([]View, 2)
	for i := range results {
		i := i // per-iteration copy for pre-Go 1.22 loop semantics
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = h.syncer.Refresh(context.Background(), window.Today())
		}()
		if i == 0 {
			<-h.fetcher.started
		}
	}

	// Give the second caller time to attach to the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(h.fetcher.gate)
	wg.Wait()

	assert.Equal(t, 1, h.fetcher.count("today"))
	for _, v := range results {
		require.Len(t, v.Events, 1)
	}
}

func TestDifferentKeysFetchIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := window.Day(time.Date(2024, 6, 3, 0, 0, 0, 0, brt))
	h.fetcher.set("today", []models.CalendarEvent{vistoria("t")}, nil)
	h.fetcher.set(day.Key(), []models.CalendarEvent{vistoria("d")}, nil)

	h.fetcher.gate = make(chan struct{})
	h.fetcher.started = make(chan string, 2)

	done := make(chan View)
	go func() {
		v, _ := h.syncer.Refresh(ctx, window.Today())
		done <- v
	}()
	<-h.fetcher.started

	// The user moves on before the first answer arrives.
	go func() {
		v, _ := h.syncer.Refresh(ctx, day)
		done <- v
	}()
	<-h.fetcher.started
	close(h.fetcher.gate)
	<-done
	<-done

	assert.Equal(t, 1, h.fetcher.count("today"))
	assert.Equal(t, 1, h.fetcher.count(day.Key()))
	assert.Equal(t, "t", h.syncer.View("today").Events[0].ID)
	assert.Equal(t, "d", h.syncer.View(day.Key()).Events[0].ID)
	assert.Equal(t, day.Key(), h.syncer.Active().Key())
}

func TestForegroundRefreshRespectsHalfWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := visibility.NewManual()
	stop := h.syncer.WatchForeground(ctx, src)
	defer stop()

	_, err := h.syncer.Refresh(ctx, window.Today())
	require.NoError(t, err)
	require.Equal(t, 1, h.fetcher.count("today"))

	h.clock.Advance(2 * time.Minute)
	src.Regain()
	assert.Equal(t, 1, h.fetcher.count("today"))

	h.clock.Advance(30 * time.Second)
	src.Regain()
	assert.Equal(t, 1, h.fetcher.count("today"), "exactly half the window is not enough")

	h.clock.Advance(time.Second)
	src.Regain()
	assert.Equal(t, 2, h.fetcher.count("today"))
}

func TestForegroundRefreshUsesActiveWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := visibility.NewManual()
	defer h.syncer.WatchForeground(ctx, src)()

	day := window.Day(time.Date(2024, 6, 5, 0, 0, 0, 0, brt))
	_, err := h.syncer.Refresh(ctx, day)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	src.Regain()
	assert.Equal(t, 2, h.fetcher.count(day.Key()))
	assert.Zero(t, h.fetcher.count("today"))
}

func TestLookupFindsDisplayedEvent(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("today", []models.CalendarEvent{vistoria("1"), vistoria("2")}, nil)
	_, err := h.syncer.Refresh(context.Background(), window.Today())
	require.NoError(t, err)

	e, ok := h.syncer.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, "2", e.ID)

	_, ok = h.syncer.Lookup("nope")
	assert.False(t, ok)
}

func TestRefreshReturnsOnCallerCancel(t *testing.T) {
	h := newHarness(t)
	h.fetcher.gate = make(chan struct{})
	h.fetcher.started = make(chan string, 1)
	defer close(h.fetcher.gate)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		_, err := h.syncer.Refresh(ctx, window.Today())
		errc <- err
	}()
	<-h.fetcher.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
