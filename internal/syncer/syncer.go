// Package syncer serves calendar windows stale-while-revalidate: cached events
// are published at once, the remote source is always asked, and its answer
// replaces what was shown and is written back to the cache.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agendasync/internal/cache"
	"agendasync/internal/clock"
	"agendasync/internal/metrics"
	"agendasync/internal/models"
	"agendasync/internal/notify"
	"agendasync/internal/visibility"
	"agendasync/internal/window"
)

// Fetcher reads the authoritative events of a window.
type Fetcher interface {
	Fetch(ctx context.Context, w window.Window) ([]models.CalendarEvent, error)
}

// Syncer orchestrates cache and remote reads per window key. At most one
// remote fetch per key is in flight; later requests for the same key wait for
// and share its result.
type Syncer struct {
	logger   *slog.Logger
	fetcher  Fetcher
	cache    *cache.Store
	renderer Renderer
	notifier notify.Notifier
	clock    clock.Clock

	flights singleflight.Group

	mu          sync.Mutex
	states      map[string]State
	views       map[string]View
	active      window.Window
	lastUpdated time.Time
}

// NewSyncer creates a Syncer. renderer may be nil.
func NewSyncer(logger *slog.Logger, fetcher Fetcher, store *cache.Store, renderer Renderer, notifier notify.Notifier, clk clock.Clock) *Syncer {
	if renderer == nil {
		renderer = RendererFunc(func(View) {})
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Syncer{
		logger:   logger,
		fetcher:  fetcher,
		cache:    store,
		renderer: renderer,
		notifier: notifier,
		clock:    clk,
		states:   make(map[string]State),
		views:    make(map[string]View),
	}
}

// Refresh makes w the active window and synchronizes it. It returns the final
// view and the fetch error, if any; the view still holds whatever stayed on
// screen.
func (s *Syncer) Refresh(ctx context.Context, w window.Window) (View, error) {
	key := w.Key()

	s.mu.Lock()
	s.active = w
	inFlight := s.states[key] == StateLoading
	s.mu.Unlock()

	if inFlight {
		metrics.CoalescedRefreshes.Inc()
		s.logger.Debug("Attaching to in-flight refresh", "window", key)
	}

	// The flight outlives any single caller; the transport timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		return s.sync(flightCtx, w)
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(View)
		return v, res.Err
	case <-ctx.Done():
		return s.View(key), ctx.Err()
	}
}

// RefreshActive resynchronizes the window currently in view, "today" if none
// was ever requested.
func (s *Syncer) RefreshActive(ctx context.Context) (View, error) {
	return s.Refresh(ctx, s.Active())
}

// sync runs one Idle -> Loading -> Idle pass for w.
func (s *Syncer) sync(ctx context.Context, w window.Window) (View, error) {
	key := w.Key()

	s.mu.Lock()
	s.states[key] = StateLoading
	prev, hadPrev := s.views[key]
	s.mu.Unlock()

	shown := prev.Events
	entry, fromCache := s.cache.Load(ctx, key)
	if fromCache {
		shown = entry.Events
		s.logger.Debug("Serving cached events while refreshing", "window", key, "count", len(shown), "age", entry.Age(s.clock.Now()))
	}
	s.publish(View{Key: key, Window: w, Events: shown, Loading: true, FromCache: fromCache})

	events, err := s.fetcher.Fetch(ctx, w)
	if err != nil {
		if !fromCache && !hadPrev {
			// Nothing on screen yet; fall back to the last stored answer, however old.
			if stale, ok := s.cache.Stale(ctx, key); ok {
				shown = stale.Events
				s.logger.Info("Serving stale cached events after failed refresh", "window", key, "age", stale.Age(s.clock.Now()))
			}
		}
		if shown == nil {
			shown = []models.CalendarEvent{}
		}
		s.logger.Error("Failed to refresh events", "window", key, "error", err)
		v := s.finish(key, View{Key: key, Window: w, Events: shown, FromCache: fromCache, Err: err})
		s.notifier.Error(fmt.Sprintf("Could not load calendar events: %v", err))
		return v, err
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastUpdated = now
	s.mu.Unlock()

	v := s.finish(key, View{Key: key, Window: w, Events: events})
	s.cache.Save(ctx, key, events)
	s.logger.Info("Events synchronized", "window", key, "count", len(events))

	if fromCache {
		s.notifier.Success("Calendar updated")
	}
	return v, nil
}

// finish records v as the idle view of key and publishes it.
func (s *Syncer) finish(key string, v View) View {
	s.mu.Lock()
	v.LastUpdated = s.lastUpdated
	s.states[key] = StateIdle
	s.views[key] = v
	s.mu.Unlock()

	s.publish(v)
	return v
}

func (s *Syncer) publish(v View) {
	if v.Loading {
		s.mu.Lock()
		v.LastUpdated = s.lastUpdated
		if v.FromCache {
			cached := v
			cached.Loading = false
			s.views[v.Key] = cached
		}
		s.mu.Unlock()
	}
	s.renderer.Render(v)
}

// WatchForeground refreshes the active window whenever src reports the
// foreground regained and more than half the freshness window has passed since
// the last successful sync. The returned function stops watching.
func (s *Syncer) WatchForeground(ctx context.Context, src visibility.Source) func() {
	return src.OnForegroundRegained(func() {
		since := s.clock.Now().Sub(s.LastUpdated())
		if since <= cache.FreshnessWindow/2 {
			s.logger.Debug("Foreground regained, events still fresh", "since", since)
			return
		}
		s.logger.Debug("Foreground regained, refreshing", "since", since)
		_, _ = s.RefreshActive(ctx)
	})
}

// Active returns the window currently in view.
func (s *Syncer) Active() window.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// State returns the state of key.
func (s *Syncer) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key]
}

// View returns the last settled view of key.
func (s *Syncer) View(key string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[key]
}

// LastUpdated returns when a remote fetch last succeeded.
func (s *Syncer) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// Lookup finds a displayed event by id, searching the active window first.
func (s *Syncer) Lookup(id string) (models.CalendarEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := find(s.views[s.active.Key()].Events, id); ok {
		return e, true
	}
	for _, v := range s.views {
		if e, ok := find(v.Events, id); ok {
			return e, true
		}
	}
	return models.CalendarEvent{}, false
}

func find(events []models.CalendarEvent, id string) (models.CalendarEvent, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return models.CalendarEvent{}, false
}
