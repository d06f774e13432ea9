// Package cache keeps recently fetched event windows in a persistent store so
// they can be shown before the remote source answers.
//
// All entries live in one bounded list under StorageKey, newest first. An entry
// is served only while it is younger than FreshnessWindow, but it stays stored
// past that as the last known answer for its key. Saving a key replaces its
// entry whole and moves it to the front; the list never holds more than
// MaxEntries entries, so the least recently saved key falls off first.
//
// The cache is an optimization only: any failure of the underlying store is
// logged and reported as a miss (Load) or ignored (Save).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"agendasync/internal/clock"
	"agendasync/internal/metrics"
	"agendasync/internal/models"
	"agendasync/internal/store"
)

const (
	// StorageKey is the store key holding the serialized entry list.
	StorageKey = "calendar-events-cache"

	// FreshnessWindow is how long an entry may be served after it was saved.
	FreshnessWindow = 5 * time.Minute

	// MaxEntries caps the retention list across all keys.
	MaxEntries = 5
)

// Entry is the cached result of one window.
type Entry struct {
	Key       string                 `json:"key"`
	FetchedAt time.Time              `json:"fetchedAt"`
	Events    []models.CalendarEvent `json:"events"`
}

// Age returns how long ago the entry was saved.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Store is the event cache.
type Store struct {
	kv     store.KV
	clock  clock.Clock
	logger *slog.Logger

	// mu serializes the read-modify-write in Save.
	mu sync.Mutex
}

// New creates a cache over kv.
func New(kv store.KV, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{kv: kv, clock: clk, logger: logger}
}

// Load returns the entry for key if it exists and is still fresh.
func (s *Store) Load(ctx context.Context, key string) (Entry, bool) {
	entries, err := s.read(ctx)
	if err != nil {
		s.logger.Warn("Failed to read event cache", "key", key, "error", err)
		metrics.StoreErrors.WithLabelValues("load").Inc()
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return Entry{}, false
	}

	now := s.clock.Now()
	for _, e := range entries {
		if e.Key != key {
			continue
		}
		if e.Age(now) >= FreshnessWindow {
			s.logger.Debug("Cached events expired", "key", key, "age", e.Age(now))
			metrics.CacheLookups.WithLabelValues("expired").Inc()
			return Entry{}, false
		}
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return e, true
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return Entry{}, false
}

// Save replaces the entry for key with events stamped now.
func (s *Store) Save(ctx context.Context, key string, events []models.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(ctx)
	if err != nil {
		// Unreadable state is rebuilt from this entry alone.
		s.logger.Warn("Discarding unreadable event cache", "error", err)
		metrics.StoreErrors.WithLabelValues("load").Inc()
		entries = nil
	}

	now := s.clock.Now()
	snapshot := make([]models.CalendarEvent, len(events))
	copy(snapshot, events)
	kept := make([]Entry, 0, MaxEntries)
	kept = append(kept, Entry{Key: key, FetchedAt: now.UTC(), Events: snapshot})
	for _, e := range entries {
		if e.Key == key {
			continue
		}
		if len(kept) == MaxEntries {
			s.logger.Debug("Evicting cached events", "key", e.Key)
			continue
		}
		kept = append(kept, e)
	}

	if err := s.write(ctx, kept); err != nil {
		s.logger.Warn("Failed to write event cache", "key", key, "error", err)
		metrics.StoreErrors.WithLabelValues("save").Inc()
		return
	}
	s.logger.Debug("Cached events", "key", key, "count", len(events))
}

// Stale returns the stored entry for key whatever its age. It is the
// last-known-good fallback when a refresh fails and nothing else is on screen.
func (s *Store) Stale(ctx context.Context, key string) (Entry, bool) {
	for _, e := range s.Entries(ctx) {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns every physically stored entry, expired ones included, newest first.
func (s *Store) Entries(ctx context.Context) []Entry {
	entries, err := s.read(ctx)
	if err != nil {
		s.logger.Warn("Failed to read event cache", "error", err)
		return nil
	}
	return entries
}

func (s *Store) read(ctx context.Context) ([]Entry, error) {
	data, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) write(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, StorageKey, data)
}
