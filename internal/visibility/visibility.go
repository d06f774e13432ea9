// Package visibility tells the synchronizer when the host application comes
// back to the foreground.
package visibility

import (
	"os"
	"os/signal"
	"sync"
)

// Source invokes registered callbacks whenever the application regains the
// foreground. The returned stop function unregisters the callback.
type Source interface {
	OnForegroundRegained(fn func()) (stop func())
}

// Manual fires only when Regain is called. Tests and embedders that own their
// own focus events use it.
type Manual struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

// NewManual returns a Manual source with no callbacks.
func NewManual() *Manual {
	return &Manual{fns: make(map[int]func())}
}

func (m *Manual) OnForegroundRegained(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.fns[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.fns, id)
	}
}

// Regain runs every registered callback synchronously.
func (m *Manual) Regain() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.fns))
	for _, fn := range m.fns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Signal treats delivery of any of its signals as regaining the foreground.
// On Unix the defaults are SIGCONT (resumed after a stop, e.g. `fg`) and SIGUSR1.
type Signal struct {
	signals []os.Signal
}

// NewSignal watches sigs, or ForegroundSignals when none are given.
func NewSignal(sigs ...os.Signal) *Signal {
	if len(sigs) == 0 {
		sigs = ForegroundSignals
	}
	return &Signal{signals: sigs}
}

func (s *Signal) OnForegroundRegained(fn func()) func() {
	if len(s.signals) == 0 {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, s.signals...)

	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
