package syncer

import (
	"time"

	"agendasync/internal/models"
	"agendasync/internal/window"
)

// State is the per-window synchronization state.
type State int

const (
	StateIdle State = iota
	StateLoading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	default:
		return "unknown"
	}
}

// View is what a renderer receives on every publish.
type View struct {
	Key         string
	Window      window.Window
	Events      []models.CalendarEvent
	Loading     bool
	FromCache   bool      // Events came from the cache store on this pass
	LastUpdated time.Time // last successful remote sync of any window
	Err         error     // set when the last refresh of Key failed
}

// Renderer consumes published views.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }
