package remote

import "fmt"

// FetchError reports a failed read against the remote event source. It is
// recoverable: callers keep whatever they were already showing.
type FetchError struct {
	Window     string // canonical key of the requested window
	StatusCode int    // zero when no response arrived
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetching events for %s: %s", e.Window, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetching events for %s: %v", e.Window, e.Err)
	default:
		return fmt.Sprintf("fetching events for %s failed", e.Window)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a failed create, update or remove.
type MutationError struct {
	Operation  string // add, update, remove
	StatusCode int
	Status     string
	Err        error
}

func (e *MutationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s event: %s", e.Operation, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s event: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s event failed", e.Operation)
	}
}

func (e *MutationError) Unwrap() error { return e.Err }
