package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"agendasync/internal/syncer"
)

// tableRenderer prints each settled view, and cached views while they are
// being refreshed, as an aligned table.
type tableRenderer struct {
	mu  sync.Mutex
	out io.Writer
	loc *time.Location
}

func newTableRenderer(out io.Writer, loc *time.Location) *tableRenderer {
	return &tableRenderer{out: out, loc: loc}
}

func (r *tableRenderer) Render(v syncer.View) {
	if v.Loading && !v.FromCache {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	header := v.Key
	switch {
	case v.Loading:
		header += " (cached, refreshing)"
	case v.Err != nil:
		header += " (offline, showing last known events)"
	case !v.LastUpdated.IsZero():
		header += " (updated " + v.LastUpdated.In(r.loc).Format("15:04:05") + ")"
	}
	fmt.Fprintln(r.out, header)

	if len(v.Events) == 0 {
		fmt.Fprintln(r.out, "  no events")
		return
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tWHEN\tSUMMARY\tSTATUS\tATTENDEES")
	for _, e := range v.Events {
		when := e.Start
		if start, end := e.StartTime(), e.EndTime(); !start.IsZero() && !end.IsZero() {
			when = start.In(r.loc).Format("01-02 15:04") + "-" + end.In(r.loc).Format("15:04")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", e.ID, when, e.Summary, e.Status, strings.Join(e.Emails(), ", "))
	}
	tw.Flush()
}
