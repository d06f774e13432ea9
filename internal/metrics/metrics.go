package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Synchronization metrics, exposed by the watch command on /metrics.
var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agendasync_fetches_total",
			Help: "Total number of remote event fetches",
		},
		[]string{"source", "result"}, // result: success/error
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agendasync_fetch_duration_seconds",
			Help:    "Remote event fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"source"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agendasync_events_dropped_total",
			Help: "Remote records dropped for missing start, end or summary",
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agendasync_cache_lookups_total",
			Help: "Cache store lookups by outcome",
		},
		[]string{"result"}, // hit/miss/expired/error
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agendasync_store_errors_total",
			Help: "Swallowed persistent store failures",
		},
		[]string{"op"},
	)

	CoalescedRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agendasync_coalesced_refreshes_total",
			Help: "Refresh requests that attached to an in-flight fetch",
		},
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agendasync_mutations_total",
			Help: "Mutations submitted to the remote source",
		},
		[]string{"operation", "result"}, // result: success/error/rejected
	)
)
