// Package metrics exposes the engine's prometheus collectors. All collectors
// register on the default registry; cmd/server serves them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MutationsTotal counts committed mutations by activity action tag.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Committed group mutations by action.",
	}, []string{"action"})

	// MutationDuration observes end-to-end mutation latency, including the
	// exclusive-section wait.
	MutationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_mutation_duration_seconds",
		Help:    "Latency of group mutations.",
		Buckets: prometheus.DefBuckets,
	})

	// LockWait observes time spent waiting to enter a group's exclusive section.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Time spent acquiring the per-group exclusive section.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
	})

	// LockTimeouts counts acquisitions that gave up and surfaced group_busy.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_lock_timeouts_total",
		Help: "Exclusive-section acquisitions that timed out.",
	})

	// EventsPublished counts events fanned out to group rooms.
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_events_published_total",
		Help: "Events published to group rooms.",
	})

	// EventsDropped counts per-session deliveries skipped because the session
	// was slow, full, or rate-limited.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_events_dropped_total",
		Help: "Event deliveries dropped for slow or rate-limited sessions.",
	})

	// Subscriptions tracks currently-subscribed sessions across all rooms.
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_subscriptions_active",
		Help: "Currently subscribed sessions.",
	})
)
