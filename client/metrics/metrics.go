// Package metrics provides Prometheus collectors for the sync client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_mutations_total",
			Help: "Optimistic mutations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	MutationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threadsync_mutation_resolve_seconds",
			Help:    "Time from submission to confirmation or failure",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	PendingMutations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threadsync_pending_mutations",
			Help: "Mutations waiting for a server answer",
		},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_realtime_events_total",
			Help: "Realtime events received by type",
		},
		[]string{"type"},
	)

	ConflictsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadsync_conflicts_discarded_total",
			Help: "Writes dropped because a newer sequence was already applied",
		},
	)

	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_realtime_reconnects_total",
			Help: "Realtime connection attempts by result",
		},
		[]string{"result"},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_refreshes_total",
			Help: "REST catch-up refreshes by result",
		},
		[]string{"result"},
	)
)
