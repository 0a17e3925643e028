// Package metrics declares the Prometheus collectors exported by warren.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_operations_total",
			Help: "Total facade operations by result",
		},
		[]string{"op", "result"}, // result: "ok" or an error class
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_operation_duration_seconds",
			Help:    "Facade operation duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"op"},
	)

	// Lock metrics
	LockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_lock_wait_seconds",
			Help:    "Time spent waiting to acquire an advisory lock",
			Buckets: []float64{.0001, .001, .01, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	LockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_lock_timeouts_total",
			Help: "Total lock acquisitions abandoned after the timeout",
		},
		[]string{"mode"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_cache_lookups_total",
			Help: "Read cache lookups by outcome",
		},
		[]string{"table", "outcome"}, // outcome: "hit", "miss", "stale"
	)

	// Business metrics
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_messages_appended_total",
			Help: "Total messages appended",
		},
	)

	FilesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_files_queued_total",
			Help: "Total files added to work queues",
		},
	)

	FilesClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_files_claimed_total",
			Help: "Total files claimed by agents",
		},
	)

	FilesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_files_finished_total",
			Help: "Total files finished by outcome",
		},
		[]string{"status"},
	)

	FilesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_files_reclaimed_total",
			Help: "Total stalled files returned to the queue",
		},
	)

	MessagesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_messages_pruned_total",
			Help: "Total messages removed by retention",
		},
	)

	AgentsMarkedOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_agents_offline_total",
			Help: "Total agents marked offline",
		},
	)

	EventWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_event_write_failures_total",
			Help: "Audit events that could not be recorded",
		},
	)
)
