// Package metrics defines the Prometheus collectors exported by pgxdash.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestrator
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgxdash_runs_total",
			Help: "Completed multi-gene runs by overall status",
		},
		[]string{"status"}, // "all_succeeded", "partial_failure", "all_failed", "cancelled"
	)

	GeneTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgxdash_gene_tasks_total",
			Help: "Finished gene tasks by outcome and error kind",
		},
		[]string{"outcome", "kind"},
	)

	GeneTaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgxdash_gene_task_duration_seconds",
			Help:    "Wall time of a single gene analysis",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgxdash_active_workers",
			Help: "Gene workers currently running an analysis",
		},
	)

	// Event channel
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxdash_events_published_total",
			Help: "Progress events accepted by the event channel",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxdash_events_dropped_total",
			Help: "Progress events dropped because they could not be published",
		},
	)

	// Upstream APIs
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgxdash_api_requests_total",
			Help: "Upstream API requests by source and result",
		},
		[]string{"source", "result"}, // result: "ok", "cache_hit", or an error kind
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgxdash_api_request_duration_seconds",
			Help:    "Upstream API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgxdash_circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)
)
