// Package telemetry holds the process-wide Prometheus instruments. They are
// registered on the default registry and served by the ops API at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectionsTotal counts gap collections by area, data type and outcome
	// (success, no_data, error).
	CollectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridscan_collections_total",
		Help: "Gap collections by area, data type and outcome.",
	}, []string{"area", "data_type", "outcome"})

	// PointsStoredTotal counts points written to the store.
	PointsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridscan_points_stored_total",
		Help: "Time-series points upserted, by area and data type.",
	}, []string{"area", "data_type"})

	// BackfillChunksTotal counts processed backfill chunks by outcome
	// (completed, failed, no_data).
	BackfillChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridscan_backfill_chunks_total",
		Help: "Backfill chunks processed, by area, endpoint and outcome.",
	}, []string{"area", "endpoint", "outcome"})

	// UpstreamRequestDuration observes upstream call latency per endpoint.
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridscan_upstream_request_duration_seconds",
		Help:    "Latency of upstream API calls, by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// SchedulerJobRunsTotal counts scheduler job executions by outcome.
	SchedulerJobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridscan_scheduler_job_runs_total",
		Help: "Scheduler job runs, by job and outcome.",
	}, []string{"job", "outcome"})
)
