package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsScheduled — jobs, переданные в очередь, по маршруту планировщика.
	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_jobs_scheduled_total",
		Help: "Jobs handed to the queue, by scheduling route",
	}, []string{"route"})

	// JobsProcessed — jobs, обработанные воркером, по типу шага и исходу.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_jobs_processed_total",
		Help: "Jobs processed by workers, by step type and outcome",
	}, []string{"type", "outcome"})

	// JobDuration — время выполнения job воркером.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herald_job_duration_seconds",
		Help:    "Job execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// JobsPromoted — отложенные jobs, перенесённые в очередь ожидания.
	JobsPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_jobs_promoted_total",
		Help: "Delayed jobs moved to the wait list",
	})

	// JobsStalled — брошенные jobs, возвращённые в очередь.
	JobsStalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_jobs_stalled_total",
		Help: "Stalled jobs returned to the wait list",
	})

	// IdempotencyOutcomes — решения idempotency guard.
	IdempotencyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_idempotency_requests_total",
		Help: "Idempotent requests, by outcome",
	}, []string{"outcome"})

	// HTTPRequests — HTTP запросы API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_api_http_requests_total",
		Help: "Total HTTP requests handled by herald-api",
	}, []string{"method", "status"})
)
