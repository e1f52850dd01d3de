package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codejudge_submissions_total",
			Help: "Total number of accepted submit requests",
		},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codejudge_verdicts_total",
			Help: "Total number of terminal statuses written",
		},
		[]string{"status"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codejudge_executions_total",
			Help: "Total number of sandboxed executions by classification",
		},
		[]string{"outcome"}, // output, timed_out, runtime_failure, infrastructure_failure
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codejudge_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome"},
	)

	GradingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codejudge_grading_duration_ms",
			Help:    "Time from Running to terminal status in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codejudge_queue_depth",
			Help: "Current number of jobs in the queue",
		},
	)

	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codejudge_queue_rejections_total",
			Help: "Jobs not queued because the queue was full",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codejudge_active_workers",
			Help: "Number of workers currently processing jobs",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codejudge_container_creation_ms",
			Help:    "Time to create and start a container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	WorkspaceCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codejudge_workspace_cleanup_failures_total",
			Help: "Workspaces that could not be removed",
		},
	)

	RecoveredSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codejudge_recovered_submissions_total",
			Help: "Submissions touched by the recovery sweeper",
		},
		[]string{"action"}, // redispatched, abandoned
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codejudge_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
