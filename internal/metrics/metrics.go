package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammon_jobs_submitted_total",
			Help: "Jobs accepted into a queue",
		},
		[]string{"queue"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammon_jobs_finished_total",
			Help: "Jobs that reached a terminal state",
		},
		[]string{"queue", "state"}, // finished, failed
	)

	AdmissionRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gammon_admission_rejected_total",
			Help: "Submissions rejected because the user already has an active job",
		},
	)

	JobsReapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammon_jobs_reaped_total",
			Help: "Orphaned jobs recovered from dead workers",
		},
		[]string{"action"}, // requeued, failed
	)

	EngineTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gammon_engine_command_timeouts_total",
			Help: "Engine commands that did not go idle within the per-command timeout",
		},
	)

	TrackerEmptySourceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gammon_tracker_empty_source_total",
			Help: "Moves ignored because their source point held no checker",
		},
	)

	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gammon_queue_length",
			Help: "Jobs waiting in each queue",
		},
		[]string{"queue"},
	)

	// 10ms .. ~2.9h
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gammon_job_duration_seconds",
			Help:    "Wall-clock time spent executing a job",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 21),
		},
		[]string{"queue"},
	)
)
