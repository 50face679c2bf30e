package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nd2conv_jobs_processed_total",
		Help: "Total number of jobs processed, by outcome",
	}, []string{"outcome"})

	JobStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nd2conv_job_stage_duration_seconds",
		Help:    "Duration of conversion pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"stage"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nd2conv_active_jobs",
		Help: "Number of jobs currently being processed",
	})

	LeaseExtensionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd2conv_lease_extensions_total",
		Help: "Total number of message visibility extensions sent",
	})

	DeadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd2conv_dead_letters_total",
		Help: "Total number of messages forwarded to the dead-letter queue",
	})

	DeadLetterFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd2conv_dead_letter_failures_total",
		Help: "Failed dead-letter publishes; each one is a potential silent loss",
	})
)
