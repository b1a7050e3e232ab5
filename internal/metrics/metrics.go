package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job lifecycle, search unit and delivery counters.

var (
	// Worker
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vanity",
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Jobs finished by the worker, by outcome",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vanity",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Wall time from dequeue to terminal status",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	}, []string{"outcome"})

	JobAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vanity",
		Subsystem: "worker",
		Name:      "job_attempts",
		Help:      "Candidate keys generated per finished job",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	})

	UnitsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vanity",
		Subsystem: "worker",
		Name:      "units_active",
		Help:      "Search units currently running",
	})

	UnitFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vanity",
		Subsystem: "worker",
		Name:      "unit_faults_total",
		Help:      "Search units that exited with an error",
	}, []string{"unit"})

	// API
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vanity",
		Subsystem: "api",
		Name:      "payments_total",
		Help:      "Payment verifications, by result",
	}, []string{"result"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vanity",
		Subsystem: "api",
		Name:      "redemptions_total",
		Help:      "Delivery attempts, by result",
	}, []string{"result"})
)

// Outcome labels.
const (
	OutcomeComplete = "complete"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeRetried  = "retried"
)
