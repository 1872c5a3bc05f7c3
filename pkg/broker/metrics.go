package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts terminal enqueue outcomes per resource.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_requests_total",
			Help: "The total number of enqueued requests by terminal outcome",
		},
		[]string{"resource", "status"},
	)

	// RetriesTotal counts executor retries per resource.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_retries_total",
			Help: "The total number of executor retries",
		},
		[]string{"resource", "error_type"},
	)

	// AdmissionDenialsTotal counts rate-limit denials during admission.
	AdmissionDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_admission_denials_total",
			Help: "The total number of rate-limit admission denials",
		},
		[]string{"resource"},
	)

	// WaitSeconds tracks time spent blocked on admission.
	WaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_wait_seconds",
			Help:    "Time spent waiting for rate-limit admission",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"resource"},
	)

	// ProcessingSeconds tracks executor time per resource.
	ProcessingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_processing_seconds",
			Help:    "Executor time for admitted requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"resource"},
	)
)
