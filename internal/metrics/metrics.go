// Package metrics provides Prometheus instrumentation for the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResponsesTotal counts items drained from the result channel by kind.
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_responses_total",
			Help: "Total records drained from the result channel.",
		},
		[]string{"kind"}, // "response", "error_response"
	)

	// RequestErrorsTotal counts per-request errors delivered to consumers.
	RequestErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_request_errors_total",
			Help: "Total per-request errors routed to a single consumer.",
		},
	)

	// FatalErrorsTotal counts service-fatal errors that stopped dispatch.
	FatalErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_fatal_errors_total",
			Help: "Total service-fatal errors that halted the dispatch loop.",
		},
	)

	// ActiveConsumers tracks registered per-client consumers.
	ActiveConsumers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_active_consumers",
			Help: "Number of client consumers currently registered.",
		},
	)

	// TransportLatency observes worker-to-coordinator delivery latency,
	// measured from the Response creation timestamp.
	TransportLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "executor_transport_latency_seconds",
			Help:    "Latency between response creation on a worker and dispatch.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// SubmitsTotal counts task broadcasts by session backend.
	SubmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_submits_total",
			Help: "Total task broadcasts by session backend.",
		},
		[]string{"backend"},
	)
)
