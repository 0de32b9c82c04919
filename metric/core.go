package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the worker exports.
const Namespace = "runtime_worker"

// Metrics contains the worker's process-level metrics
type Metrics struct {
	// Lifecycle
	ProcessState *prometheus.GaugeVec

	// Protocol
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FramesTotal     *prometheus.CounterVec
	PendingCalls    prometheus.Gauge

	// Storage
	StorageOps *prometheus.CounterVec

	// Worker engine
	WorkerCalls        *prometheus.CounterVec
	WorkerCallDuration *prometheus.HistogramVec

	// Metrics pusher
	PushAttempts            *prometheus.CounterVec
	PushConsecutiveFailures prometheus.Gauge
	PushEscalated           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all worker metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ProcessState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "process",
				Name:      "state",
				Help:      "1 for the current lifecycle state of the worker process, 0 otherwise",
			},
			[]string{"state"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "protocol",
				Name:      "requests_total",
				Help:      "Inbound requests from the host by method and outcome",
			},
			[]string{"method", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "protocol",
				Name:      "request_duration_seconds",
				Help:      "Inbound request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "frames_total",
				Help:      "Frames exchanged with the host by direction",
			},
			[]string{"direction"},
		),

		PendingCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "protocol",
				Name:      "pending_calls",
				Help:      "Outbound calls to the host awaiting a response",
			},
		),

		StorageOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Storage operations by layer, operation and result",
			},
			[]string{"layer", "op", "result"},
		),

		WorkerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "worker",
				Name:      "calls_total",
				Help:      "Runtime calls executed by the worker engine",
			},
			[]string{"method", "status"},
		),

		WorkerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "worker",
				Name:      "call_duration_seconds",
				Help:      "Runtime call execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		PushAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "pusher",
				Name:      "attempts_total",
				Help:      "Metric push attempts by result",
			},
			[]string{"result"},
		),

		PushConsecutiveFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pusher",
				Name:      "consecutive_failures",
				Help:      "Metric push failures since the last successful push",
			},
		),

		PushEscalated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pusher",
				Name:      "escalated",
				Help:      "1 while the consecutive push failure threshold is exceeded",
			},
		),
	}
}

// RecordProcessState marks state as the current lifecycle state
func (c *Metrics) RecordProcessState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1.0
		}
		c.ProcessState.WithLabelValues(s).Set(value)
	}
}

// RecordRequest records an inbound request outcome and duration
func (c *Metrics) RecordRequest(method, status string, duration time.Duration) {
	c.RequestsTotal.WithLabelValues(method, status).Inc()
	c.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFrame increments the frame counter for a direction ("in" or "out")
func (c *Metrics) RecordFrame(direction string) {
	c.FramesTotal.WithLabelValues(direction).Inc()
}

// RecordStorageOp increments the storage operation counter
func (c *Metrics) RecordStorageOp(layer, op, result string) {
	c.StorageOps.WithLabelValues(layer, op, result).Inc()
}

// RecordWorkerCall records a runtime call outcome and duration
func (c *Metrics) RecordWorkerCall(method, status string, duration time.Duration) {
	c.WorkerCalls.WithLabelValues(method, status).Inc()
	c.WorkerCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPush records a push attempt result and the current failure streak
func (c *Metrics) RecordPush(success bool, consecutiveFailures int, escalated bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.PushAttempts.WithLabelValues(result).Inc()
	c.PushConsecutiveFailures.Set(float64(consecutiveFailures))

	value := 0.0
	if escalated {
		value = 1.0
	}
	c.PushEscalated.Set(value)
}
