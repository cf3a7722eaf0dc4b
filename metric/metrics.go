// Package metric provides Prometheus instrumentation for the inferlink
// client: stream pipeline counters, control-channel counters, and
// connection bookkeeping.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inferlink"

// Metrics contains all client-level metrics. A nil *Metrics is valid and
// records nothing, so instrumentation can stay unconditional in the hot
// path.
type Metrics struct {
	// Stream channel metrics
	FramesSubmitted   prometheus.Counter
	ResultsReceived   *prometheus.CounterVec
	StreamErrors      prometheus.Counter
	OutstandingFrames prometheus.Gauge
	InferenceLatency  prometheus.Histogram

	// Control channel metrics
	ControlRequests *prometheus.CounterVec

	// Connection metrics
	ConnectAttempts *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all client metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_submitted_total",
				Help:      "Total number of frame batches submitted for inference",
			},
		),

		ResultsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "results_received_total",
				Help:      "Total number of inference results received",
			},
			[]string{"status"},
		),

		StreamErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "errors_total",
				Help:      "Total number of stream pipeline failures",
			},
		),

		OutstandingFrames: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "outstanding_frames",
				Help:      "Number of frames submitted but not yet dispatched",
			},
		),

		InferenceLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "inference_latency_seconds",
				Help:      "Time from frame submission to result dispatch",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ControlRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "control",
				Name:      "requests_total",
				Help:      "Total number of control channel requests by opcode",
			},
			[]string{"op"},
		),

		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "attempts_total",
				Help:      "Total number of server connection attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all client metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all client metrics and panics on conflicts.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.collectors()...)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesSubmitted,
		m.ResultsReceived,
		m.StreamErrors,
		m.OutstandingFrames,
		m.InferenceLatency,
		m.ControlRequests,
		m.ConnectAttempts,
	}
}

// NewRegistry creates a private Prometheus registry with a registered
// Metrics instance.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	m.MustRegister(reg)
	return reg, m
}

// ObserveSubmit records one submitted frame batch.
func (m *Metrics) ObserveSubmit() {
	if m == nil {
		return
	}
	m.FramesSubmitted.Inc()
}

// ObserveResult records one received result.
func (m *Metrics) ObserveResult(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ResultsReceived.WithLabelValues(status).Inc()
}

// ObserveStreamError records one pipeline failure.
func (m *Metrics) ObserveStreamError() {
	if m == nil {
		return
	}
	m.StreamErrors.Inc()
}

// SetOutstanding records the current outstanding frame count.
func (m *Metrics) SetOutstanding(n int) {
	if m == nil {
		return
	}
	m.OutstandingFrames.Set(float64(n))
}

// ObserveLatency records the submit-to-dispatch latency of one frame.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceLatency.Observe(d.Seconds())
}

// ObserveControl records one control request for the given opcode.
func (m *Metrics) ObserveControl(op string) {
	if m == nil {
		return
	}
	m.ControlRequests.WithLabelValues(op).Inc()
}

// ObserveConnect records one connection attempt.
func (m *Metrics) ObserveConnect(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}
