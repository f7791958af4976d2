package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec

	approvalDecisions *prometheus.CounterVec

	outboxEnqueued   *prometheus.CounterVec
	outboxDispatched *prometheus.CounterVec
	outboxDead       *prometheus.CounterVec
	relayLag         *prometheus.HistogramVec

	handlerLatency *prometheus.HistogramVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approval",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "http_errors_total",
			Help:      "Total number of failed HTTP requests by error code.",
		}, []string{"path", "method", "code"}),
		approvalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "decisions_total",
			Help:      "Approve and reject decisions by policy and outcome.",
		}, []string{"policy", "decision", "outcome"}),
		outboxEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "outbox_enqueue_total",
			Help:      "Trigger events written to the outbox.",
		}, []string{"trigger"}),
		outboxDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "outbox_dispatch_total",
			Help:      "Outbox dispatch attempts by result.",
		}, []string{"trigger", "result"}),
		outboxDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval",
			Name:      "outbox_dead_total",
			Help:      "Outbox rows that exhausted their attempts.",
		}, []string{"trigger"}),
		relayLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approval",
			Name:      "event_relay_lag_seconds",
			Help:      "Delay between a lifecycle event's commit and its delivery to subscribers.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}, []string{"trigger"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approval",
			Name:      "trigger_handler_duration_seconds",
			Help:      "Trigger handler latency by handler and status.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"handler", "status"}),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.approvalDecisions,
		m.outboxEnqueued,
		m.outboxDispatched,
		m.outboxDead,
		m.relayLag,
		m.handlerLatency,
	)
	return m
}

// Registry exposes the registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordDecision counts an approve or reject call.
func (m *Metrics) RecordDecision(policy, decision, outcome string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(policy, decision, outcome).Inc()
}

// RecordEnqueue counts a trigger event written to the outbox.
func (m *Metrics) RecordEnqueue(trigger string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(trigger).Inc()
}

// RecordDispatch counts one relay dispatch attempt.
func (m *Metrics) RecordDispatch(trigger, result string) {
	if m == nil {
		return
	}
	m.outboxDispatched.WithLabelValues(trigger, result).Inc()
}

// RecordDead counts an outbox row that gave up.
func (m *Metrics) RecordDead(trigger string) {
	if m == nil {
		return
	}
	m.outboxDead.WithLabelValues(trigger).Inc()
}

// ObserveRelayLag records how long a committed event waited before delivery.
func (m *Metrics) ObserveRelayLag(trigger string, lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.relayLag.WithLabelValues(trigger).Observe(lag.Seconds())
}

// ObserveHandler records one handler invocation.
func (m *Metrics) ObserveHandler(handler, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerLatency.WithLabelValues(handler, status).Observe(duration.Seconds())
}
