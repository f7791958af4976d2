package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("/api/v1/tickets/:id/approve", "POST", 200, 15*time.Millisecond)
	m.RecordError("/api/v1/tickets/:id/approve", "POST", "NO_PENDING_APPROVAL")
	m.RecordDecision("ordered", "approve", "final")
	m.RecordEnqueue("on_created")
	m.RecordEnqueue("on_created")
	m.RecordDispatch("on_created", "success")
	m.RecordDead("on_created")
	m.ObserveHandler("email", "success", time.Millisecond)
	m.ObserveRelayLag("on_created", 2*time.Second)
	m.ObserveRelayLag("on_rejected", -time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/api/v1/tickets/:id/approve", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorCount.WithLabelValues("/api/v1/tickets/:id/approve", "POST", "NO_PENDING_APPROVAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvalDecisions.WithLabelValues("ordered", "approve", "final")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outboxEnqueued.WithLabelValues("on_created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxDead.WithLabelValues("on_created")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.relayLag))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "X")
		m.RecordDecision("ordered", "reject", "ok")
		m.RecordEnqueue("on_created")
		m.RecordDispatch("on_created", "failure")
		m.RecordDead("on_created")
		m.ObserveHandler("api", "failed", time.Second)
		m.ObserveRelayLag("on_created", time.Second)
	})
	assert.Nil(t, m.Registry())
}
