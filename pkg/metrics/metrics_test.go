package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Outcome("payment", "completed")
	m.Outcome("payment", "completed")
	m.ProviderRequest("recharge", "accepted", 120*time.Millisecond)
	m.Reconcile("callback", "conflict")
	m.Notification("telegram", "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("payment", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("recharge", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileEvents.WithLabelValues("callback", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("telegram", "sent")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Outcome("payment", "failed")
		m.ProviderRequest("voucher", "transport_error", time.Second)
		m.Reconcile("poll", "applied")
		m.Notification("nats", "failed")
	})
}
