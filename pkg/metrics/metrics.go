package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	outcomes         *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	reconcileEvents  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_outcomes_total",
			Help: "Fulfillment runs by trigger and resulting order status.",
		}, []string{"trigger", "status"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Provider API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Provider API call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation"}),
		reconcileEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_events_total",
			Help: "Reconciler updates by channel (callback, poll, sweep) and outcome.",
		}, []string{"channel", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification sends by transport and outcome.",
		}, []string{"transport", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.outcomes, m.providerRequests, m.providerDuration, m.reconcileEvents, m.notifications)
	}
	return m
}

func (m *Metrics) Outcome(trigger, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) ProviderRequest(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, outcome).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) Reconcile(channel, outcome string) {
	if m == nil {
		return
	}
	m.reconcileEvents.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Notification(transport, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(transport, outcome).Inc()
}
