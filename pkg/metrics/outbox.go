package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts publish outcomes per event type.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox metrics. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(outcomes)
	return &OutboxMetrics{outcomes: outcomes}
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	m.inc(eventType, "published")
}

func (m *OutboxMetrics) IncRetry(eventType string) {
	m.inc(eventType, "retry")
}

func (m *OutboxMetrics) IncDeadLettered(eventType string) {
	m.inc(eventType, "dead_lettered")
}

// IncDuplicate counts rows skipped because a previous pass already sent them.
func (m *OutboxMetrics) IncDuplicate(eventType string) {
	m.inc(eventType, "duplicate")
}

func (m *OutboxMetrics) inc(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
