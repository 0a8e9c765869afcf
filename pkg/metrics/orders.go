package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics counts lifecycle activity: orders placed, status transitions,
// and checkouts rejected for lack of stock.
type OrderMetrics struct {
	created             prometheus.Counter
	transitions         *prometheus.CounterVec
	reservationFailures prometheus.Counter
}

// NewOrderMetrics registers the order metrics. A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders successfully placed.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Effective order status transitions.",
	}, []string{"from", "to"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_reservation_failures_total",
		Help:      "Checkouts rejected because stock was insufficient.",
	})
	reg.MustRegister(created, transitions, failures)
	return &OrderMetrics{created: created, transitions: transitions, reservationFailures: failures}
}

func (m *OrderMetrics) IncCreated() {
	if m == nil || m.created == nil {
		return
	}
	m.created.Inc()
}

func (m *OrderMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *OrderMetrics) IncReservationFailure() {
	if m == nil || m.reservationFailures == nil {
		return
	}
	m.reservationFailures.Inc()
}
