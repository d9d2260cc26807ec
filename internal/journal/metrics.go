package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the facade's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Fallbacks  *prometheus.CounterVec
	Snapshots  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_journal_operations_total",
			Help: "Journal operations by operation and result",
		}, []string{"op", "result"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_journal_fallbacks_total",
			Help: "Operations served by the on-device fallback after permission was denied",
		}, []string{"op"}),
		Snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_journal_snapshots_total",
			Help: "Record snapshots published to subscribers",
		}),
	}
}

func (m *Metrics) op(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) fallback(op string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) snapshot() {
	if m == nil {
		return
	}
	m.Snapshots.Inc()
}
