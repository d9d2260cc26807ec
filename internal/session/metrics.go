package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session engine's Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	SessionsStarted *prometheus.CounterVec
	SessionsExpired *prometheus.CounterVec
	SignOutFailures prometheus.Counter
	ActivityResets  prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sessions_started_total",
			Help: "Sessions started, by how they started (sign_in or recovered)",
		}, []string{"origin"}),
		SessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sessions_expired_total",
			Help: "Sessions ended by a timeout, by cause",
		}, []string{"cause"}),
		SignOutFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_session_signout_failures_total",
			Help: "Sign-out calls that failed while tearing down an expired session",
		}),
		ActivityResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_session_activity_resets_total",
			Help: "Inactivity timer resets caused by observed activity",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sessions_active",
			Help: "Sessions currently running",
		}),
	}
}

func (m *Metrics) started(origin string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(origin).Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) expired(cause Cause) {
	if m == nil {
		return
	}
	m.SessionsExpired.WithLabelValues(string(cause)).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) ended() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) signOutFailed() {
	if m == nil {
		return
	}
	m.SignOutFailures.Inc()
}

func (m *Metrics) activity() {
	if m == nil {
		return
	}
	m.ActivityResets.Inc()
}
