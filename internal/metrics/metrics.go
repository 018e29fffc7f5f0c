// Package metrics exposes Prometheus instruments for the mock RFB server.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rfbkit"

// Metrics holds the server's instruments.
type Metrics struct {
	registry *prometheus.Registry

	handshakesTotal   *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	activeSessions    prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	refusedTotal      prometheus.Counter
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		handshakesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by role and outcome (established or the error kind)",
		}, []string{"role", "result"}),

		handshakeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from accept to Established or Failed",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"role"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Established sessions currently open",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Post-handshake messages by direction and type",
		}, []string{"direction", "type"}),

		refusedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refused_connections_total",
			Help:      "Connections refused with a reason before security negotiation",
		}),
	}
}

// Registry returns the registry to serve, or nil for a nil receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHandshake records one finished handshake. result is "established"
// or an error kind name.
func (m *Metrics) ObserveHandshake(role, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.handshakesTotal.WithLabelValues(role, result).Inc()
	m.handshakeDuration.WithLabelValues(role).Observe(d.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// CountMessage records one message.
func (m *Metrics) CountMessage(direction, name string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction, name).Inc()
}

// Refused records a refused connection.
func (m *Metrics) Refused() {
	if m == nil {
		return
	}
	m.refusedTotal.Inc()
}
