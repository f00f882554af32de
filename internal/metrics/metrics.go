// Package metrics holds the relay's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liverelay"

// Metrics is one registry plus the relay collectors registered into it.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	admissionRejections *prometheus.CounterVec
	messagesRelayed     *prometheus.CounterVec
	upstreamSessions    *prometheus.CounterVec
	livenessTerminated  prometheus.Counter
	closes              *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open relay WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total relay WebSocket connections accepted",
		}),
		admissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Upgrade requests rejected before the handshake",
		}, []string{"reason"}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Frames relayed, by direction and message type",
		}, []string{"direction", "type"}),
		upstreamSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sessions_total",
			Help:      "Upstream session attempts by result",
		}, []string{"result"}),
		livenessTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_terminations_total",
			Help:      "Sockets terminated for missing a heartbeat",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_closes_total",
			Help:      "Relay-initiated socket closes by close code",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsActive,
		m.connectionsTotal,
		m.admissionRejections,
		m.messagesRelayed,
		m.upstreamSessions,
		m.livenessTerminated,
		m.closes,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.admissionRejections.WithLabelValues(reason).Inc()
}

// Relayed counts one frame. direction is "inbound" or "outbound".
func (m *Metrics) Relayed(direction, msgType string) {
	if m == nil {
		return
	}
	m.messagesRelayed.WithLabelValues(direction, msgType).Inc()
}

// UpstreamSession counts a connect attempt. result is "opened" or "failed".
func (m *Metrics) UpstreamSession(result string) {
	if m == nil {
		return
	}
	m.upstreamSessions.WithLabelValues(result).Inc()
}

func (m *Metrics) LivenessTerminated() {
	if m == nil {
		return
	}
	m.livenessTerminated.Inc()
}

func (m *Metrics) Closed(code string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(code).Inc()
}
