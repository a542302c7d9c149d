// Package metrics provides Prometheus metrics for the clientdesk core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the core.
type Metrics struct {
	GatewayRequestsTotal *prometheus.CounterVec
	GatewayDuration      *prometheus.HistogramVec
	GatewayReplaysTotal  prometheus.Counter
	RefreshTotal         *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	ForcedSignoutsTotal  prometheus.Counter
	SessionGeneration    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientdesk_gateway_requests_total",
				Help: "Outbound requests through the gateway by path and status.",
			},
			[]string{"path", "status"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clientdesk_gateway_request_duration_seconds",
				Help:    "Outbound request duration by path.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		GatewayReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clientdesk_gateway_replays_total",
				Help: "Requests replayed once after a credential refresh.",
			},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientdesk_refresh_total",
				Help: "Credential renewal attempts by result.",
			},
			[]string{"result"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientdesk_transitions_total",
				Help: "Workflow transition requests by action and result.",
			},
			[]string{"action", "result"},
		),
		ForcedSignoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clientdesk_forced_signouts_total",
				Help: "Forced sign-outs performed by the session watchdog.",
			},
		),
		SessionGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clientdesk_session_generation",
				Help: "Current credential generation counter.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.GatewayRequestsTotal)
	reg.MustRegister(m.GatewayDuration)
	reg.MustRegister(m.GatewayReplaysTotal)
	reg.MustRegister(m.RefreshTotal)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.ForcedSignoutsTotal)
	reg.MustRegister(m.SessionGeneration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordGatewayRequest increments the outbound request counter.
func (m *Metrics) RecordGatewayRequest(path, status string) {
	m.GatewayRequestsTotal.WithLabelValues(path, status).Inc()
}

// ObserveGatewayDuration records an outbound request duration.
func (m *Metrics) ObserveGatewayDuration(path string, seconds float64) {
	m.GatewayDuration.WithLabelValues(path).Observe(seconds)
}

// RecordReplay counts a post-refresh replay.
func (m *Metrics) RecordReplay() {
	m.GatewayReplaysTotal.Inc()
}

// RecordRefresh counts a renewal attempt outcome.
func (m *Metrics) RecordRefresh(result string) {
	m.RefreshTotal.WithLabelValues(result).Inc()
}

// RecordTransition counts a transition request outcome.
func (m *Metrics) RecordTransition(action, result string) {
	m.TransitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordForcedSignout counts a watchdog-driven sign-out.
func (m *Metrics) RecordForcedSignout() {
	m.ForcedSignoutsTotal.Inc()
}

// SetSessionGeneration publishes the credential generation counter.
func (m *Metrics) SetSessionGeneration(gen float64) {
	m.SessionGeneration.Set(gen)
}
