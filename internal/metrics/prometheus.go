// Package metrics implements the counter set in spec §4.7.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the fixed counter set the proxy maintains internally.
// These counters are never exposed over the wire (no promhttp handler is
// registered); they exist for in-process inspection and tests.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	RequestsTotal       prometheus.Counter
	RequestsSuccess     prometheus.Counter
	RequestsFailure     prometheus.Counter
	BackendTimeouts     prometheus.Counter
	BackendErrors       prometheus.Counter
}

// New creates a fresh, independently-registered counter set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_connections_accepted_total",
			Help: "Total QUIC connections accepted by the listener.",
		}),
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_requests_total",
			Help: "Total requests received by the proxy handler.",
		}),
		RequestsSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_requests_success_total",
			Help: "Requests answered with a backend response whose status is below 500.",
		}),
		RequestsFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_requests_failure_total",
			Help: "Requests that failed before a backend response was produced, or whose backend status is 500 or above.",
		}),
		BackendTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_backend_timeouts_total",
			Help: "Backend attempts that exceeded the per-attempt deadline.",
		}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_backend_errors_total",
			Help: "Backend attempts that failed with a transport error.",
		}),
	}

	registry.MustRegister(
		m.ConnectionsAccepted,
		m.RequestsTotal,
		m.RequestsSuccess,
		m.RequestsFailure,
		m.BackendTimeouts,
		m.BackendErrors,
	)

	return m
}

// Registry exposes the underlying registry for test readback via
// prometheus/testutil; it is never wired to an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
