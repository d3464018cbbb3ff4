// Package metrics exposes the proxy's runtime counters as Prometheus
// collectors: active upstream connections, active client sessions, and
// requests routed per server transport.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors the Session Manager and HTTP Front End
// update as they work. Callers register it with a prometheus.Registerer
// (or use the default via MustRegister) and pass it down to whichever
// component needs to move a gauge or bump a counter.
type Registry struct {
	ActiveConnections prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestErrors     *prometheus.CounterVec
	InitializeTotal   prometheus.Counter
	GlobalPromotions  prometheus.Counter
}

// New builds a Registry. namespace/subsystem follow the usual Prometheus
// naming convention (e.g. "mcpproxy", "").
func New(namespace, subsystem string) *Registry {
	return &Registry{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_connections",
			Help:      "Number of upstream connections currently held open by the proxy.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Number of client sessions currently bound to a connection.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Requests routed through the proxy bridge, by server transport and method.",
		}, []string{"transport", "method"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_errors_total",
			Help:      "Requests that resolved to a JSON-RPC error, by server transport and JSON-RPC error code.",
		}, []string{"transport", "code"}),
		InitializeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "initialize_total",
			Help:      "initialize requests handled, across new, reused, and global connections.",
		}),
		GlobalPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "global_promotions_total",
			Help:      "Times an upstream's \"already initialized\" error promoted a connection to the global singleton.",
		}),
	}
}

// MustRegister registers every collector with reg.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.ActiveConnections,
		r.ActiveSessions,
		r.RequestsTotal,
		r.RequestErrors,
		r.InitializeTotal,
		r.GlobalPromotions,
	)
}
