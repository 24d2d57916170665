// Package metrics defines the Prometheus metrics of one server instance.
// Metrics live on a per-instance registry; nothing is registered globally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all metrics of an instance. A nil *Metrics is not valid;
// use New with any registry, tests included.
type Metrics struct {
	registry *prometheus.Registry

	// UDP
	DatagramsReceived    prometheus.Counter
	DatagramsIntercepted prometheus.Counter

	// TCP multiplexing
	ConnectionsAccepted prometheus.Counter
	ConnectionsRouted   *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec

	// run loop
	Ticks          prometheus.Counter
	DroppedSeconds prometheus.Counter
	TickDuration   prometheus.Histogram

	// sessions
	ActiveSessions   *prometheus.GaugeVec
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	QueueOverflows   prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_udp_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsIntercepted: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_udp_datagrams_intercepted_total",
			Help: "Total number of UDP datagrams consumed by intercept observers",
		}),

		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_tcp_connections_accepted_total",
			Help: "Total number of TCP connections accepted by multiplex servers",
		}),
		ConnectionsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gamenet_tcp_connections_routed_total",
			Help: "Total number of TCP connections routed, by protocol",
		}, []string{"protocol"}),
		ConnectionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gamenet_tcp_connections_rejected_total",
			Help: "Total number of TCP connections rejected, by reason",
		}, []string{"reason"}),

		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_ticks_total",
			Help: "Total number of simulation ticks run",
		}),
		DroppedSeconds: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_tick_dropped_seconds_total",
			Help: "Wall time discarded by the catch-up cap",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamenet_tick_duration_seconds",
			Help:    "Time spent in one simulation tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),

		ActiveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gamenet_sessions_active",
			Help: "Current number of reliable sessions, by transport",
		}, []string{"transport"}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_session_messages_received_total",
			Help: "Total number of session messages received",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_session_messages_sent_total",
			Help: "Total number of session messages sent",
		}),
		QueueOverflows: f.NewCounter(prometheus.CounterOpts{
			Name: "gamenet_dispatch_queue_overflows_total",
			Help: "Total number of callbacks rejected by a full dispatch queue",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
