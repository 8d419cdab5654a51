// Package metrics wraps the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the Prometheus collectors the server keeps updated.
// It is a thin, deliberately flat wrapper (no per-component sub-registries)
// mirroring the shape of go-server-3's Registry.
type Registry struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionsPeak   prometheus.Gauge

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	MessagesPerSec   prometheus.Gauge

	Errors           prometheus.Counter
	BroadcastDropped prometheus.Counter

	AvgLatencyMs prometheus.Gauge
	ErrorRate    prometheus.Gauge
}

// NewRegistry creates and registers the Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedge_ws_connections_active",
			Help: "Number of currently authenticated and unauthenticated EA connections.",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedge_ws_connections_total",
			Help: "Cumulative number of accepted EA connections since the server started.",
		}),
		ConnectionsPeak: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedge_ws_connections_peak",
			Help: "High-water mark of concurrent EA connections during the current run.",
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedge_ws_messages_received_total",
			Help: "Cumulative number of messages received from EA clients.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedge_ws_messages_sent_total",
			Help: "Cumulative number of messages sent to EA clients.",
		}),
		MessagesPerSec: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedge_ws_messages_per_second",
			Help: "Messages received per second over the current run (cumulative messages / uptime), computed by the performance monitor.",
		}),
		Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedge_ws_errors_total",
			Help: "Cumulative number of messages rejected with a protocol error. Transport read/write failures and connections rejected at max_connections are not counted.",
		}),
		BroadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedge_ws_broadcast_dropped_total",
			Help: "Number of broadcast enqueues skipped because a client's outbound queue was full.",
		}),
		AvgLatencyMs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedge_ws_avg_latency_ms",
			Help: "Moving average request/response latency across clients with a measurement.",
		}),
		ErrorRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedge_ws_error_rate_percent",
			Help: "errors / messages_received * 100, as last computed by the performance monitor.",
		}),
	}
}

// Handler returns an HTTP handler exposing the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
