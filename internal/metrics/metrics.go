// Package metrics exposes Prometheus instrumentation for the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the monitor's Prometheus collectors.
type Metrics struct {
	TicksTotal      prometheus.Counter
	FetchErrors     *prometheus.CounterVec
	SamplesTotal    prometheus.Counter
	EventsBroadcast *prometheus.CounterVec
	AlertsFired     prometheus.Counter
	WSClients       prometheus.Gauge
}

// New registers all collectors on reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taowatcher_ticks_total",
			Help: "Completed refresh cycles.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taowatcher_fetch_errors_total",
			Help: "Upstream fetch failures by source.",
		}, []string{"source"}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taowatcher_samples_total",
			Help: "Price samples appended to the rolling history.",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taowatcher_events_broadcast_total",
			Help: "WebSocket frames broadcast by event type.",
		}, []string{"type"}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taowatcher_alerts_fired_total",
			Help: "Threshold alerts fired.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taowatcher_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.FetchErrors,
		m.SamplesTotal,
		m.EventsBroadcast,
		m.AlertsFired,
		m.WSClients,
	)
	return m
}
