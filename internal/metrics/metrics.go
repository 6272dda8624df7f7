// Package metrics exposes the server's Prometheus collectors on a dedicated
// registry, served by the admin HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the server's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests that don't care about metrics quiet.
type Metrics struct {
	Registry *prometheus.Registry

	commands    *prometheus.CounterVec
	connections prometheus.Gauge
	watchers    prometheus.Gauge
	broadcasts  prometheus.Counter
	delivered   prometheus.Counter
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		Registry: reg,
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ircdb_commands_total",
			Help: "Processed IRC commands by command and outcome",
		}, []string{"command", "outcome"}),
		connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ircdb_connections",
			Help: "Live client connections",
		}),
		watchers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ircdb_delivery_watchers",
			Help: "Live per-membership delivery watchers",
		}),
		broadcasts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ircdb_broadcasts_total",
			Help: "Writes to channel message slots",
		}),
		delivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ircdb_lines_delivered_total",
			Help: "Lines forwarded to members by delivery watchers",
		}),
	}
}

// ObserveCommand records one processed command and whether it failed.
func (m *Metrics) ObserveCommand(command string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) WatcherStarted() {
	if m != nil {
		m.watchers.Inc()
	}
}

func (m *Metrics) WatcherStopped() {
	if m != nil {
		m.watchers.Dec()
	}
}

func (m *Metrics) BroadcastWritten() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) LineDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}
