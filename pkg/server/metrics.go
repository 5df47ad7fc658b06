package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsConnected prometheus.Gauge
	SessionsTotal     prometheus.Counter
	ActiveTables      prometheus.Gauge
	HandsStarted      prometheus.Counter
	HandsCompleted    prometheus.Counter
	Commands          *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SessionsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardroom_sessions_connected",
			Help: "Currently connected WebSocket sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_sessions_total",
			Help: "Total accepted WebSocket sessions.",
		}),
		ActiveTables: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardroom_tables_active",
			Help: "Tables with a running actor.",
		}),
		HandsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_hands_started_total",
			Help: "Hands dealt across all tables.",
		}),
		HandsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_hands_completed_total",
			Help: "Hands settled across all tables.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardroom_commands_total",
			Help: "Client commands by type.",
		}, []string{"type"}),
		CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardroom_command_errors_total",
			Help: "Rejected client commands by error code.",
		}, []string{"code"}),
	}
}
