package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the codeshare relay.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	BroadcastsTotal   prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codeshare_connections_total",
			Help: "Total WebSocket connections handled",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codeshare_active_connections",
			Help: "Current active WebSocket connections",
		}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codeshare_active_rooms",
			Help: "Rooms with at least one member",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeshare_events_total",
			Help: "Inbound relay events by type",
		}, []string{"event"}),
		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codeshare_broadcasts_total",
			Help: "Total room broadcasts fanned out",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeshare_errors_total",
			Help: "Total errors by type",
		}, []string{"type"}),
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeshare_executions_total",
			Help: "Judge submissions by outcome",
		}, []string{"outcome"}),
	}
}
