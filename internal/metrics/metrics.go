// Package metrics exposes Prometheus instrumentation for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message kinds used as the "kind" label of MessagesTotal.
const (
	KindChat   = "chat"
	KindSystem = "system"
)

// Metrics groups the collectors recorded by the hub and HTTP handlers.
//
// Each Metrics owns its registry so several servers can run in one process
// (tests do this) without duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// OnlineUsers is the size of the presence roster.
	OnlineUsers prometheus.Gauge

	// ActiveConnections counts sessions in the Active state.
	ActiveConnections prometheus.Gauge

	// RoomCount is the number of non-empty rooms.
	RoomCount prometheus.Gauge

	// RejectedConnections counts refused upgrades.
	// Labels: reason (unauthenticated|origin|error)
	RejectedConnections *prometheus.CounterVec

	// MessagesTotal counts dispatched chat messages.
	// Labels: kind (chat|system)
	MessagesTotal *prometheus.CounterVec

	// DroppedDeliveries counts recipients disconnected because their
	// outbound queue overflowed.
	DroppedDeliveries prometheus.Counter

	// PersistFailures counts chat messages that could not be stored.
	PersistFailures prometheus.Counter

	// RateLimited counts inbound frames discarded by the per-connection limiter.
	RateLimited prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_online_users",
			Help: "Number of users currently in the presence roster",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_connections_active",
			Help: "Number of active WebSocket sessions",
		}),
		RoomCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_room_count",
			Help: "Number of rooms with at least one member",
		}),
		RejectedConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_connections_rejected_total",
			Help: "Total number of refused WebSocket connections by reason",
		}, []string{"reason"}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_messages_total",
			Help: "Total number of chat messages dispatched by kind",
		}, []string{"kind"}),
		DroppedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_deliveries_dropped_total",
			Help: "Total number of recipients dropped because their send queue was full",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_persist_failures_total",
			Help: "Total number of chat messages that failed to persist",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_rate_limited_total",
			Help: "Total number of inbound frames discarded by rate limiting",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
