// Package metrics exposes Prometheus counters for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Open WebSocket connections.",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "WebSocket connections accepted since start.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound events by name.",
	}, []string{"event"})

	EventsIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_ignored_total",
		Help: "Inbound events dropped without side effects.",
	})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcasts_total",
		Help: "Room broadcasts by event name.",
	}, []string{"event"})

	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_backend_requests_total",
		Help: "Meeting service calls by operation and outcome.",
	}, []string{"op", "outcome"})
)

// ObserveBackend records one meeting service call.
func ObserveBackend(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	BackendRequestsTotal.WithLabelValues(op, outcome).Inc()
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
