// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_connections",
		Help: "Live websocket connections",
	})

	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_room_subscriptions",
		Help: "Room subscriptions across all live connections",
	})

	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_total",
		Help: "Inbound messages by outcome (persisted, rejected, failed)",
	}, []string{"outcome"})

	Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huddle_broadcast_deliveries_total",
		Help: "Events enqueued to connections by room broadcasts",
	})

	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huddle_slow_consumer_evictions_total",
		Help: "Connections closed because their send buffer was full",
	})

	StoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_store_retries_total",
		Help: "Store operations retried after a transient error",
	}, []string{"op"})

	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huddle_store_duration_seconds",
		Help:    "Store operation latency including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Subscriptions,
		Messages,
		Deliveries,
		Evictions,
		StoreRetries,
		StoreLatency,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
