// Package metrics exposes the broker's Prometheus instrumentation. Metrics
// are registered once at init and scraped via the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_connections_rejected_total",
		Help: "Connection attempts rejected, by reason",
	}, []string{"reason"})

	// Topic and subscription metrics
	TopicsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_topics_active",
		Help: "Current number of topics in the registry",
	})

	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_subscriptions_active",
		Help: "Current number of (connection, topic) subscriptions",
	})

	// Delivery pipeline metrics
	PublishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_publishes_total",
		Help: "Total publishes accepted across all topics",
	})

	EventsDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_delivered_total",
		Help: "Total event frames handed to the transport",
	})

	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_dropped_total",
		Help: "Total frames evicted by subscriber queue overflow",
	})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_errors_total",
		Help: "Error envelopes emitted, by code",
	}, []string{"code"})

	HeartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_heartbeats_total",
		Help: "Heartbeat info envelopes broadcast",
	})

	// System metrics (fed by the monitoring sampler)
	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_cpu_usage_percent",
		Help: "Process host CPU usage percentage",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_memory_usage_bytes",
		Help: "Go heap in-use bytes",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_goroutines_active",
		Help: "Current goroutine count",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		TopicsActive,
		SubscriptionsActive,
		PublishesTotal,
		EventsDeliveredTotal,
		EventsDroppedTotal,
		ErrorsTotal,
		HeartbeatsTotal,
		CPUUsagePercent,
		MemoryUsageBytes,
		GoroutinesActive,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
