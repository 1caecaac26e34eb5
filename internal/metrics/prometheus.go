package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_lifecycle_operations_total",
			Help: "Total lifecycle operations by operation name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_webhook_events_total",
			Help: "Inbound provider webhook events by normalized type",
		},
		[]string{"event"},
	)

	ReconciliationsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_reconciliations_discarded_total",
			Help: "Reconciliation writes discarded because a newer event already applied",
		},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of remote gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	ConnectedInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "channel_connected_instances",
			Help: "Number of channel instances currently in connected state",
		},
	)

	EventQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_queue_depth",
			Help: "Current RabbitMQ event queue depth per tenant",
		},
		[]string{"tenant"},
	)

	WorkerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_worker_events_processed_total",
			Help: "Webhook events processed by the worker pool, by outcome",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(LifecycleOps)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(ReconciliationsDiscarded)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(ConnectedInstances)
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(WorkerProcessed)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
