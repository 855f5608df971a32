// Package metrics holds the Prometheus collectors of the realtime service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realtime"

// Inbound message results.
const (
	ResultOK           = "ok"
	ResultMalformed    = "malformed"
	ResultRejected     = "rejected"
	ResultPersistError = "persist_error"
	ResultPublishError = "publish_error"
	ResultRateLimited  = "rate_limited"
)

// Metrics bundles the collectors shared by the hub, sessions and server.
type Metrics struct {
	Connections      *prometheus.GaugeVec
	Handshakes       *prometheus.CounterVec
	Inbound          *prometheus.CounterVec
	HandleDuration   *prometheus.HistogramVec
	Published        *prometheus.CounterVec
	Delivered        prometheus.Counter
	DeliveryFailures prometheus.Counter
	Groups           prometheus.Gauge
}

// New registers the collectors on reg. Use a fresh prometheus.NewRegistry()
// per instance in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections by channel.",
		}, []string{"channel"}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake attempts by channel and outcome.",
		}, []string{"channel", "result"}),
		Inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound client messages by channel and result.",
		}, []string{"channel", "result"}),
		HandleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time to persist and publish one inbound message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages handed to the fan-out transport by kind.",
		}, []string{"kind"}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Messages handed to local members.",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-member deliveries that failed and were skipped.",
		}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_groups",
			Help:      "Groups with at least one member on this process.",
		}),
	}
}
