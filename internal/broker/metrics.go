package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// brokerMetrics are registered on the broker's own registry and served by
// the admin API.
type brokerMetrics struct {
	registry *prometheus.Registry

	sessions          prometheus.Gauge
	requests          *prometheus.CounterVec
	messagesPublished *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	messagesAcked     *prometheus.CounterVec
	messagesExpired   *prometheus.CounterVec
	messagesRequeued  *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
}

func newBrokerMetrics() *brokerMetrics {
	const namespace, subsystem = "bunnymq", "fakebroker"
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	metrics := &brokerMetrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Open client connections",
		}),
		requests:          counter("requests_total", "Client frames decoded", "opcode"),
		messagesPublished: counter("messages_published_total", "Messages accepted by Publish", "queue"),
		messagesDelivered: counter("messages_delivered_total", "Messages pushed to a consumer", "queue"),
		messagesAcked:     counter("messages_acked_total", "Deliveries acknowledged", "queue"),
		messagesExpired:   counter("messages_expired_total", "Messages dropped by MessageExpiry", "queue"),
		messagesRequeued:  counter("messages_requeued_total", "Unacknowledged deliveries put back", "queue"),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Messages waiting for delivery",
		}, []string{"queue"}),
	}
	metrics.registry.MustRegister(
		metrics.sessions,
		metrics.requests,
		metrics.messagesPublished,
		metrics.messagesDelivered,
		metrics.messagesAcked,
		metrics.messagesExpired,
		metrics.messagesRequeued,
		metrics.queueDepth,
	)
	return metrics
}
