// Package metrics holds the Prometheus collectors of the relay. Collectors are
// registered on the default registry and exposed by the ops HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alerter"

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Handled events by outcome",
		},
		[]string{"outcome"},
	)

	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent handling one event, escalation included",
			Buckets:   prometheus.DefBuckets,
		},
	)

	resolverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "requests_total",
			Help:      "Strategy metadata lookups by result",
		},
		[]string{"result"},
	)

	deliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Chat sends by result",
		},
		[]string{"result"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalations",
			Name:      "total",
			Help:      "Operator escalations by result",
		},
		[]string{"result"},
	)

	subscribedDestinations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "destinations",
			Help:      "Destinations with at least one subscription",
		},
	)

	queueMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Queue messages consumed by topic",
		},
		[]string{"topic"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Ops HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		dispatchTotal,
		dispatchDuration,
		resolverRequests,
		deliveryTotal,
		escalationsTotal,
		subscribedDestinations,
		queueMessages,
		httpRequests,
	)
}

func ObserveDispatch(outcome string, d time.Duration) {
	dispatchTotal.WithLabelValues(outcome).Inc()
	dispatchDuration.Observe(d.Seconds())
}

func ObserveResolver(result string)   { resolverRequests.WithLabelValues(result).Inc() }
func ObserveDelivery(result string)   { deliveryTotal.WithLabelValues(result).Inc() }
func ObserveEscalation(result string) { escalationsTotal.WithLabelValues(result).Inc() }
func ObserveQueueMessage(topic string) {
	queueMessages.WithLabelValues(topic).Inc()
}

func SetSubscribedDestinations(n int) { subscribedDestinations.Set(float64(n)) }

func ObserveHTTP(path, method, status string) {
	httpRequests.WithLabelValues(path, method, status).Inc()
}
