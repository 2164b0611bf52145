package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rentmarket"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Committed reservation state transitions by target state.",
		},
		[]string{"state"},
	)

	coordinatorRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_retries_total",
			Help:      "Transactions retried after a version conflict.",
		},
		[]string{"op"},
	)

	bookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Operations that exhausted their retries.",
		},
		[]string{"op"},
	)

	coordinatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coordinator_duration_seconds",
			Help:      "Time spent in coordinated item mutations, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment attempts by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationTransitions,
			coordinatorRetries,
			bookingConflicts,
			coordinatorDuration,
			payments,
			notifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTransition(state string) {
	reservationTransitions.WithLabelValues(state).Inc()
}

func IncRetry(op string) {
	coordinatorRetries.WithLabelValues(op).Inc()
}

func IncConflict(op string) {
	bookingConflicts.WithLabelValues(op).Inc()
}

func ObserveCoordinator(op string, seconds float64) {
	coordinatorDuration.WithLabelValues(op).Observe(seconds)
}

func IncPayment(result string) {
	payments.WithLabelValues(result).Inc()
}

func IncNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}
