package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	IntentsDelivered prometheus.Counter
	IntentsFailed    prometheus.Counter
	IntentsCancelled prometheus.Counter
	IntentsRetried   *prometheus.CounterVec

	ClaimBatchSize  prometheus.Histogram
	DispatchLatency prometheus.Histogram

	ChannelAttempts *prometheus.CounterVec

	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all pipeline metrics
func New(namespace string) *Metrics {
	return &Metrics{
		IntentsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_delivered_total",
			Help:      "Total number of intents that reached DELIVERED",
		}),
		IntentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_failed_total",
			Help:      "Total number of intents that reached FAILED",
		}),
		IntentsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_cancelled_total",
			Help:      "Total number of intents cancelled after recipient deletion",
		}),
		IntentsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_retries_total",
			Help:      "Total number of retry transitions per intent kind",
		}, []string{"kind"}),

		ClaimBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_batch_size",
			Help:      "Number of intents claimed per poll cycle",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent processing one claimed intent",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		ChannelAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_attempts_total",
			Help:      "Delivery attempts per channel and outcome",
		}, []string{"channel", "outcome"}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewUnregistered builds the same collectors without registering them on the
// default registry. Used by tests, which may build many dispatchers.
func NewUnregistered(namespace string) *Metrics {
	return &Metrics{
		IntentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_delivered_total",
		}),
		IntentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_failed_total",
		}),
		IntentsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_cancelled_total",
		}),
		IntentsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_retries_total",
		}, []string{"kind"}),
		ClaimBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_batch_size",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
		}),
		ChannelAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_attempts_total",
		}, []string{"channel", "outcome"}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
