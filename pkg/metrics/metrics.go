package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the login guard metrics
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	LocksTriggered  prometheus.Counter
	PasswordChanges prometheus.Counter
	LoginLatency    prometheus.Histogram

	StorageOperations *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

// New registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		LocksTriggered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "account_locks_total",
			Help:      "Accounts locked after reaching the failure threshold",
		}),
		PasswordChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "password_changes_total",
			Help:      "Successful password changes",
		}),
		LoginLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_duration_seconds",
			Help:      "Time spent evaluating a login attempt including storage",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		StorageOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Security record storage operations",
		}, []string{"operation", "status"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lockout events handed to the broker",
		}, []string{"event_type", "status"}),
	}
}
