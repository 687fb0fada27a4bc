// Package metrics provides Prometheus metrics collection for Strata.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for Strata.
type Collector struct {
	// Entity operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Event metrics
	EventsPublished *prometheus.CounterVec

	// Version history metrics
	VersionsPruned *prometheus.CounterVec

	// Build metrics
	EntitiesBuilt prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on
// the default registerer.
func New() *Collector {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a collector registered on reg. Tests pass their own
// registry so collectors don't collide.
func NewWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "strata",
				Name:      "entity_operations_total",
				Help:      "Total entity operations processed",
			},
			[]string{"entity", "action", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "strata",
				Name:      "entity_operation_duration_seconds",
				Help:      "Entity operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"entity", "action"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "strata",
				Name:      "auth_failures_total",
				Help:      "Total authentication and authorization failures",
			},
			[]string{"reason"},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "strata",
				Name:      "events_published_total",
				Help:      "Total lifecycle events published",
			},
			[]string{"entity", "event"},
		),
		VersionsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "strata",
				Name:      "versions_pruned_total",
				Help:      "Total version rows removed by retention",
			},
			[]string{"entity"},
		),
		EntitiesBuilt: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "strata",
				Name:      "entities_built_total",
				Help:      "Total entity definitions built",
			},
		),
	}
}

// ObservePruned records version rows removed by retention.
func (c *Collector) ObservePruned(entity string, count int) {
	c.VersionsPruned.WithLabelValues(entity).Add(float64(count))
}
