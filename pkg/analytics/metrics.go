package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the query layer
type Metrics struct {
	Queries QueryMetrics
	Items   ItemMetrics
}

// QueryMetrics tracks analytics operations
type QueryMetrics struct {
	// Total tracks operations with status
	Total *prometheus.CounterVec // labels: operation, status (success/failed)

	Duration *prometheus.HistogramVec // labels: operation
}

// ItemMetrics tracks item resolution
type ItemMetrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Created     prometheus.Counter

	// EnrichmentFailures tracks items created without metadata after a failed lookup
	EnrichmentFailures prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Queries: QueryMetrics{
			Total: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_analytics_queries_total",
					Help: "Total number of analytics operations",
				},
				[]string{"operation", "status"},
			),
			Duration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "log_analytics_query_duration_seconds",
					Help:    "Time spent in one analytics operation",
					Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
				},
				[]string{"operation"},
			),
		},
		Items: ItemMetrics{
			CacheHits: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_item_cache_hits_total",
				Help: "Total number of item lookups served from the cache",
			}),
			CacheMisses: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_item_cache_misses_total",
				Help: "Total number of item lookups that reached the store",
			}),
			Created: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_items_created_total",
				Help: "Total number of items created on first resolution",
			}),
			EnrichmentFailures: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_enrichment_failures_total",
				Help: "Total number of items created without metadata because the catalog lookup failed",
			}),
		},
	}
}
