package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ingestion, grouped by stage
// NOTE: No file or bucket labels are used to avoid high cardinality issues
type Metrics struct {
	Runs    RunMetrics
	Files   FileMetrics
	Lines   LineMetrics
	Batches BatchMetrics
}

// RunMetrics tracks orchestrator runs
type RunMetrics struct {
	// Total tracks runs with status
	Total *prometheus.CounterVec // labels: status (success/failed/canceled)

	// Duration tracks the time of a whole run
	Duration prometheus.Histogram

	// DedupIndexSize tracks the number of request ids loaded at the start of the last run
	DedupIndexSize prometheus.Gauge
}

// FileMetrics tracks source files by terminal state
type FileMetrics struct {
	Processed *prometheus.CounterVec // labels: state (completed/skipped/failed/pending)
}

// LineMetrics tracks the outcome of log lines
type LineMetrics struct {
	Read       prometheus.Counter
	Malformed  prometheus.Counter
	Filtered   prometheus.Counter
	Duplicates prometheus.Counter
}

// BatchMetrics tracks bulk inserts
type BatchMetrics struct {
	// Flushed tracks bulk inserts with status
	Flushed *prometheus.CounterVec // labels: status (success/failed)

	RecordsSubmitted prometheus.Counter
	RecordsInserted  prometheus.Counter

	// RecordsLost tracks records of batches given up after a failed retry
	RecordsLost prometheus.Counter

	// FlushDuration tracks the time of one bulk insert
	FlushDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry
// This is useful for testing to avoid conflicts with the default registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Runs: RunMetrics{
			Total: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_analytics_ingest_runs_total",
					Help: "Total number of ingestion runs",
				},
				[]string{"status"},
			),
			Duration: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "log_analytics_ingest_run_duration_seconds",
					Help:    "Time spent in one ingestion run",
					Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200},
				},
			),
			DedupIndexSize: factory.NewGauge(
				prometheus.GaugeOpts{
					Name: "log_analytics_ingest_dedup_index_size",
					Help: "Number of request ids in the deduplication index of the last run",
				},
			),
		},

		Files: FileMetrics{
			Processed: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_analytics_ingest_files_total",
					Help: "Total number of source files by terminal state",
				},
				[]string{"state"},
			),
		},

		Lines: LineMetrics{
			Read: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_lines_read_total",
				Help: "Total number of log lines read",
			}),
			Malformed: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_lines_malformed_total",
				Help: "Total number of log lines that could not be parsed",
			}),
			Filtered: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_lines_filtered_total",
				Help: "Total number of log lines dropped for their operation",
			}),
			Duplicates: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_lines_duplicate_total",
				Help: "Total number of log lines whose request id was already ingested",
			}),
		},

		Batches: BatchMetrics{
			Flushed: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_analytics_ingest_batches_total",
					Help: "Total number of bulk inserts",
				},
				[]string{"status"},
			),
			RecordsSubmitted: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_records_submitted_total",
				Help: "Total number of records handed to the store",
			}),
			RecordsInserted: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_records_inserted_total",
				Help: "Total number of records the store reported as new",
			}),
			RecordsLost: factory.NewCounter(prometheus.CounterOpts{
				Name: "log_analytics_ingest_records_lost_total",
				Help: "Total number of records of batches that failed after retry",
			}),
			FlushDuration: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "log_analytics_ingest_flush_duration_seconds",
					Help:    "Time spent in one bulk insert",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
				},
			),
		},
	}
}
