package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scality/log-analytics/pkg/store"
)

const (
	// DefaultBatchSize is the number of records per bulk insert
	DefaultBatchSize = 1000

	// MaxBatchSize is the hard limit to prevent OOM
	MaxBatchSize = 100_000
)

// BatchStats summarizes the work of a BatchWriter
type BatchStats struct {
	BatchesFlushed   int
	BatchesFailed    int
	RecordsSubmitted int64
	RecordsInserted  int64
}

// BatchWriter buffers records and writes them to the store in batches.
// It is not safe for concurrent use: every worker owns one.
//
// A failed write is not retried. The batch is kept aside until the next
// failure or a call to RetryFailed, and the buffer starts empty again.
type BatchWriter struct {
	store     store.IngestStore
	metrics   *Metrics
	logger    *slog.Logger
	lastFlush time.Time

	buf     []store.LogRecord
	sources []string

	failed        []store.LogRecord
	failedSources []string

	stats     BatchStats
	batchSize int
}

// NewBatchWriter creates a writer flushing every batchSize records
func NewBatchWriter(s store.IngestStore, batchSize int, metrics *Metrics, logger *slog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	return &BatchWriter{
		store:     s,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
		lastFlush: time.Now(),
		buf:       make([]store.LogRecord, 0, batchSize),
	}
}

// Add buffers a record, writing the buffer once it holds batchSize records
func (w *BatchWriter) Add(ctx context.Context, rec store.LogRecord) error {
	w.buf = append(w.buf, rec)
	if n := len(w.sources); n == 0 || w.sources[n-1] != rec.SourceFile {
		w.sources = append(w.sources, rec.SourceFile)
	}

	if len(w.buf) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered records, if any
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	records, sources := w.buf, w.sources
	w.buf = make([]store.LogRecord, 0, w.batchSize)
	w.sources = nil

	return w.write(ctx, records, sources)
}

// Buffered returns the number of records waiting for a flush
func (w *BatchWriter) Buffered() int {
	return len(w.buf)
}

// RetryFailed writes the last failed batch again, once.
// The batch is released whatever the outcome.
func (w *BatchWriter) RetryFailed(ctx context.Context) error {
	if len(w.failed) == 0 {
		return errors.New("no failed batch to retry")
	}

	records, sources := w.failed, w.failedSources
	w.failed, w.failedSources = nil, nil

	w.logger.Info("retrying failed batch", "nRecords", len(records), "nSourceFiles", len(sources))

	return w.write(ctx, records, sources)
}

// Stats returns the counters of the writer
func (w *BatchWriter) Stats() BatchStats {
	return w.stats
}

func (w *BatchWriter) write(ctx context.Context, records []store.LogRecord, sources []string) error {
	start := time.Now()
	inserted, err := w.store.BulkInsert(ctx, records)
	elapsed := time.Since(start)

	w.metrics.Batches.FlushDuration.Observe(elapsed.Seconds())
	w.metrics.Batches.RecordsSubmitted.Add(float64(len(records)))
	w.stats.RecordsSubmitted += int64(len(records))

	if err != nil {
		w.stats.BatchesFailed++
		w.metrics.Batches.Flushed.WithLabelValues("failed").Inc()
		w.failed, w.failedSources = records, sources

		w.logger.Error("failed to write batch",
			"nRecords", len(records),
			"sourceFiles", sources,
			"elapsedSeconds", elapsed.Seconds(),
			"error", err)

		return &store.PersistenceError{
			Records: len(records),
			Sources: sources,
			Err:     fmt.Errorf("bulk insert failed: %w", err),
		}
	}

	w.stats.BatchesFlushed++
	w.stats.RecordsInserted += inserted
	w.metrics.Batches.Flushed.WithLabelValues("success").Inc()
	w.metrics.Batches.RecordsInserted.Add(float64(inserted))

	now := time.Now()
	sinceLast := now.Sub(w.lastFlush)
	w.lastFlush = now

	recordsPerSecond := 0.0
	if sinceLast > 0 {
		recordsPerSecond = float64(len(records)) / sinceLast.Seconds()
	}

	w.logger.Info("wrote batch",
		"nRecords", len(records),
		"nInserted", inserted,
		"nSourceFiles", len(sources),
		"elapsedSeconds", elapsed.Seconds(),
		"recordsPerSecond", recordsPerSecond)

	return nil
}
