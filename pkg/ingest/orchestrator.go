package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/scality/log-analytics/pkg/accesslog"
	"github.com/scality/log-analytics/pkg/store"
)

const (
	// maxLineSize bounds the length of one log line
	maxLineSize = 1 << 20

	defaultFinalFlushTimeout = 30 * time.Second
)

// ErrDuplicateFile is the reason recorded for files skipped because
// their content is already in the store
var ErrDuplicateFile = errors.New("log file already ingested")

// FailurePolicy decides what a failed bulk insert does to the run
type FailurePolicy string

const (
	// FailureAbort marks the files of the batch Failed and ends the run with the error
	FailureAbort FailurePolicy = "abort"

	// FailureRetryOnce writes the batch again; if that fails too, the files of the
	// batch are marked Failed, the batch is counted as lost and the run ends with the error.
	// The files are not recorded as ingested, so the next run reads them again.
	FailureRetryOnce FailurePolicy = "retry-once"
)

// MalformedLinePolicy decides what a line that cannot be parsed does to its file
type MalformedLinePolicy string

const (
	// MalformedSkip counts the line and goes on with the file
	MalformedSkip MalformedLinePolicy = "skip"

	// MalformedFailFile stops reading the file and marks it Failed.
	// Records already handed to the batch writer are kept.
	MalformedFailFile MalformedLinePolicy = "fail-file"
)

// OrchestratorConfig holds orchestrator configuration
//
//nolint:govet // Field alignment is less important than readability for config structs
type OrchestratorConfig struct {
	Source Source
	Store  store.IngestStore
	Logger *slog.Logger

	// Metrics defaults to metrics on a private registry
	Metrics *Metrics

	BatchSize           int
	NumWorkers          int
	DedupMode           DedupMode
	FailurePolicy       FailurePolicy
	MalformedLinePolicy MalformedLinePolicy

	// FinalFlushTimeout bounds the flush of the remaining records, which runs even
	// when the run is canceled
	FinalFlushTimeout time.Duration
}

// Orchestrator runs source files through parsing, filtering, deduplication and batch writing
type Orchestrator struct {
	source  Source
	store   store.IngestStore
	metrics *Metrics
	logger  *slog.Logger

	batchSize           int
	numWorkers          int
	dedupMode           DedupMode
	failurePolicy       FailurePolicy
	malformedLinePolicy MalformedLinePolicy
	finalFlushTimeout   time.Duration
}

// NewOrchestrator creates an orchestrator, applying defaults to unset fields
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.New("a source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("a store is required")
	}

	o := &Orchestrator{
		source:              cfg.Source,
		store:               cfg.Store,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		batchSize:           cfg.BatchSize,
		numWorkers:          cfg.NumWorkers,
		dedupMode:           cfg.DedupMode,
		failurePolicy:       cfg.FailurePolicy,
		malformedLinePolicy: cfg.MalformedLinePolicy,
		finalFlushTimeout:   cfg.FinalFlushTimeout,
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	if o.batchSize == 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.batchSize < 0 || o.batchSize > MaxBatchSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d, got %d", MaxBatchSize, o.batchSize)
	}
	if o.numWorkers <= 0 {
		o.numWorkers = 1
	}
	if o.dedupMode == "" {
		o.dedupMode = DedupEarlyExit
	}
	if _, err := ParseDedupMode(string(o.dedupMode)); err != nil {
		return nil, err
	}
	switch o.failurePolicy {
	case "":
		o.failurePolicy = FailureAbort
	case FailureAbort, FailureRetryOnce:
	default:
		return nil, fmt.Errorf("invalid failure policy %q", o.failurePolicy)
	}
	switch o.malformedLinePolicy {
	case "":
		o.malformedLinePolicy = MalformedSkip
	case MalformedSkip, MalformedFailFile:
	default:
		return nil, fmt.Errorf("invalid malformed line policy %q", o.malformedLinePolicy)
	}
	if o.finalFlushTimeout <= 0 {
		o.finalFlushTimeout = defaultFinalFlushTimeout
	}

	return o, nil
}

// Run ingests every available source file once.
//
// Cancellation is checked between files: the file being read is finished, buffered
// records are flushed and the files not started stay Pending. The report is returned
// along with the context error. A persistence failure under the abort policy ends the
// run with a *store.PersistenceError; batches already written stay written.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := o.logger.With("runId", runID)

	logger.Info("ingestion run starting",
		"dedupMode", o.dedupMode,
		"batchSize", o.batchSize,
		"numWorkers", o.numWorkers)

	index, err := LoadDedupIndex(ctx, o.store)
	if err != nil {
		o.metrics.Runs.Total.WithLabelValues("failed").Inc()
		return nil, err
	}
	o.metrics.Runs.DedupIndexSize.Set(float64(index.Len()))

	items, err := o.store.ItemKeys(ctx)
	if err != nil {
		o.metrics.Runs.Total.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	filter := NewRecordFilter(items)

	files, err := o.source.List(ctx)
	if err != nil {
		o.metrics.Runs.Total.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	logger.Info("loaded ingestion state",
		"nRequestIds", index.Len(),
		"nItems", len(items),
		"nSourceFiles", len(files))

	report := newReport(runID, files)

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shardFiles(files, o.numWorkers) {
		w := &worker{
			o:      o,
			report: report,
			filter: filter,
			view:   index.View(),
			logger: logger.With("worker", i),
		}
		w.writer = NewBatchWriter(o.store, o.batchSize, o.metrics, w.logger)
		g.Go(func() error {
			return w.run(gctx, shard)
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report.finalize(time.Since(start))
	o.record(report, err)

	logArgs := []any{
		"completedFiles", report.CompletedFiles,
		"skippedFiles", report.SkippedFiles,
		"failedFiles", report.FailedFiles,
		"pendingFiles", report.PendingFiles,
		"linesRead", report.LinesRead,
		"malformedLines", report.MalformedLines,
		"recordsInserted", report.RecordsInserted,
		"batchesLost", report.BatchesLost,
		"elapsedSeconds", report.Elapsed.Seconds(),
	}
	switch {
	case err != nil:
		logger.Error("ingestion run ended early", append(logArgs, "error", err)...)
	case report.FailedFiles > 0:
		logger.Warn("ingestion run completed with failures", logArgs...)
	default:
		logger.Info("ingestion run completed", logArgs...)
	}

	return report, err
}

func (o *Orchestrator) record(report *Report, err error) {
	status := "success"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	case err != nil:
		status = "failed"
	}
	o.metrics.Runs.Total.WithLabelValues(status).Inc()
	o.metrics.Runs.Duration.Observe(report.Elapsed.Seconds())

	o.metrics.Files.Processed.WithLabelValues("completed").Add(float64(report.CompletedFiles))
	o.metrics.Files.Processed.WithLabelValues("skipped").Add(float64(report.SkippedFiles))
	o.metrics.Files.Processed.WithLabelValues("failed").Add(float64(report.FailedFiles))
	o.metrics.Files.Processed.WithLabelValues("pending").Add(float64(report.PendingFiles))

	o.metrics.Lines.Read.Add(float64(report.LinesRead))
	o.metrics.Lines.Malformed.Add(float64(report.MalformedLines))
	o.metrics.Lines.Filtered.Add(float64(report.FilteredLines))
	o.metrics.Lines.Duplicates.Add(float64(report.DuplicateLines))
	o.metrics.Batches.RecordsLost.Add(float64(report.RecordsLost))
}

// shardFiles distributes sorted files round-robin over n shards
func shardFiles(files []string, n int) [][]string {
	if n > len(files) {
		n = max(len(files), 1)
	}
	shards := make([][]string, n)
	for i, f := range files {
		shards[i%n] = append(shards[i%n], f)
	}
	return shards
}

// worker processes one shard of the files with its own batch writer
type worker struct {
	o      *Orchestrator
	report *Report
	filter *RecordFilter
	view   *DedupView
	writer *BatchWriter
	logger *slog.Logger

	// files read to the end, in order
	done []string
}

func (w *worker) run(ctx context.Context, files []string) error {
	var runErr error

	for _, file := range files {
		if ctx.Err() != nil {
			w.logger.Info("stopping between files", "reason", ctx.Err())
			break
		}
		if err := w.processFile(ctx, file); err != nil {
			runErr = err
			break
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.o.finalFlushTimeout)
	defer cancel()

	if err := w.writer.Flush(flushCtx); err != nil {
		if herr := w.handleWriteError(flushCtx, err); herr != nil && runErr == nil {
			runErr = herr
		}
	}

	w.report.addWriterStats(w.writer.Stats())

	if err := w.markIngested(flushCtx); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

// markIngested records the files read to the end whose records are all stored.
// Files of a failed batch were marked Failed and stay unrecorded, so that the
// next run reads them again.
func (w *worker) markIngested(ctx context.Context) error {
	var files []string
	for _, f := range w.done {
		if state := w.report.State(f); state == FileCompleted || state == FileSkipped {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil
	}

	if err := w.o.store.MarkFilesIngested(ctx, files); err != nil {
		w.logger.Error("failed to record ingested files", "nFiles", len(files), "error", err)
		return fmt.Errorf("failed to record ingested files: %w", err)
	}
	return nil
}

// processFile reads one file to the end. Write errors are returned only when they
// end the run; every other failure is recorded on the file.
func (w *worker) processFile(ctx context.Context, file string) error {
	logger := w.logger.With("sourceFile", file)
	w.report.start(file)

	earlyExit := w.o.dedupMode == DedupEarlyExit
	if earlyExit && w.view.index.Ingested(file) {
		logger.Debug("skipping log file already ingested")
		w.report.finish(file, FileSkipped, FileResult{}, ErrDuplicateFile)
		return nil
	}
	if earlyExit && w.view.index.Partial(file) {
		logger.Info("resuming partially ingested log file")
		earlyExit = false
	}

	// A started file is read and written to the end: cancellation only stops between files
	fileCtx := context.WithoutCancel(ctx)

	rc, err := w.o.source.Open(fileCtx, file)
	if err != nil {
		logger.Error("failed to open log file", "error", err)
		w.report.finish(file, FileFailed, FileResult{}, err)
		return nil
	}
	defer func() { _ = rc.Close() }()

	var (
		counts  FileResult
		fileErr error
	)

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		counts.Lines++

		line, err := accesslog.Parse(text)
		if err != nil {
			counts.Malformed++
			if w.o.malformedLinePolicy == MalformedFailFile {
				fileErr = fmt.Errorf("line %d: %w", counts.Lines, err)
				break
			}
			logger.Debug("skipping malformed line", "lineNumber", counts.Lines, "error", err)
			continue
		}

		rec, ok := w.filter.Apply(line, file)
		if !ok {
			counts.Filtered++
			continue
		}

		if earlyExit && w.view.Persisted(rec.RequestID) {
			counts.Duplicates++
			counts.EarlyExit = true
			break
		}
		if w.view.Contains(rec.RequestID) {
			counts.Duplicates++
			continue
		}
		w.view.Add(rec.RequestID)

		counts.Records++
		if err := w.writer.Add(fileCtx, *rec); err != nil {
			if herr := w.handleWriteError(fileCtx, err); herr != nil {
				w.report.finish(file, FileFailed, counts, herr)
				return herr
			}
		}
	}

	if err := scanner.Err(); err != nil && fileErr == nil {
		fileErr = fmt.Errorf("failed to read log file: %w", err)
	}

	switch {
	case fileErr != nil:
		logger.Error("log file failed", "error", fileErr, "nLines", counts.Lines)
		w.report.finish(file, FileFailed, counts, fileErr)
	case counts.EarlyExit && counts.Records == 0:
		logger.Debug("skipping log file already ingested", "nLines", counts.Lines)
		w.report.finish(file, FileSkipped, counts, ErrDuplicateFile)
		w.done = append(w.done, file)
	default:
		logger.Debug("log file processed",
			"nLines", counts.Lines,
			"nRecords", counts.Records,
			"nMalformed", counts.Malformed,
			"nDuplicates", counts.Duplicates,
			"earlyExit", counts.EarlyExit)
		w.report.finish(file, FileCompleted, counts, nil)
		w.done = append(w.done, file)
	}

	return nil
}

// handleWriteError applies the failure policy to a failed write.
// It returns the error when the run must end.
func (w *worker) handleWriteError(ctx context.Context, err error) error {
	var perr *store.PersistenceError
	if !errors.As(err, &perr) {
		return err
	}

	if w.o.failurePolicy == FailureRetryOnce {
		retryErr := w.writer.RetryFailed(ctx)
		if retryErr == nil {
			w.logger.Info("failed batch written on retry", "nRecords", perr.Records)
			return nil
		}
		if !errors.As(retryErr, &perr) {
			return retryErr
		}

		w.logger.Error("giving up on batch after retry",
			"nRecords", perr.Records,
			"sourceFiles", perr.Sources,
			"error", retryErr)
		w.report.fail(perr.Sources, perr)
		w.report.batchLost(perr.Records)
		return perr
	}

	w.report.fail(perr.Sources, perr)
	return perr
}
