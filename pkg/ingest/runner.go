package ingest

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// applyJitter applies symmetric jitter to a duration.
//
// The jitter creates a random duration centered on the input duration, varying by jitterFactor (+ or -)
// For example, with jitterFactor=0.2 and duration=60s, the result ranges from 48s to 72s (+/-20%).
//
// Returns the original duration if jitterFactor is 0 or negative.
func applyJitter(duration time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return duration
	}

	//nolint:gosec // Using non-cryptographic random for jitter is acceptable
	multiplier := 1.0 + (rand.Float64()*2.0-1.0)*jitterFactor
	return time.Duration(float64(duration) * multiplier)
}

// RunFunc performs one ingestion run
type RunFunc func(ctx context.Context) (*Report, error)

// Runner repeats ingestion runs so that the store catches up with new log files
type Runner struct {
	run          RunFunc
	logger       *slog.Logger
	onReport     func(*Report)
	interval     time.Duration
	jitterFactor float64
}

// RunnerConfig holds runner configuration
//
//nolint:govet // Field alignment is less important than readability for config structs
type RunnerConfig struct {
	Run    RunFunc
	Logger *slog.Logger

	// Interval between the starts of two runs; 0 runs once
	Interval time.Duration
	// JitterFactor is the jitter factor for the interval (0.0 to 1.0)
	JitterFactor float64

	// OnReport, when set, receives the report of every run
	OnReport func(*Report)
}

// NewRunner creates a runner
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		run:          cfg.Run,
		logger:       logger,
		onReport:     cfg.OnReport,
		interval:     cfg.Interval,
		jitterFactor: cfg.JitterFactor,
	}
}

// Run runs ingestion immediately, then every interval until ctx is canceled.
//
// With a zero interval the error of the single run is returned. Otherwise errors
// are logged and the next run retries (eventual catch-up).
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner starting", "intervalSeconds", r.interval.Seconds())

	runStart := time.Now()
	err := r.runOnce(ctx)
	if r.interval <= 0 {
		return err
	}

	for {
		jitteredInterval := applyJitter(r.interval, r.jitterFactor)

		// Account for the time spent in the run
		processingTime := time.Since(runStart)
		sleepDuration := jitteredInterval - processingTime
		if sleepDuration < 0 {
			sleepDuration = 0
		}

		r.logger.Debug("scheduling next ingestion run",
			"processingTimeSeconds", processingTime.Seconds(),
			"jitteredIntervalSeconds", jitteredInterval.Seconds(),
			"sleepDurationSeconds", sleepDuration.Seconds())

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			return ctx.Err()

		case <-time.After(sleepDuration):
			runStart = time.Now()
			_ = r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	report, err := r.run(ctx)
	if report != nil && r.onReport != nil {
		r.onReport(report)
	}
	if err != nil {
		r.logger.Error("ingestion run failed", "error", err)
	}
	return err
}
