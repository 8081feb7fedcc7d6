package main

import (
	"context"
	"fmt"
	"time"

	"github.com/scality/log-analytics/pkg/analytics"
	"github.com/scality/log-analytics/pkg/ingest"
	"github.com/scality/log-analytics/pkg/store"
)

type command func(ctx context.Context, a *app) error

//nolint:gochecknoglobals // command table
var commands = map[string]command{
	"migrate":               migrate,
	"ingest":                runIngest,
	"top-items":             withService(topItems),
	"top-requesters":        withService(topRequesters),
	"intervals":             withService(intervals),
	"materialize-intervals": withService(materializeIntervals),
	"stats":                 withService(stats),
	"item":                  withService(itemRequesters),
	"source":                withService(itemsForSource),
}

func migrate(ctx context.Context, a *app) error {
	return a.withStore(ctx, func(b *backend) error {
		if err := b.setup(ctx); err != nil {
			return err
		}
		a.logger.Info("schema ready", "backend", ingest.ConfigSpec.GetString("store.backend"))
		return nil
	})
}

func runIngest(ctx context.Context, a *app) error {
	source, err := a.openSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}

	return a.withStore(ctx, func(b *backend) error {
		orchestrator, err := ingest.NewOrchestrator(ingest.OrchestratorConfig{
			Source:              source,
			Store:               b.store,
			Logger:              a.logger,
			Metrics:             ingest.NewMetricsWithRegistry(a.registry),
			BatchSize:           ingest.ConfigSpec.GetInt("ingest.batch-size"),
			NumWorkers:          ingest.ConfigSpec.GetInt("ingest.num-workers"),
			DedupMode:           ingest.DedupMode(ingest.ConfigSpec.GetString("ingest.dedup-mode")),
			FailurePolicy:       ingest.FailurePolicy(ingest.ConfigSpec.GetString("ingest.failure-policy")),
			MalformedLinePolicy: ingest.MalformedLinePolicy(ingest.ConfigSpec.GetString("ingest.malformed-line-policy")),
			FinalFlushTimeout:   ingest.ConfigSpec.GetSeconds("ingest.final-flush-timeout-seconds"),
		})
		if err != nil {
			return err
		}

		runner := ingest.NewRunner(ingest.RunnerConfig{
			Run:          orchestrator.Run,
			Logger:       a.logger,
			Interval:     ingest.ConfigSpec.GetSeconds("ingest.run-interval-seconds"),
			JitterFactor: ingest.ConfigSpec.GetFloat64("ingest.run-interval-jitter-factor"),
			OnReport: func(report *ingest.Report) {
				if err := writeJSON(a.out, report); err != nil {
					a.logger.Error("failed to print report", "runId", report.RunID, "error", err)
				}
			},
		})
		return runner.Run(ctx)
	})
}

// withService opens the store and the query layer for an analytics command
func withService(fn func(ctx context.Context, a *app, s *analytics.Service) error) command {
	return func(ctx context.Context, a *app) error {
		return a.withStore(ctx, func(b *backend) error {
			service, err := a.newService(b.store)
			if err != nil {
				return err
			}
			return fn(ctx, a, service)
		})
	}
}

func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid --%s: %v", errUsage, flag, err)
	}
	return t.UTC(), nil
}

func (o *options) timeRange() (store.TimeRange, error) {
	start, err := parseTime("start", o.start)
	if err != nil {
		return store.TimeRange{}, err
	}
	end, err := parseTime("end", o.end)
	if err != nil {
		return store.TimeRange{}, err
	}
	return store.TimeRange{Start: start, End: end}, nil
}

func (o *options) pageSpec() analytics.Page {
	return analytics.Page{Number: o.page, Limit: o.limit}
}

func (o *options) filter() store.Filter {
	var f store.Filter
	if o.key != "" {
		f.Keys = []string{o.key}
	}
	f.KeyPrefix = o.keyPrefix
	if o.requester != "" {
		f.Requesters = []string{o.requester}
	}
	if o.ip != "" {
		f.IPs = []string{o.ip}
	}
	return f
}

func (o *options) intervalWidth() time.Duration {
	if o.width > 0 {
		return o.width
	}
	return time.Duration(ingest.ConfigSpec.GetInt("analytics.interval-hours")) * time.Hour
}

func topItems(ctx context.Context, a *app, s *analytics.Service) error {
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}
	items, err := s.MostQueriedItems(ctx, a.opts.pageSpec(), r, a.opts.filter())
	if err != nil {
		return err
	}
	return writeJSON(a.out, items)
}

func topRequesters(ctx context.Context, a *app, s *analytics.Service) error {
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}
	counts, err := s.MostActiveRequesters(ctx, a.opts.pageSpec(), r, a.opts.filter())
	if err != nil {
		return err
	}
	return writeJSON(a.out, counts)
}

func intervals(ctx context.Context, a *app, s *analytics.Service) error {
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}

	if a.opts.stored {
		counts, err := s.StoredIntervals(ctx, a.opts.segment, r)
		if err != nil {
			return err
		}
		return writeJSON(a.out, counts)
	}

	counts := []store.IntervalCount{}
	for c, err := range s.QueryCountIntervals(ctx, r.Start, r.End, a.opts.intervalWidth(), a.opts.filter()) {
		if err != nil {
			return err
		}
		counts = append(counts, c)
	}
	return writeJSON(a.out, counts)
}

func materializeIntervals(ctx context.Context, a *app, s *analytics.Service) error {
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}

	n, err := s.MaterializeIntervals(ctx, a.opts.segment, r.Start, r.End, a.opts.intervalWidth(), a.opts.filter())
	if err != nil {
		return err
	}
	return writeJSON(a.out, map[string]any{
		"segment":  segmentName(a.opts.segment),
		"nSamples": n,
	})
}

func segmentName(segment string) string {
	if segment == "" {
		return analytics.DefaultSegment
	}
	return segment
}

func stats(ctx context.Context, a *app, s *analytics.Service) error {
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}
	summary, err := s.GeneralStats(ctx, r, a.opts.filter())
	if err != nil {
		return err
	}
	return writeJSON(a.out, summary)
}

func itemRequesters(ctx context.Context, a *app, s *analytics.Service) error {
	if a.opts.key == "" {
		return fmt.Errorf("%w: --key is required", errUsage)
	}
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}
	result, err := s.RequestersForItem(ctx, a.opts.key, r)
	if err != nil {
		return err
	}
	return writeJSON(a.out, result)
}

func itemsForSource(ctx context.Context, a *app, s *analytics.Service) error {
	if (a.opts.requester == "") == (a.opts.ip == "") {
		return fmt.Errorf("%w: exactly one of --requester and --ip is required", errUsage)
	}
	r, err := a.opts.timeRange()
	if err != nil {
		return err
	}
	items, err := s.ItemsForSource(ctx, a.opts.pageSpec(), r, analytics.SourceFilter{
		Requester: a.opts.requester,
		IP:        a.opts.ip,
	})
	if err != nil {
		return err
	}
	return writeJSON(a.out, items)
}
