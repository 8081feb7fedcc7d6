package analytics

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/scality/log-analytics/pkg/store"
)

// DefaultSegment names the interval series over all records
const DefaultSegment = "all"

// QueryCountIntervals yields, for each sample time start + i*width before end,
// the number of records within width/2 of it, bounds included. Windows of
// neighboring samples overlap, so a record may be counted twice.
//
// The sequence is lazy: each iteration queries the store again. An error
// ends the sequence.
func (s *Service) QueryCountIntervals(ctx context.Context, start, end time.Time, width time.Duration, f store.Filter) iter.Seq2[store.IntervalCount, error] {
	return func(yield func(store.IntervalCount, error) bool) {
		if width <= 0 {
			yield(store.IntervalCount{}, fmt.Errorf("interval width must be positive, got %s", width))
			return
		}
		from, to := start, end
		if from.IsZero() {
			from = s.startTime
		}
		if to.IsZero() {
			to = s.now().UTC()
		}

		half := width / 2
		for sample := from; sample.Before(to); sample = sample.Add(width) {
			if err := ctx.Err(); err != nil {
				yield(store.IntervalCount{}, err)
				return
			}

			began := time.Now()
			count, err := s.store.Count(ctx, store.TimeRange{Start: sample.Add(-half), End: sample.Add(half)}, f)
			s.observe("count_interval", began, err)
			if err != nil {
				yield(store.IntervalCount{}, fmt.Errorf("failed to count interval at %s: %w", sample.Format(time.RFC3339), err))
				return
			}

			if !yield(store.IntervalCount{SampleTime: sample.UTC(), Count: count}, nil) {
				return
			}
		}
	}
}

// MaterializeIntervals computes the interval series and stores it under segment,
// replacing the samples already stored. It returns the number of samples.
func (s *Service) MaterializeIntervals(ctx context.Context, segment string, start, end time.Time, width time.Duration, f store.Filter) (n int, err error) {
	defer func(began time.Time) { s.observe("materialize_intervals", began, err) }(time.Now())

	if segment == "" {
		segment = DefaultSegment
	}
	computedAt := s.now().UTC()

	var counts []store.IntervalCount
	for c, countErr := range s.QueryCountIntervals(ctx, start, end, width, f) {
		if countErr != nil {
			return 0, countErr
		}
		c.Segment = segment
		c.ComputedAt = computedAt
		counts = append(counts, c)
	}

	if err := s.store.SaveIntervalCounts(ctx, counts); err != nil {
		return 0, fmt.Errorf("failed to save intervals of %q: %w", segment, err)
	}

	s.logger.Info("materialized intervals",
		"segment", segment,
		"nSamples", len(counts),
		"widthSeconds", width.Seconds())

	return len(counts), nil
}

// StoredIntervals returns the materialized samples of segment in range
func (s *Service) StoredIntervals(ctx context.Context, segment string, r store.TimeRange) (counts []store.IntervalCount, err error) {
	defer func(began time.Time) { s.observe("stored_intervals", began, err) }(time.Now())

	if segment == "" {
		segment = DefaultSegment
	}
	counts, err = s.store.IntervalCounts(ctx, segment, r)
	if err != nil {
		return nil, fmt.Errorf("failed to read intervals of %q: %w", segment, err)
	}
	return counts, nil
}
