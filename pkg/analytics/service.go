// Package analytics answers read-only questions over the stored access logs
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/scality/log-analytics/pkg/store"
)

const (
	// DefaultPageSize is the number of rows of a page without limit
	DefaultPageSize = 25

	// resolveConcurrency bounds the items of one page resolved at once
	resolveConcurrency = 4
)

// DefaultStartTime is the start of the default time range
var DefaultStartTime = time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

// Page selects a slice of an ordered result. Number is 1-based; a zero
// Limit uses the configured page size.
type Page struct {
	Number int
	Limit  int
}

// ItemCount is one row of an item ranking
type ItemCount struct {
	Item  store.Item `json:"item"`
	Count uint64     `json:"count"`
}

// ItemRequesters is the breakdown of the requests of one key
type ItemRequesters struct {
	Key         string             `json:"key"`
	ByRequester []store.GroupCount `json:"byRequester"`
	ByIP        []store.GroupCount `json:"byIp"`
}

// SourceFilter selects the records of one requester or one IP
type SourceFilter struct {
	Requester string
	IP        string
}

func (s SourceFilter) filter() (store.Filter, error) {
	switch {
	case s.Requester != "" && s.IP != "":
		return store.Filter{}, errors.New("a source is either a requester or an IP, not both")
	case s.Requester != "":
		return store.Filter{Requesters: []string{s.Requester}}, nil
	case s.IP != "":
		return store.Filter{IPs: []string{s.IP}}, nil
	default:
		return store.Filter{}, errors.New("a source requester or IP is required")
	}
}

// ServiceConfig holds query layer configuration
//
//nolint:govet // Field alignment is less important than readability for config structs
type ServiceConfig struct {
	Store    store.AnalyticsStore
	Resolver *ItemResolver
	Logger   *slog.Logger
	Metrics  *Metrics

	// StartTime is the start of the default range, DefaultStartTime when zero
	StartTime time.Time

	// ExcludedRequesters are left out of MostActiveRequesters, matched
	// against both requesters and IPs
	ExcludedRequesters []string

	PageSize int

	// Now defaults to time.Now
	Now func() time.Time
}

// Service runs analytics operations against a store
type Service struct {
	store    store.AnalyticsStore
	resolver *ItemResolver
	logger   *slog.Logger
	metrics  *Metrics

	startTime          time.Time
	excludedRequesters []string
	pageSize           int
	now                func() time.Time
}

// NewService creates a query service, applying defaults to unset fields
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("a store is required")
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("page size must not be negative, got %d", cfg.PageSize)
	}

	s := &Service{
		store:              cfg.Store,
		resolver:           cfg.Resolver,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		startTime:          cfg.StartTime,
		excludedRequesters: slices.Clone(cfg.ExcludedRequesters),
		pageSize:           cfg.PageSize,
		now:                cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	if s.startTime.IsZero() {
		s.startTime = DefaultStartTime
	}
	if s.pageSize == 0 {
		s.pageSize = DefaultPageSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.resolver == nil {
		var err error
		s.resolver, err = NewItemResolver(ItemResolverConfig{
			Store:   cfg.Store,
			Logger:  s.logger,
			Metrics: s.metrics,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Resolver returns the item resolver of the service
func (s *Service) Resolver() *ItemResolver {
	return s.resolver
}

// DefaultRange returns r with unset bounds replaced by the start time and now
func (s *Service) DefaultRange(r store.TimeRange) store.TimeRange {
	if r.Start.IsZero() {
		r.Start = s.startTime
	}
	if r.End.IsZero() {
		r.End = s.now().UTC()
	}
	return r
}

func (s *Service) limits(p Page) (limit, offset int, err error) {
	if p.Number < 1 {
		return 0, 0, fmt.Errorf("page number must be at least 1, got %d", p.Number)
	}
	if p.Limit < 0 {
		return 0, 0, fmt.Errorf("page limit must not be negative, got %d", p.Limit)
	}
	limit = p.Limit
	if limit == 0 {
		limit = s.pageSize
	}
	return limit, (p.Number - 1) * limit, nil
}

// observe records the outcome of one operation
func (s *Service) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
		s.logger.Error("analytics operation failed", "operation", operation, "error", err)
	}
	s.metrics.Queries.Total.WithLabelValues(operation, status).Inc()
	s.metrics.Queries.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// MostQueriedItems ranks keys by the number of distinct requesters.
// Ties are ordered by key.
func (s *Service) MostQueriedItems(ctx context.Context, page Page, r store.TimeRange, f store.Filter) (items []ItemCount, err error) {
	defer func(start time.Time) { s.observe("most_queried_items", start, err) }(time.Now())

	return s.rankItems(ctx, page, r, f, store.CountDistinctIdentities)
}

// ItemsForSource ranks the keys requested by one requester or IP by raw count
func (s *Service) ItemsForSource(ctx context.Context, page Page, r store.TimeRange, source SourceFilter) (items []ItemCount, err error) {
	defer func(start time.Time) { s.observe("items_for_source", start, err) }(time.Now())

	f, err := source.filter()
	if err != nil {
		return nil, err
	}
	return s.rankItems(ctx, page, r, f, store.CountRows)
}

func (s *Service) rankItems(ctx context.Context, page Page, r store.TimeRange, f store.Filter, mode store.CountMode) ([]ItemCount, error) {
	limit, offset, err := s.limits(page)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.Aggregate(ctx, store.AggregationRequest{
		Range:   s.DefaultRange(r),
		Filter:  f,
		GroupBy: store.GroupByKey,
		Count:   mode,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank items: %w", err)
	}

	items := make([]ItemCount, len(counts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, c := range counts {
		g.Go(func() error {
			item, err := s.resolver.Resolve(gctx, c.Group)
			if err != nil {
				return fmt.Errorf("failed to resolve item %q: %w", c.Group, err)
			}
			items[i] = ItemCount{Item: item, Count: c.Count}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// MostActiveRequesters ranks IPs by raw count, leaving out the excluded requesters
func (s *Service) MostActiveRequesters(ctx context.Context, page Page, r store.TimeRange, f store.Filter) (counts []store.GroupCount, err error) {
	defer func(start time.Time) { s.observe("most_active_requesters", start, err) }(time.Now())

	limit, offset, err := s.limits(page)
	if err != nil {
		return nil, err
	}

	f.ExcludeRequesters = append(slices.Clone(f.ExcludeRequesters), s.excludedRequesters...)
	f.ExcludeIPs = append(slices.Clone(f.ExcludeIPs), s.excludedRequesters...)

	counts, err = s.store.Aggregate(ctx, store.AggregationRequest{
		Range:   s.DefaultRange(r),
		Filter:  f,
		GroupBy: store.GroupByIP,
		Count:   store.CountRows,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank requesters: %w", err)
	}
	return counts, nil
}

// GeneralStats summarizes the records in range
func (s *Service) GeneralStats(ctx context.Context, r store.TimeRange, f store.Filter) (summary store.Summary, err error) {
	defer func(start time.Time) { s.observe("general_stats", start, err) }(time.Now())

	summary, err = s.store.Summarize(ctx, s.DefaultRange(r), f)
	if err != nil {
		return store.Summary{}, fmt.Errorf("failed to summarize: %w", err)
	}
	return summary, nil
}

// RequestersForItem breaks down the requests of one key by requester and by IP
func (s *Service) RequestersForItem(ctx context.Context, key string, r store.TimeRange) (result *ItemRequesters, err error) {
	defer func(start time.Time) { s.observe("requesters_for_item", start, err) }(time.Now())

	if key == "" {
		return nil, errors.New("an item key is required")
	}

	req := store.AggregationRequest{
		Range:  s.DefaultRange(r),
		Filter: store.Filter{Keys: []string{key}},
		Count:  store.CountRows,
	}

	result = &ItemRequesters{Key: key}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		byRequester := req
		byRequester.GroupBy = store.GroupByRequester
		counts, err := s.store.Aggregate(gctx, byRequester)
		if err != nil {
			return fmt.Errorf("failed to group by requester: %w", err)
		}
		result.ByRequester = counts
		return nil
	})
	g.Go(func() error {
		byIP := req
		byIP.GroupBy = store.GroupByIP
		counts, err := s.store.Aggregate(gctx, byIP)
		if err != nil {
			return fmt.Errorf("failed to group by IP: %w", err)
		}
		result.ByIP = counts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
