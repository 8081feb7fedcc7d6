package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/scality/log-analytics/pkg/analytics"
	"github.com/scality/log-analytics/pkg/clickhouse"
	"github.com/scality/log-analytics/pkg/enrich"
	"github.com/scality/log-analytics/pkg/ingest"
	"github.com/scality/log-analytics/pkg/postgres"
	"github.com/scality/log-analytics/pkg/s3"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/util"
)

// app carries what commands share
type app struct {
	logger   *slog.Logger
	opts     *options
	out      io.Writer
	registry prometheus.Registerer
}

// backend is an open store with the schema setup of its database
type backend struct {
	store store.Store
	setup func(ctx context.Context) error
}

func retrySettings() (maxRetries int, initial, maxBackoff time.Duration) {
	return ingest.ConfigSpec.GetInt("retry.max-retries"),
		ingest.ConfigSpec.GetSeconds("retry.initial-backoff-seconds"),
		ingest.ConfigSpec.GetSeconds("retry.max-backoff-seconds")
}

// openBackend connects to the store selected by store.backend
func (a *app) openBackend(ctx context.Context) (*backend, error) {
	maxRetries, initialBackoff, maxBackoff := retrySettings()

	switch name := ingest.ConfigSpec.GetString("store.backend"); name {
	case "clickhouse":
		client, err := clickhouse.NewClient(ctx, clickhouse.Config{
			Hosts:          util.ParseCommaSeparatedHosts(ingest.ConfigSpec.GetString("clickhouse.url")),
			Username:       ingest.ConfigSpec.GetString("clickhouse.username"),
			Password:       ingest.ConfigSpec.GetString("clickhouse.password"),
			Database:       ingest.ConfigSpec.GetString("clickhouse.database"),
			Timeout:        ingest.ConfigSpec.GetSeconds("clickhouse.timeout-seconds"),
			MaxRetries:     maxRetries,
			InitialBackoff: initialBackoff,
			MaxBackoff:     maxBackoff,
			Logger:         a.logger,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			store: clickhouse.NewStore(client, a.logger),
			setup: func(ctx context.Context) error { return clickhouse.SetupSchema(ctx, client) },
		}, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:            ingest.ConfigSpec.GetString("postgres.dsn"),
			MaxConns:       int32(ingest.ConfigSpec.GetInt("postgres.max-conns")), //nolint:gosec // small
			MaxRetries:     maxRetries,
			InitialBackoff: initialBackoff,
			MaxBackoff:     maxBackoff,
			Logger:         a.logger,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			store: postgres.NewStore(pool, a.logger),
			setup: func(ctx context.Context) error { return postgres.SetupSchema(ctx, pool) },
		}, nil

	case "memory":
		a.logger.Warn("using the memory store: records are lost when the process exits")
		return &backend{
			store: store.NewMemoryStore(),
			setup: func(context.Context) error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", name)
	}
}

// withStore runs fn with an open store, closing it afterwards
func (a *app) withStore(ctx context.Context, fn func(*backend) error) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if closeErr := b.store.Close(); closeErr != nil {
			a.logger.Error("failed to close store", "error", closeErr)
		}
	}()
	return fn(b)
}

// openSource builds the log file source selected by source.type
func (a *app) openSource(ctx context.Context) (ingest.Source, error) {
	fs := afero.NewOsFs()

	switch sourceType := ingest.ConfigSpec.GetString("source.type"); sourceType {
	case "dir":
		return ingest.NewDirSource(fs, ingest.ConfigSpec.GetString("source.dir")), nil

	case "s3":
		maxRetries, _, maxBackoff := retrySettings()
		client, err := s3.NewClient(ctx, s3.Config{
			Endpoint:         ingest.ConfigSpec.GetString("s3.endpoint"),
			Region:           ingest.ConfigSpec.GetString("s3.region"),
			AccessKeyID:      ingest.ConfigSpec.GetString("s3.access-key-id"),
			SecretAccessKey:  ingest.ConfigSpec.GetString("s3.secret-access-key"),
			MaxRetryAttempts: maxRetries + 1,
			MaxBackoffDelay:  maxBackoff,
		})
		if err != nil {
			return nil, err
		}

		source, err := s3.NewSource(client, s3.SourceConfig{
			Bucket:     ingest.ConfigSpec.GetString("s3.bucket"),
			Prefix:     ingest.ConfigSpec.GetString("s3.prefix"),
			StartAfter: ingest.ConfigSpec.GetString("s3.start-after"),
			MaxKeys:    ingest.ConfigSpec.GetInt("s3.max-keys"),
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}

		if cacheDir := ingest.ConfigSpec.GetString("source.cache-dir"); cacheDir != "" {
			return ingest.NewCachingSource(source, fs, cacheDir, a.logger), nil
		}
		return source, nil

	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
}

// newService builds the query layer over a store
func (a *app) newService(s store.Store) (*analytics.Service, error) {
	startTime, err := time.Parse(time.RFC3339, ingest.ConfigSpec.GetString("analytics.start-time"))
	if err != nil {
		return nil, fmt.Errorf("invalid analytics.start-time: %w", err)
	}

	metrics := analytics.NewMetricsWithRegistry(a.registry)

	var enricher enrich.Enricher = enrich.Nop{}
	if ingest.ConfigSpec.GetBool("enrichment.enabled") {
		enricher, err = enrich.NewCatalogClient(enrich.CatalogConfig{
			BaseURL:           ingest.ConfigSpec.GetString("enrichment.base-url"),
			Timeout:           ingest.ConfigSpec.GetSeconds("enrichment.timeout-seconds"),
			RequestsPerSecond: ingest.ConfigSpec.GetFloat64("enrichment.requests-per-second"),
			Logger:            a.logger,
		})
		if err != nil {
			return nil, err
		}
	}

	resolver, err := analytics.NewItemResolver(analytics.ItemResolverConfig{
		Store:    s,
		Enricher: enricher,
		Logger:   a.logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return analytics.NewService(analytics.ServiceConfig{
		Store:              s,
		Resolver:           resolver,
		Logger:             a.logger,
		Metrics:            metrics,
		StartTime:          startTime,
		ExcludedRequesters: ingest.ConfigSpec.GetStringSlice("analytics.excluded-requesters"),
		PageSize:           ingest.ConfigSpec.GetInt("analytics.page-size"),
	})
}
