package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	DSN      string
	MaxConns int32

	// SearchPath, when set, selects the schema holding the tables
	SearchPath string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// NewPool opens a connection pool, retrying with exponential backoff until the
// server answers a ping
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("a DSN must be provided")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.SearchPath != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.SearchPath
	}

	backoff := cfg.InitialBackoff
	maxAttempts := cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			cfg.Logger.Info("retrying PostgreSQL connection after backoff",
				"attempt", attempt+1,
				"backoffSeconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}

			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			cfg.Logger.Warn("failed to create PostgreSQL pool", "attempt", attempt+1, "error", err)
			continue
		}

		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		pool.Close()

		if attempt < maxAttempts-1 {
			cfg.Logger.Warn("failed to ping PostgreSQL, will retry",
				"attempt", attempt+1,
				"error", err)
		}
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxAttempts, err)
}
