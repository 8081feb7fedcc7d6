package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Client wraps ClickHouse connection
type Client struct {
	conn     driver.Conn
	database string
}

// Config holds ClickHouse connection configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	Hosts          []string
	Username       string
	Password       string
	Database       string
	Timeout        time.Duration // Used for DialTimeout and ReadTimeout
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// NewClient creates a new ClickHouse client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("at least one host must be provided")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Database == "" {
		cfg.Database = DatabaseName
	}

	options := &clickhouse.Options{
		Addr: cfg.Hosts,
		// No default database: it may not exist before the schema is set up,
		// and every query names its tables with their database
		Auth: clickhouse.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		// ReadTimeout applies to reading from the connection (query execution)
		// This prevents queries from hanging indefinitely
		ReadTimeout: cfg.Timeout,
	}

	var conn driver.Conn
	var err error
	backoff := cfg.InitialBackoff

	// MaxRetries = number of retries after initial attempt
	// Total attempts = 1 initial + MaxRetries retries
	maxAttempts := cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			cfg.Logger.Info("retrying ClickHouse connection after backoff",
				"attempt", attempt+1,
				"backoffSeconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
				// Backoff completed
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}

			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		conn, err = clickhouse.Open(options)
		if err != nil {
			if attempt < maxAttempts-1 {
				cfg.Logger.Warn("failed to connect to ClickHouse, will retry",
					"attempt", attempt+1,
					"error", err)
				continue
			}
			break
		}

		err = conn.Ping(ctx)
		if err == nil {
			return &Client{conn: conn, database: cfg.Database}, nil
		}

		_ = conn.Close()

		if attempt < maxAttempts-1 {
			cfg.Logger.Warn("failed to ping ClickHouse, will retry",
				"attempt", attempt+1,
				"error", err)
		}
	}

	return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", maxAttempts, err)
}

// Database returns the database holding the log-analytics tables
func (c *Client) Database() string {
	return c.database
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Exec executes a query without returning results
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// PrepareBatch starts a native insert; rows appended to the batch are sent as one block
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// Query executes a query and returns rows
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// QueryRow executes a query expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}
