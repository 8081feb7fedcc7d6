package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/scality/log-analytics/pkg/clickhouse"
	"github.com/scality/log-analytics/pkg/util"
)

// TestClickHouseDatabase keeps test tables apart from real data
const TestClickHouseDatabase = "log_analytics_test"

// ClickHouseTestHelper provides utilities for testing with ClickHouse
type ClickHouseTestHelper struct {
	Client *clickhouse.Client
}

// NewClickHouseTestHelper connects to the test ClickHouse server
// (LOG_ANALYTICS_CLICKHOUSE_URL, default localhost:9000) without retrying
func NewClickHouseTestHelper(ctx context.Context) (*ClickHouseTestHelper, error) {
	url := os.Getenv("LOG_ANALYTICS_CLICKHOUSE_URL")
	if url == "" {
		url = "localhost:9000"
	}

	cfg := clickhouse.Config{
		Hosts:    util.ParseCommaSeparatedHosts(url),
		Username: "default",
		Password: os.Getenv("LOG_ANALYTICS_CLICKHOUSE_PASSWORD"),
		Database: TestClickHouseDatabase,
		Timeout:  5 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test ClickHouse: %w", err)
	}

	return &ClickHouseTestHelper{Client: client}, nil
}

// SetupSchema creates the test tables
func (h *ClickHouseTestHelper) SetupSchema(ctx context.Context) error {
	return clickhouse.SetupSchema(ctx, h.Client)
}

// TeardownSchema drops the test tables
func (h *ClickHouseTestHelper) TeardownSchema(ctx context.Context) error {
	return clickhouse.TeardownSchema(ctx, h.Client)
}

// Close closes the test helper
func (h *ClickHouseTestHelper) Close() error {
	if h.Client != nil {
		return h.Client.Close()
	}
	return nil
}
