package clickhouse

import (
	"context"
	"fmt"
)

// Deduplication guarantees
//
// ClickHouse has no unique constraint. Uniqueness of request ids and item keys relies on:
//   - ReplacingMergeTree tables ordered by the unique column, merged in the background
//   - FINAL on every analytics read, so that rows not merged yet are collapsed at query time
//   - BulkInsert skipping request ids already stored, so that the inserted count is exact
//     for a single writer

// SetupSchema creates the database and tables if they do not exist
func SetupSchema(ctx context.Context, client *Client) error {
	db := client.Database()

	queries := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			request_id        String,
			source_file       LowCardinality(String),
			bucket            LowCardinality(String),
			time              DateTime64(3, 'UTC'),
			remote_ip         Nullable(String),
			requester         Nullable(String),
			operation         LowCardinality(String),
			object_key        Nullable(String),
			request_uri       Nullable(String),
			http_status       Nullable(UInt16),
			error_code        Nullable(String),
			bytes_sent        Nullable(UInt64),
			object_size       Nullable(UInt64),
			total_time        Nullable(UInt32),
			turn_around_time  Nullable(UInt32),
			referrer          Nullable(String),
			user_agent        Nullable(String),
			version_id        Nullable(String),
			item_id           Nullable(Int64),
			inserted_at       DateTime DEFAULT now()
		)
		ENGINE = ReplacingMergeTree()
		ORDER BY request_id
		`, db, TableAccessLogs),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			object_key    String,
			id            Int64,
			name          String,
			dataset       Nullable(String),
			dataset_type  Nullable(String),
			experiment    Nullable(String),
			assay_title   Nullable(String),
			award         Nullable(String),
			lab           Nullable(String),
			file_format   Nullable(String),
			file_type     Nullable(String),
			created_at    DateTime64(3, 'UTC')
		)
		ENGINE = ReplacingMergeTree()
		ORDER BY object_key
		`, db, TableItems),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			segment        String,
			sample_time    DateTime64(3, 'UTC'),
			request_count  UInt64,
			computed_at    DateTime64(3, 'UTC')
		)
		ENGINE = ReplacingMergeTree(computed_at)
		ORDER BY (segment, sample_time)
		`, db, TableIntervalCounts),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			source_file  String,
			ingested_at  DateTime64(3, 'UTC')
		)
		ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY source_file
		`, db, TableIngestedFiles),
	}

	for _, query := range queries {
		if err := client.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to set up schema: %w", err)
		}
	}

	return nil
}

// TeardownSchema drops the tables created by SetupSchema
func TeardownSchema(ctx context.Context, client *Client) error {
	db := client.Database()

	for _, table := range []string{TableAccessLogs, TableItems, TableIntervalCounts, TableIngestedFiles} {
		if err := client.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", db, table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	return nil
}
