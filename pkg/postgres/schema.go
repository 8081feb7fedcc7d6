package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Table names
const (
	TableAccessLogs     = "access_logs"
	TableItems          = "items"
	TableIntervalCounts = "interval_counts"
	TableIngestedFiles  = "ingested_files"
)

var schemaQueries = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id            BIGSERIAL PRIMARY KEY,
		object_key    TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		dataset       TEXT,
		dataset_type  TEXT,
		experiment    TEXT,
		assay_title   TEXT,
		award         TEXT,
		lab           TEXT,
		file_format   TEXT,
		file_type     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS access_logs (
		request_id        TEXT PRIMARY KEY,
		source_file       TEXT NOT NULL,
		bucket            TEXT NOT NULL,
		time              TIMESTAMPTZ NOT NULL,
		remote_ip         TEXT,
		requester         TEXT,
		operation         TEXT NOT NULL,
		object_key        TEXT,
		request_uri       TEXT,
		http_status       INTEGER,
		error_code        TEXT,
		bytes_sent        BIGINT,
		object_size       BIGINT,
		total_time        BIGINT,
		turn_around_time  BIGINT,
		referrer          TEXT,
		user_agent        TEXT,
		version_id        TEXT,
		item_id           BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS access_logs_time_idx ON access_logs (time)`,
	`CREATE INDEX IF NOT EXISTS access_logs_object_key_idx ON access_logs (object_key)`,
	`CREATE INDEX IF NOT EXISTS access_logs_source_file_idx ON access_logs (source_file)`,

	`CREATE TABLE IF NOT EXISTS interval_counts (
		segment        TEXT NOT NULL,
		sample_time    TIMESTAMPTZ NOT NULL,
		request_count  BIGINT NOT NULL,
		computed_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (segment, sample_time)
	)`,

	`CREATE TABLE IF NOT EXISTS ingested_files (
		source_file  TEXT PRIMARY KEY,
		ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// SetupSchema creates the tables in the current search path if they do not exist
func SetupSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, query := range schemaQueries {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to set up schema: %w", err)
		}
	}
	return nil
}

// TeardownSchema drops the tables created by SetupSchema
func TeardownSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range []string{TableAccessLogs, TableItems, TableIntervalCounts, TableIngestedFiles} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}
