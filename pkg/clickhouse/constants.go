package clickhouse

// DatabaseName is the default ClickHouse database used for log storage
const DatabaseName = "logs"

// Table names
const (
	// TableAccessLogs stores log records (ReplacingMergeTree on request id)
	TableAccessLogs = "access_logs"

	// TableItems stores the enriched items (ReplacingMergeTree on object key)
	TableItems = "items"

	// TableIntervalCounts stores materialized request counts (ReplacingMergeTree on segment and sample time)
	TableIntervalCounts = "interval_counts"

	// TableIngestedFiles stores the source files whose records are all stored (ReplacingMergeTree on source file)
	TableIngestedFiles = "ingested_files"
)
