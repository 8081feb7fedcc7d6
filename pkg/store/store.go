package store

import "context"

// ItemFactory builds the Item stored for a key the first time it is resolved.
// ID and CreatedAt are assigned by the store.
type ItemFactory func(ctx context.Context, key string) (Item, error)

// IngestStore is the part of the store used by ingestion
type IngestStore interface {
	// BulkInsert writes records atomically and returns the number of new records.
	// Records whose request id is already stored are ignored.
	BulkInsert(ctx context.Context, records []LogRecord) (int64, error)

	// ScanRequestIDs calls fn with every stored request id
	ScanRequestIDs(ctx context.Context, fn func(requestID string)) error

	// ScanSourceFiles calls fn once with every source file having stored records
	ScanSourceFiles(ctx context.Context, fn func(sourceFile string)) error

	// MarkFilesIngested records source files whose records are all stored
	MarkFilesIngested(ctx context.Context, sourceFiles []string) error

	// ScanIngestedFiles calls fn once with every file recorded by MarkFilesIngested
	ScanIngestedFiles(ctx context.Context, fn func(sourceFile string)) error

	// ItemKeys returns the id of every Item by key
	ItemKeys(ctx context.Context) (map[string]int64, error)
}

// AnalyticsStore is the part of the store used by analytics
type AnalyticsStore interface {
	Aggregate(ctx context.Context, req AggregationRequest) ([]GroupCount, error)
	Count(ctx context.Context, r TimeRange, f Filter) (uint64, error)
	Summarize(ctx context.Context, r TimeRange, f Filter) (Summary, error)

	// GetOrCreateItem returns the Item of key, creating it with factory when absent.
	// Concurrent calls for one key create at most one Item.
	GetOrCreateItem(ctx context.Context, key string, factory ItemFactory) (Item, bool, error)

	// SaveIntervalCounts upserts counts by (segment, sample time)
	SaveIntervalCounts(ctx context.Context, counts []IntervalCount) error
	IntervalCounts(ctx context.Context, segment string, r TimeRange) ([]IntervalCount, error)
}

// Store is a record store backend
type Store interface {
	IngestStore
	AnalyticsStore
	Close() error
}
