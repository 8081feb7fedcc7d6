package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scality/log-analytics/pkg/store"
)

var recordColumns = []string{
	"request_id", "source_file", "bucket", "time", "remote_ip", "requester", "operation",
	"object_key", "request_uri", "http_status", "error_code", "bytes_sent", "object_size",
	"total_time", "turn_around_time", "referrer", "user_agent", "version_id", "item_id",
}

const itemColumns = `id, object_key, name, dataset, dataset_type, experiment, assay_title,
	award, lab, file_format, file_type, created_at`

// identityExpr is the requester when present, else the remote IP
const identityExpr = `COALESCE(NULLIF(requester, ''), remote_ip, '')`

// Store implements store.Store on PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store over the tables of the pool's search path
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// BulkInsert copies the records into a staging table, then moves the new ones
// into access_logs, in one transaction
func (s *Store) BulkInsert(ctx context.Context, records []store.LogRecord) (inserted int64, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		if records[i].RequestID == "" {
			return 0, fmt.Errorf("record %d has no request id", i)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	columns := strings.Join(recordColumns, ", ")
	_, err = tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE access_logs_staging ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		columns, TableAccessLogs))
	if err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"access_logs_staging"}, recordColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := &records[i]
			return []any{
				rec.RequestID, rec.SourceFile, rec.Bucket, rec.Time.UTC(),
				rec.RemoteIP, rec.Requester, rec.Operation,
				rec.Key, rec.RequestURI, rec.HTTPStatus, rec.ErrorCode,
				rec.BytesSent, rec.ObjectSize, rec.TotalTime, rec.TurnAroundTime,
				rec.Referrer, rec.UserAgent, rec.VersionID, rec.ItemID,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy records: %w", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM access_logs_staging ON CONFLICT (request_id) DO NOTHING",
		TableAccessLogs, columns, columns))
	if err != nil {
		return 0, fmt.Errorf("insert records: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ScanRequestIDs calls fn with every stored request id
func (s *Store) ScanRequestIDs(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, "SELECT request_id FROM "+TableAccessLogs, fn)
}

// ScanSourceFiles calls fn with every source file having stored records
func (s *Store) ScanSourceFiles(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, "SELECT DISTINCT source_file FROM "+TableAccessLogs, fn)
}

// MarkFilesIngested records source files whose records are all stored
func (s *Store) MarkFilesIngested(ctx context.Context, sourceFiles []string) error {
	if len(sourceFiles) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (source_file) SELECT unnest($1::text[]) ON CONFLICT (source_file) DO NOTHING",
		TableIngestedFiles), sourceFiles)
	if err != nil {
		return fmt.Errorf("failed to record ingested files: %w", err)
	}
	return nil
}

// ScanIngestedFiles calls fn with every file marked ingested
func (s *Store) ScanIngestedFiles(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, "SELECT source_file FROM "+TableIngestedFiles, fn)
}

func (s *Store) scanStrings(ctx context.Context, query string, fn func(string)) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var value string
	_, err = pgx.ForEachRow(rows, []any{&value}, func() error {
		fn(value)
		return nil
	})
	return err
}

// ItemKeys returns the id of every Item by key
func (s *Store) ItemKeys(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT object_key, id FROM "+TableItems)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	var (
		key string
		id  int64
	)
	_, err = pgx.ForEachRow(rows, []any{&key, &id}, func() error {
		keys[key] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	return keys, nil
}

// queryBuilder numbers positional parameters
type queryBuilder struct {
	args []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// where builds the WHERE clause of a time range and filter
func (q *queryBuilder) where(r store.TimeRange, f *store.Filter, extra ...string) string {
	var conds []string

	if !r.Start.IsZero() {
		conds = append(conds, "time >= "+q.arg(r.Start.UTC()))
	}
	if !r.End.IsZero() {
		conds = append(conds, "time <= "+q.arg(r.End.UTC()))
	}
	if len(f.Keys) > 0 {
		conds = append(conds, "object_key = ANY("+q.arg(f.Keys)+")")
	}
	if f.KeyPrefix != "" {
		conds = append(conds, "starts_with(object_key, "+q.arg(f.KeyPrefix)+")")
	}
	if len(f.Requesters) > 0 {
		conds = append(conds, "requester = ANY("+q.arg(f.Requesters)+")")
	}
	if len(f.IPs) > 0 {
		conds = append(conds, "remote_ip = ANY("+q.arg(f.IPs)+")")
	}
	if len(f.ExcludeRequesters) > 0 {
		conds = append(conds, "(requester IS NULL OR requester <> ALL("+q.arg(f.ExcludeRequesters)+"))")
	}
	if len(f.ExcludeIPs) > 0 {
		conds = append(conds, "(remote_ip IS NULL OR remote_ip <> ALL("+q.arg(f.ExcludeIPs)+"))")
	}
	conds = append(conds, extra...)

	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func groupColumn(g store.GroupBy) string {
	switch g {
	case store.GroupByIP:
		return "remote_ip"
	case store.GroupByRequester:
		return "requester"
	default:
		return "object_key"
	}
}

// aggregateQuery builds the SQL of an aggregation and its arguments
func aggregateQuery(req *store.AggregationRequest) (string, []any) {
	column := groupColumn(req.GroupBy)
	countExpr := "COUNT(*)"
	if req.Count == store.CountDistinctIdentities {
		countExpr = fmt.Sprintf("COUNT(DISTINCT NULLIF(%s, ''))", identityExpr)
	}

	var q queryBuilder
	clause := q.where(req.Range, &req.Filter, column+" IS NOT NULL")

	var limit any
	if req.Limit > 0 {
		limit = req.Limit
	}

	// Groups are ordered bytewise, whatever the database collation.
	// Output aliases are not visible inside ORDER BY expressions.
	query := fmt.Sprintf(`
		SELECT %s AS grp, %s AS cnt
		FROM %s
		%s
		GROUP BY %s
		HAVING %s > 0
		ORDER BY cnt DESC, %s COLLATE "C" ASC
		LIMIT %s OFFSET %s
	`, column, countExpr, TableAccessLogs, clause, column, countExpr, column, q.arg(limit), q.arg(req.Offset))

	return query, q.args
}

// Aggregate executes a grouped count
func (s *Store) Aggregate(ctx context.Context, req store.AggregationRequest) ([]store.GroupCount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query, args := aggregateQuery(&req)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by %s: %w", req.GroupBy, err)
	}
	defer rows.Close()

	counts := []store.GroupCount{}
	var (
		group string
		count int64
	)
	_, err = pgx.ForEachRow(rows, []any{&group, &count}, func() error {
		counts = append(counts, store.GroupCount{Group: group, Count: uint64(count)}) //nolint:gosec // counts are positive
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan group counts: %w", err)
	}
	return counts, nil
}

// Count returns the number of matching records
func (s *Store) Count(ctx context.Context, r store.TimeRange, f store.Filter) (uint64, error) {
	var q queryBuilder
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", TableAccessLogs, q.where(r, &f))

	var count int64
	if err := s.pool.QueryRow(ctx, query, q.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return uint64(count), nil //nolint:gosec // counts are positive
}

// Summarize computes the general statistics of the matching records
func (s *Store) Summarize(ctx context.Context, r store.TimeRange, f store.Filter) (store.Summary, error) {
	var q queryBuilder
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT ROW(object_key, %s)) FILTER (WHERE object_key IS NOT NULL AND %s <> ''),
			COUNT(DISTINCT remote_ip),
			COUNT(DISTINCT object_key),
			COUNT(DISTINCT requester)
		FROM %s
		%s
	`, identityExpr, identityExpr, TableAccessLogs, q.where(r, &f))

	var total, pairs, ips, keys, requesters int64
	if err := s.pool.QueryRow(ctx, query, q.args...).Scan(&total, &pairs, &ips, &keys, &requesters); err != nil {
		return store.Summary{}, fmt.Errorf("failed to summarize records: %w", err)
	}

	// Average over distinct keys of the largest size seen for each key
	q = queryBuilder{}
	query = fmt.Sprintf(`
		SELECT COALESCE(AVG(size), 0)::float8
		FROM (
			SELECT MAX(object_size) AS size
			FROM %s
			%s
			GROUP BY object_key
		) sizes
	`, TableAccessLogs, q.where(r, &f, "object_key IS NOT NULL", "object_size IS NOT NULL"))

	var avg float64
	if err := s.pool.QueryRow(ctx, query, q.args...).Scan(&avg); err != nil {
		return store.Summary{}, fmt.Errorf("failed to average object sizes: %w", err)
	}

	//nolint:gosec // counts are positive
	return store.Summary{
		TotalRequests:      uint64(total),
		UniqueRequestPairs: uint64(pairs),
		UniqueIPs:          uint64(ips),
		UniqueKeys:         uint64(keys),
		UniqueRequesters:   uint64(requesters),
		AverageObjectSize:  avg,
	}, nil
}

// GetOrCreateItem returns the Item of key, creating it with factory when absent.
// The unique key constraint makes creation atomic across processes.
func (s *Store) GetOrCreateItem(ctx context.Context, key string, factory store.ItemFactory) (store.Item, bool, error) {
	item, err := s.getItem(ctx, key)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Item{}, false, err
	}

	item, err = factory(ctx, key)
	if err != nil {
		return store.Item{}, false, fmt.Errorf("failed to build item %q: %w", key, err)
	}
	item.Key = key
	if item.Name == "" {
		item.Name = store.DisplayName(key)
	}

	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (object_key, name, dataset, dataset_type, experiment, assay_title,
			award, lab, file_format, file_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (object_key) DO NOTHING
		RETURNING id, created_at
	`, TableItems),
		item.Key, item.Name, item.Dataset, item.DatasetType, item.Experiment,
		item.AssayTitle, item.Award, item.Lab, item.FileFormat, item.FileType,
	).Scan(&item.ID, &item.CreatedAt)

	switch {
	case err == nil:
		item.CreatedAt = item.CreatedAt.UTC()
		s.logger.Debug("created item", "key", key, "itemId", item.ID)
		return item, true, nil

	case errors.Is(err, pgx.ErrNoRows):
		// Created concurrently by another caller
		item, err = s.getItem(ctx, key)
		if err != nil {
			return store.Item{}, false, err
		}
		return item, false, nil

	default:
		return store.Item{}, false, fmt.Errorf("failed to insert item %q: %w", key, err)
	}
}

func (s *Store) getItem(ctx context.Context, key string) (store.Item, error) {
	var item store.Item
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE object_key = $1", itemColumns, TableItems), key,
	).Scan(
		&item.ID, &item.Key, &item.Name, &item.Dataset, &item.DatasetType, &item.Experiment,
		&item.AssayTitle, &item.Award, &item.Lab, &item.FileFormat, &item.FileType, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Item{}, err
		}
		return store.Item{}, fmt.Errorf("failed to get item %q: %w", key, err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

// SaveIntervalCounts upserts counts by (segment, sample time) in one transaction
func (s *Store) SaveIntervalCounts(ctx context.Context, counts []store.IntervalCount) error {
	if len(counts) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (segment, sample_time, request_count, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (segment, sample_time)
		DO UPDATE SET request_count = EXCLUDED.request_count, computed_at = EXCLUDED.computed_at
	`, TableIntervalCounts)

	batch := &pgx.Batch{}
	for _, c := range counts {
		batch.Queue(query, c.Segment, c.SampleTime.UTC(), int64(c.Count), c.ComputedAt.UTC()) //nolint:gosec // counts fit
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save interval counts: %w", err)
		}
		return nil
	})
}

// IntervalCounts returns the stored counts of a segment in range, by sample time
func (s *Store) IntervalCounts(ctx context.Context, segment string, r store.TimeRange) ([]store.IntervalCount, error) {
	var q queryBuilder
	conds := []string{"segment = " + q.arg(segment)}
	if !r.Start.IsZero() {
		conds = append(conds, "sample_time >= "+q.arg(r.Start.UTC()))
	}
	if !r.End.IsZero() {
		conds = append(conds, "sample_time <= "+q.arg(r.End.UTC()))
	}

	query := fmt.Sprintf(`
		SELECT segment, sample_time, request_count, computed_at
		FROM %s
		WHERE %s
		ORDER BY sample_time
	`, TableIntervalCounts, strings.Join(conds, " AND "))

	rows, err := s.pool.Query(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interval counts: %w", err)
	}
	defer rows.Close()

	var (
		counts     []store.IntervalCount
		c          store.IntervalCount
		count      int64
		sampleTime time.Time
		computedAt time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&c.Segment, &sampleTime, &count, &computedAt}, func() error {
		c.SampleTime = sampleTime.UTC()
		c.ComputedAt = computedAt.UTC()
		c.Count = uint64(count) //nolint:gosec // counts are positive
		counts = append(counts, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan interval counts: %w", err)
	}
	return counts, nil
}
