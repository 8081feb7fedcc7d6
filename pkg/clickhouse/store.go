package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/scality/log-analytics/pkg/store"
)

const recordColumns = `request_id, source_file, bucket, time, remote_ip, requester, operation,
	object_key, request_uri, http_status, error_code, bytes_sent, object_size, total_time,
	turn_around_time, referrer, user_agent, version_id, item_id`

const itemColumns = `object_key, id, name, dataset, dataset_type, experiment, assay_title,
	award, lab, file_format, file_type, created_at`

// identityExpr is the requester when present, else the remote IP
const identityExpr = `if(requester IS NOT NULL AND requester != '', assumeNotNull(requester), ifNull(remote_ip, ''))`

// Store implements store.Store on ClickHouse
type Store struct {
	client *Client
	logger *slog.Logger
	db     string

	itemLocks store.KeyLocks // serializes GetOrCreateItem per key within the process
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store over the tables of the client's database
func NewStore(client *Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger, db: client.Database()}
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) table(name string) string {
	return s.db + "." + name
}

// BulkInsert writes the records whose request id is not stored yet, as one insert block
func (s *Store) BulkInsert(ctx context.Context, records []store.LogRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(records))
	for i := range records {
		if records[i].RequestID == "" {
			return 0, fmt.Errorf("record %d has no request id", i)
		}
		ids = append(ids, records[i].RequestID)
	}

	existing, err := s.existingRequestIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	batch, err := s.client.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (%s)", s.table(TableAccessLogs), recordColumns))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	var inserted int64
	for i := range records {
		rec := &records[i]
		if _, ok := existing[rec.RequestID]; ok {
			continue
		}
		existing[rec.RequestID] = struct{}{}

		err := batch.Append(
			rec.RequestID, rec.SourceFile, rec.Bucket, rec.Time.UTC(),
			rec.RemoteIP, rec.Requester, rec.Operation,
			rec.Key, rec.RequestURI, rec.HTTPStatus, rec.ErrorCode,
			rec.BytesSent, rec.ObjectSize, rec.TotalTime, rec.TurnAroundTime,
			rec.Referrer, rec.UserAgent, rec.VersionID, rec.ItemID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append record %s: %w", rec.RequestID, err)
		}
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send insert: %w", err)
	}

	return inserted, nil
}

func (s *Store) existingRequestIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT DISTINCT request_id FROM %s WHERE has(?, request_id)", s.table(TableAccessLogs))

	rows, err := s.client.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing request ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan request id: %w", err)
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// ScanRequestIDs calls fn with every stored request id
func (s *Store) ScanRequestIDs(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, fmt.Sprintf("SELECT DISTINCT request_id FROM %s", s.table(TableAccessLogs)), fn)
}

// ScanSourceFiles calls fn with every source file having stored records
func (s *Store) ScanSourceFiles(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, fmt.Sprintf("SELECT DISTINCT source_file FROM %s", s.table(TableAccessLogs)), fn)
}

// MarkFilesIngested records source files whose records are all stored
func (s *Store) MarkFilesIngested(ctx context.Context, sourceFiles []string) error {
	if len(sourceFiles) == 0 {
		return nil
	}

	batch, err := s.client.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (source_file, ingested_at)", s.table(TableIngestedFiles)))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	now := time.Now().UTC()
	for _, f := range sourceFiles {
		if err := batch.Append(f, now); err != nil {
			return fmt.Errorf("failed to append ingested file %s: %w", f, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to record ingested files: %w", err)
	}
	return nil
}

// ScanIngestedFiles calls fn with every file marked ingested
func (s *Store) ScanIngestedFiles(ctx context.Context, fn func(string)) error {
	return s.scanStrings(ctx, fmt.Sprintf("SELECT DISTINCT source_file FROM %s", s.table(TableIngestedFiles)), fn)
}

func (s *Store) scanStrings(ctx context.Context, query string, fn func(string)) error {
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		fn(value)
	}
	return rows.Err()
}

// ItemKeys returns the id of every Item by key
func (s *Store) ItemKeys(ctx context.Context) (map[string]int64, error) {
	rows, err := s.client.Query(ctx, fmt.Sprintf("SELECT object_key, id FROM %s FINAL", s.table(TableItems)))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			id  int64
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		keys[key] = id
	}
	return keys, rows.Err()
}

// where builds the WHERE clause of a time range and filter
func where(r store.TimeRange, f *store.Filter, extra ...string) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if !r.Start.IsZero() {
		conds = append(conds, "time >= ?")
		args = append(args, r.Start.UTC())
	}
	if !r.End.IsZero() {
		conds = append(conds, "time <= ?")
		args = append(args, r.End.UTC())
	}
	if len(f.Keys) > 0 {
		conds = append(conds, "object_key IS NOT NULL AND has(?, assumeNotNull(object_key))")
		args = append(args, f.Keys)
	}
	if f.KeyPrefix != "" {
		conds = append(conds, "object_key IS NOT NULL AND startsWith(assumeNotNull(object_key), ?)")
		args = append(args, f.KeyPrefix)
	}
	if len(f.Requesters) > 0 {
		conds = append(conds, "requester IS NOT NULL AND has(?, assumeNotNull(requester))")
		args = append(args, f.Requesters)
	}
	if len(f.IPs) > 0 {
		conds = append(conds, "remote_ip IS NOT NULL AND has(?, assumeNotNull(remote_ip))")
		args = append(args, f.IPs)
	}
	if len(f.ExcludeRequesters) > 0 {
		conds = append(conds, "(requester IS NULL OR NOT has(?, assumeNotNull(requester)))")
		args = append(args, f.ExcludeRequesters)
	}
	if len(f.ExcludeIPs) > 0 {
		conds = append(conds, "(remote_ip IS NULL OR NOT has(?, assumeNotNull(remote_ip)))")
		args = append(args, f.ExcludeIPs)
	}
	conds = append(conds, extra...)

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
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

// Aggregate executes a grouped count
func (s *Store) Aggregate(ctx context.Context, req store.AggregationRequest) ([]store.GroupCount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	column := groupColumn(req.GroupBy)
	countExpr := "count()"
	if req.Count == store.CountDistinctIdentities {
		countExpr = fmt.Sprintf("uniqExactIf(%s, %s != '')", identityExpr, identityExpr)
	}

	clause, args := where(req.Range, &req.Filter, column+" IS NOT NULL")
	query := fmt.Sprintf(`
		SELECT assumeNotNull(%s) AS grp, %s AS cnt
		FROM %s FINAL
		%s
		GROUP BY grp
		HAVING cnt > 0
		ORDER BY cnt DESC, grp ASC
	`, column, countExpr, s.table(TableAccessLogs), clause)

	if req.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, req.Limit, req.Offset)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by %s: %w", req.GroupBy, err)
	}
	defer func() { _ = rows.Close() }()

	counts := []store.GroupCount{}
	for rows.Next() {
		var c store.GroupCount
		if err := rows.Scan(&c.Group, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if req.Limit == 0 {
		counts = store.Page(counts, req.Offset, 0)
	}
	return counts, nil
}

// Count returns the number of matching records
func (s *Store) Count(ctx context.Context, r store.TimeRange, f store.Filter) (uint64, error) {
	clause, args := where(r, &f)
	query := fmt.Sprintf("SELECT count() FROM %s FINAL %s", s.table(TableAccessLogs), clause)

	var count uint64
	if err := s.client.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Summarize computes the general statistics of the matching records
func (s *Store) Summarize(ctx context.Context, r store.TimeRange, f store.Filter) (store.Summary, error) {
	clause, args := where(r, &f)
	query := fmt.Sprintf(`
		SELECT
			count(),
			uniqExactIf(tuple(assumeNotNull(object_key), %s), object_key IS NOT NULL AND %s != ''),
			uniqExact(remote_ip),
			uniqExact(object_key),
			uniqExact(requester)
		FROM %s FINAL
		%s
	`, identityExpr, identityExpr, s.table(TableAccessLogs), clause)

	var summary store.Summary
	err := s.client.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRequests,
		&summary.UniqueRequestPairs,
		&summary.UniqueIPs,
		&summary.UniqueKeys,
		&summary.UniqueRequesters,
	)
	if err != nil {
		return store.Summary{}, fmt.Errorf("failed to summarize records: %w", err)
	}

	// Average over distinct keys of the largest size seen for each key
	clause, args = where(r, &f, "object_key IS NOT NULL", "object_size IS NOT NULL")
	query = fmt.Sprintf(`
		SELECT avgOrDefault(size)
		FROM (
			SELECT max(assumeNotNull(object_size)) AS size
			FROM %s FINAL
			%s
			GROUP BY object_key
		)
	`, s.table(TableAccessLogs), clause)

	if err := s.client.QueryRow(ctx, query, args...).Scan(&summary.AverageObjectSize); err != nil {
		return store.Summary{}, fmt.Errorf("failed to average object sizes: %w", err)
	}

	return summary, nil
}

// itemID derives a positive id from the key, so that concurrent writers
// creating the same item produce rows that collapse on merge
func itemID(key string) int64 {
	return int64(xxhash.Sum64String(key) >> 1)
}

// GetOrCreateItem returns the Item of key, creating it with factory when absent
func (s *Store) GetOrCreateItem(ctx context.Context, key string, factory store.ItemFactory) (store.Item, bool, error) {
	defer s.itemLocks.Lock(key)()

	item, err := s.getItem(ctx, key)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, false, err
	}

	item, err = factory(ctx, key)
	if err != nil {
		return store.Item{}, false, fmt.Errorf("failed to build item %q: %w", key, err)
	}
	item.ID = itemID(key)
	item.Key = key
	if item.Name == "" {
		item.Name = store.DisplayName(key)
	}
	item.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.table(TableItems), itemColumns)
	err = s.client.Exec(ctx, query,
		item.Key, item.ID, item.Name, item.Dataset, item.DatasetType, item.Experiment,
		item.AssayTitle, item.Award, item.Lab, item.FileFormat, item.FileType, item.CreatedAt)
	if err != nil {
		return store.Item{}, false, fmt.Errorf("failed to insert item %q: %w", key, err)
	}

	s.logger.Debug("created item", "key", key, "itemId", item.ID)
	return item, true, nil
}

func (s *Store) getItem(ctx context.Context, key string) (store.Item, error) {
	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE object_key = ? LIMIT 1", itemColumns, s.table(TableItems))

	var item store.Item
	err := s.client.QueryRow(ctx, query, key).Scan(
		&item.Key, &item.ID, &item.Name, &item.Dataset, &item.DatasetType, &item.Experiment,
		&item.AssayTitle, &item.Award, &item.Lab, &item.FileFormat, &item.FileType, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Item{}, err
		}
		return store.Item{}, fmt.Errorf("failed to get item %q: %w", key, err)
	}
	return item, nil
}

// SaveIntervalCounts upserts counts by (segment, sample time); the latest computation wins
func (s *Store) SaveIntervalCounts(ctx context.Context, counts []store.IntervalCount) error {
	if len(counts) == 0 {
		return nil
	}

	batch, err := s.client.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (segment, sample_time, request_count, computed_at)", s.table(TableIntervalCounts)))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	for _, c := range counts {
		if err := batch.Append(c.Segment, c.SampleTime.UTC(), c.Count, c.ComputedAt.UTC()); err != nil {
			return fmt.Errorf("failed to append interval count: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to save interval counts: %w", err)
	}
	return nil
}

// IntervalCounts returns the stored counts of a segment in range, by sample time
func (s *Store) IntervalCounts(ctx context.Context, segment string, r store.TimeRange) ([]store.IntervalCount, error) {
	conds := []string{"segment = ?"}
	args := []any{segment}
	if !r.Start.IsZero() {
		conds = append(conds, "sample_time >= ?")
		args = append(args, r.Start.UTC())
	}
	if !r.End.IsZero() {
		conds = append(conds, "sample_time <= ?")
		args = append(args, r.End.UTC())
	}

	query := fmt.Sprintf(`
		SELECT segment, sample_time, request_count, computed_at
		FROM %s FINAL
		WHERE %s
		ORDER BY sample_time
	`, s.table(TableIntervalCounts), strings.Join(conds, " AND "))

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interval counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []store.IntervalCount
	for rows.Next() {
		var c store.IntervalCount
		if err := rows.Scan(&c.Segment, &c.SampleTime, &c.Count, &c.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interval count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
