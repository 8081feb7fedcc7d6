package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type intervalKey struct {
	sampleTime time.Time
	segment    string
}

// MemoryStore keeps everything in process memory.
// It backs tests and single-shot runs over small log sets.
type MemoryStore struct {
	itemLocks KeyLocks // serializes GetOrCreateItem per key

	mu            sync.RWMutex
	records       []LogRecord
	requestIDs    map[string]struct{}
	sourceFiles   map[string]struct{}
	ingestedFiles map[string]struct{}
	items       map[string]Item
	intervals   map[intervalKey]IntervalCount
	nextItemID  int64
	closed      bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requestIDs:    make(map[string]struct{}),
		sourceFiles:   make(map[string]struct{}),
		ingestedFiles: make(map[string]struct{}),
		items:         make(map[string]Item),
		intervals:     make(map[intervalKey]IntervalCount),
		nextItemID:    1,
	}
}

// Close releases the store; further calls fail with ErrClosed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// BulkInsert appends the records not already stored
func (s *MemoryStore) BulkInsert(ctx context.Context, records []LogRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	var inserted int64
	for i := range records {
		if records[i].RequestID == "" {
			return 0, fmt.Errorf("record %d has no request id", i)
		}
	}
	for i := range records {
		rec := records[i]
		if _, exists := s.requestIDs[rec.RequestID]; exists {
			continue
		}
		s.requestIDs[rec.RequestID] = struct{}{}
		s.sourceFiles[rec.SourceFile] = struct{}{}
		s.records = append(s.records, rec)
		inserted++
	}

	return inserted, nil
}

// ScanRequestIDs calls fn with every stored request id
func (s *MemoryStore) ScanRequestIDs(ctx context.Context, fn func(string)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	for id := range s.requestIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(id)
	}
	return nil
}

// ScanSourceFiles calls fn with every source file having stored records
func (s *MemoryStore) ScanSourceFiles(ctx context.Context, fn func(string)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	for source := range s.sourceFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(source)
	}
	return nil
}

// MarkFilesIngested records source files whose records are all stored
func (s *MemoryStore) MarkFilesIngested(ctx context.Context, sourceFiles []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, f := range sourceFiles {
		s.ingestedFiles[f] = struct{}{}
	}
	return nil
}

// ScanIngestedFiles calls fn with every file marked ingested
func (s *MemoryStore) ScanIngestedFiles(ctx context.Context, fn func(string)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	for f := range s.ingestedFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(f)
	}
	return nil
}

// ItemKeys returns the id of every Item by key
func (s *MemoryStore) ItemKeys(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	keys := make(map[string]int64, len(s.items))
	for key, item := range s.items {
		keys[key] = item.ID
	}
	return keys, nil
}

// Records returns a copy of the stored records, in insertion order
func (s *MemoryStore) Records() []LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// each calls fn for every record in range passing the filter, under the read lock
func (s *MemoryStore) each(r TimeRange, f *Filter, fn func(rec *LogRecord)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	for i := range s.records {
		rec := &s.records[i]
		if r.Contains(rec.Time) && f.Match(rec) {
			fn(rec)
		}
	}
	return nil
}

// Aggregate executes a grouped count
func (s *MemoryStore) Aggregate(ctx context.Context, req AggregationRequest) ([]GroupCount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type group struct {
		identities map[string]struct{}
		rows       uint64
	}
	groups := make(map[string]*group)

	err := s.each(req.Range, &req.Filter, func(rec *LogRecord) {
		value := req.GroupBy.GroupValue(rec)
		if value == nil {
			return
		}
		g, ok := groups[*value]
		if !ok {
			g = &group{identities: make(map[string]struct{})}
			groups[*value] = g
		}
		g.rows++
		if identity := rec.Identity(); identity != "" {
			g.identities[identity] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}

	counts := make([]GroupCount, 0, len(groups))
	for name, g := range groups {
		count := g.rows
		if req.Count == CountDistinctIdentities {
			count = uint64(len(g.identities))
		}
		if count == 0 {
			continue
		}
		counts = append(counts, GroupCount{Group: name, Count: count})
	}
	SortGroupCounts(counts)

	return Page(counts, req.Offset, req.Limit), nil
}

// Count returns the number of matching records
func (s *MemoryStore) Count(ctx context.Context, r TimeRange, f Filter) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count uint64
	err := s.each(r, &f, func(*LogRecord) {
		count++
	})
	return count, err
}

// Summarize computes the general statistics of the matching records
func (s *MemoryStore) Summarize(ctx context.Context, r TimeRange, f Filter) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	type pair struct{ key, identity string }
	var (
		summary    Summary
		pairs      = make(map[pair]struct{})
		ips        = make(map[string]struct{})
		keys       = make(map[string]struct{})
		requesters = make(map[string]struct{})
		sizes      = make(map[string]uint64)
	)

	err := s.each(r, &f, func(rec *LogRecord) {
		summary.TotalRequests++
		if rec.RemoteIP != nil {
			ips[*rec.RemoteIP] = struct{}{}
		}
		if rec.Requester != nil {
			requesters[*rec.Requester] = struct{}{}
		}
		if rec.Key == nil {
			return
		}
		keys[*rec.Key] = struct{}{}
		if identity := rec.Identity(); identity != "" {
			pairs[pair{key: *rec.Key, identity: identity}] = struct{}{}
		}
		if rec.ObjectSize != nil && *rec.ObjectSize >= sizes[*rec.Key] {
			sizes[*rec.Key] = *rec.ObjectSize
		}
	})
	if err != nil {
		return Summary{}, err
	}

	summary.UniqueRequestPairs = uint64(len(pairs))
	summary.UniqueIPs = uint64(len(ips))
	summary.UniqueKeys = uint64(len(keys))
	summary.UniqueRequesters = uint64(len(requesters))

	if len(sizes) > 0 {
		var total float64
		for _, size := range sizes {
			total += float64(size)
		}
		summary.AverageObjectSize = total / float64(len(sizes))
	}

	return summary, nil
}

// GetOrCreateItem returns the Item of key, creating it with factory when absent
func (s *MemoryStore) GetOrCreateItem(ctx context.Context, key string, factory ItemFactory) (Item, bool, error) {
	defer s.itemLocks.Lock(key)()

	s.mu.RLock()
	item, ok := s.items[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return Item{}, false, ErrClosed
	}
	if ok {
		return item, false, nil
	}

	item, err := factory(ctx, key)
	if err != nil {
		return Item{}, false, fmt.Errorf("failed to build item %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = s.nextItemID
	item.Key = key
	if item.Name == "" {
		item.Name = DisplayName(key)
	}
	item.CreatedAt = time.Now().UTC()
	s.nextItemID++
	s.items[key] = item

	return item, true, nil
}

// SaveIntervalCounts upserts counts by (segment, sample time)
func (s *MemoryStore) SaveIntervalCounts(_ context.Context, counts []IntervalCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, c := range counts {
		s.intervals[intervalKey{segment: c.Segment, sampleTime: c.SampleTime.UTC()}] = c
	}
	return nil
}

// IntervalCounts returns the stored counts of a segment in range, by sample time
func (s *MemoryStore) IntervalCounts(_ context.Context, segment string, r TimeRange) ([]IntervalCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var counts []IntervalCount
	for k, c := range s.intervals {
		if k.segment == segment && r.Contains(c.SampleTime) {
			counts = append(counts, c)
		}
	}
	slices.SortFunc(counts, func(a, b IntervalCount) int {
		return a.SampleTime.Compare(b.SampleTime)
	})
	return counts, nil
}
