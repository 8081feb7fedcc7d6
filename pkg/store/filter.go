package store

import (
	"fmt"
	"slices"
	"strings"
)

// Match reports whether a record passes the filter
func (f *Filter) Match(r *LogRecord) bool {
	if len(f.Keys) > 0 && (r.Key == nil || !slices.Contains(f.Keys, *r.Key)) {
		return false
	}
	if f.KeyPrefix != "" && (r.Key == nil || !strings.HasPrefix(*r.Key, f.KeyPrefix)) {
		return false
	}
	if len(f.Requesters) > 0 && (r.Requester == nil || !slices.Contains(f.Requesters, *r.Requester)) {
		return false
	}
	if len(f.IPs) > 0 && (r.RemoteIP == nil || !slices.Contains(f.IPs, *r.RemoteIP)) {
		return false
	}
	if r.Requester != nil && slices.Contains(f.ExcludeRequesters, *r.Requester) {
		return false
	}
	if r.RemoteIP != nil && slices.Contains(f.ExcludeIPs, *r.RemoteIP) {
		return false
	}
	return true
}

// GroupValue returns the grouping value of a record, nil when the field is null
func (g GroupBy) GroupValue(r *LogRecord) *string {
	switch g {
	case GroupByIP:
		return r.RemoteIP
	case GroupByRequester:
		return r.Requester
	default:
		return r.Key
	}
}

// Validate checks the request bounds
func (req *AggregationRequest) Validate() error {
	if req.Limit < 0 {
		return fmt.Errorf("aggregation limit must not be negative, got %d", req.Limit)
	}
	if req.Offset < 0 {
		return fmt.Errorf("aggregation offset must not be negative, got %d", req.Offset)
	}
	if req.GroupBy < GroupByKey || req.GroupBy > GroupByRequester {
		return fmt.Errorf("unknown aggregation group %d", req.GroupBy)
	}
	if req.Count != CountRows && req.Count != CountDistinctIdentities {
		return fmt.Errorf("unknown aggregation count mode %d", req.Count)
	}
	if !req.Range.Start.IsZero() && !req.Range.End.IsZero() && req.Range.End.Before(req.Range.Start) {
		return fmt.Errorf("aggregation range ends (%s) before it starts (%s)", req.Range.End, req.Range.Start)
	}
	return nil
}

// SortGroupCounts orders counts by count descending, then group ascending
func SortGroupCounts(counts []GroupCount) {
	slices.SortFunc(counts, func(a, b GroupCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Group, b.Group)
	})
}

// Page applies offset and limit to an ordered result
func Page[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
