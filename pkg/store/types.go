package store

import (
	"path"
	"time"
)

// LogRecord is one persisted retrieval request.
// RequestID is unique across the store.
//
//nolint:govet // fieldalignment: field order follows the access log format
type LogRecord struct {
	SourceFile     string
	Bucket         string
	Time           time.Time
	RemoteIP       *string
	Requester      *string
	RequestID      string
	Operation      string
	Key            *string
	RequestURI     *string
	HTTPStatus     *uint16
	ErrorCode      *string
	BytesSent      *uint64
	ObjectSize     *uint64
	TotalTime      *uint32
	TurnAroundTime *uint32
	Referrer       *string
	UserAgent      *string
	VersionID      *string
	ItemID         *int64
}

// Identity returns the requester when present, else the remote IP.
// Anonymous requests are told apart by their address.
func (r *LogRecord) Identity() string {
	if r.Requester != nil && *r.Requester != "" {
		return *r.Requester
	}
	if r.RemoteIP != nil {
		return *r.RemoteIP
	}
	return ""
}

// Item is the enriched representation of one stored object
type Item struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Dataset     *string   `json:"dataset,omitempty"`
	DatasetType *string   `json:"datasetType,omitempty"`
	Experiment  *string   `json:"experiment,omitempty"`
	AssayTitle  *string   `json:"assayTitle,omitempty"`
	Award       *string   `json:"award,omitempty"`
	Lab         *string   `json:"lab,omitempty"`
	FileFormat  *string   `json:"fileFormat,omitempty"`
	FileType    *string   `json:"fileType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DisplayName is the last path segment of an object key
func DisplayName(key string) string {
	return path.Base(key)
}

// IntervalCount is the number of records in the window centered on SampleTime
type IntervalCount struct {
	Segment    string    `json:"segment,omitempty"`
	SampleTime time.Time `json:"sampleTime"`
	Count      uint64    `json:"count"`
	ComputedAt time.Time `json:"computedAt,omitempty"`
}

// TimeRange is an inclusive time range. A zero bound is unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the range, bounds included
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Filter restricts the records an aggregation considers.
// Empty fields do not restrict.
type Filter struct {
	Keys              []string
	KeyPrefix         string
	Requesters        []string
	IPs               []string
	ExcludeRequesters []string
	ExcludeIPs        []string
}

// GroupBy is the grouping key of an aggregation
type GroupBy int

// Grouping keys
const (
	GroupByKey GroupBy = iota
	GroupByIP
	GroupByRequester
)

func (g GroupBy) String() string {
	switch g {
	case GroupByIP:
		return "ip"
	case GroupByRequester:
		return "requester"
	default:
		return "key"
	}
}

// CountMode selects what an aggregation counts per group
type CountMode int

// Count modes
const (
	// CountRows counts matching records
	CountRows CountMode = iota
	// CountDistinctIdentities counts distinct requester identities (requester, else IP)
	CountDistinctIdentities
)

// AggregationRequest describes one grouped count over the records.
// Records whose grouping value is null are not grouped.
// Results are ordered by count descending, then group ascending.
type AggregationRequest struct {
	Range   TimeRange
	Filter  Filter
	GroupBy GroupBy
	Count   CountMode
	Limit   int // 0 means no limit
	Offset  int
}

// GroupCount is one row of an aggregation result
type GroupCount struct {
	Group string `json:"group"`
	Count uint64 `json:"count"`
}

// Summary holds the general statistics over a set of records
type Summary struct {
	TotalRequests      uint64  `json:"totalRequests"`
	UniqueRequestPairs uint64  `json:"uniqueRequestPairs"`
	UniqueIPs          uint64  `json:"uniqueIPs"`
	UniqueKeys         uint64  `json:"uniqueKeys"`
	UniqueRequesters   uint64  `json:"uniqueRequesters"`
	AverageObjectSize  float64 `json:"averageObjectSize"`
}
