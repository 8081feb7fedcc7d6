package ingest

import (
	"github.com/scality/log-analytics/pkg/accesslog"
	"github.com/scality/log-analytics/pkg/store"
)

// RecordFilter keeps retrieval requests and turns them into records.
// It performs no I/O: items are resolved from a table loaded beforehand.
type RecordFilter struct {
	items map[string]int64
}

// NewRecordFilter creates a filter resolving keys with items (key -> item id)
func NewRecordFilter(items map[string]int64) *RecordFilter {
	return &RecordFilter{items: items}
}

// Apply returns the record of a retrieval line, or false when the line is discarded
func (f *RecordFilter) Apply(line *accesslog.Line, sourceFile string) (*store.LogRecord, bool) {
	if !accesslog.Classify(line.Operation).IsRetrieval() {
		return nil, false
	}

	rec := &store.LogRecord{
		SourceFile:     sourceFile,
		Bucket:         line.Bucket,
		Time:           line.Time.UTC(),
		RemoteIP:       line.RemoteIP,
		Requester:      line.Requester,
		RequestID:      line.RequestID,
		Operation:      line.Operation,
		Key:            line.Key,
		RequestURI:     line.RequestURI,
		HTTPStatus:     line.HTTPStatus,
		ErrorCode:      line.ErrorCode,
		BytesSent:      line.BytesSent,
		ObjectSize:     line.ObjectSize,
		TotalTime:      line.TotalTime,
		TurnAroundTime: line.TurnAroundTime,
		Referrer:       line.Referrer,
		UserAgent:      line.UserAgent,
		VersionID:      line.VersionID,
	}

	if line.Key != nil {
		if id, ok := f.items[*line.Key]; ok {
			rec.ItemID = &id
		}
	}

	return rec, true
}
