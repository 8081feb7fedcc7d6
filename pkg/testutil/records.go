package testutil

import (
	"time"

	"github.com/scality/log-analytics/pkg/store"
)

// RecordOption customizes a record built by Record
type RecordOption func(*store.LogRecord)

// Record builds a GET record with the given request id.
// The defaults match NewLogLine.
func Record(requestID string, opts ...RecordOption) store.LogRecord {
	rec := store.LogRecord{
		SourceFile: "2019-03-15-10-30-00-0000000000000000",
		Bucket:     "encode-public",
		Time:       DefaultLogTime,
		RemoteIP:   StrPtr("10.0.0.1"),
		RequestID:  requestID,
		Operation:  "REST.GET.OBJECT",
		Key:        StrPtr("ENCFF000AAA/ENCFF000AAA.bam"),
		HTTPStatus: Uint16Ptr(200),
		BytesSent:  Uint64Ptr(1024),
		ObjectSize: Uint64Ptr(1024),
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

// WithKey sets the object key
func WithKey(key string) RecordOption {
	return func(r *store.LogRecord) { r.Key = StrPtr(key) }
}

// WithoutKey clears the object key
func WithoutKey() RecordOption {
	return func(r *store.LogRecord) { r.Key = nil }
}

// WithIP sets the remote IP
func WithIP(ip string) RecordOption {
	return func(r *store.LogRecord) { r.RemoteIP = StrPtr(ip) }
}

// WithRequester sets the requester
func WithRequester(requester string) RecordOption {
	return func(r *store.LogRecord) { r.Requester = StrPtr(requester) }
}

// WithTime sets the event time
func WithTime(t time.Time) RecordOption {
	return func(r *store.LogRecord) { r.Time = t }
}

// WithObjectSize sets the object size
func WithObjectSize(size uint64) RecordOption {
	return func(r *store.LogRecord) { r.ObjectSize = &size }
}

// WithSource sets the source file
func WithSource(source string) RecordOption {
	return func(r *store.LogRecord) { r.SourceFile = source }
}

// WithItem sets the item reference
func WithItem(id int64) RecordOption {
	return func(r *store.LogRecord) { r.ItemID = &id }
}
