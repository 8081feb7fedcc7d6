package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/scality/log-analytics/pkg/accesslog"
)

// DefaultLogTime is the event time used by NewLogLine
var DefaultLogTime = time.Date(2019, 3, 15, 10, 30, 0, 0, time.UTC)

// LogLine builds access log lines for tests
type LogLine struct {
	line accesslog.Line
}

// NewLogLine returns a GET of "ENCFF000AAA/ENCFF000AAA.bam" by 10.0.0.1 with the given request id
func NewLogLine(requestID string) *LogLine {
	key := "ENCFF000AAA/ENCFF000AAA.bam"
	return &LogLine{line: accesslog.Line{
		BucketOwner:    StrPtr("79a59df900b949e55d96a1e698fbacedfd6e09d98eacf8f8d5218e7cd47ef2be"),
		Bucket:         "encode-public",
		Time:           DefaultLogTime,
		RemoteIP:       StrPtr("10.0.0.1"),
		RequestID:      requestID,
		Operation:      accesslog.OperationGetObject,
		Key:            StrPtr(key),
		RequestURI:     StrPtr(fmt.Sprintf("GET /%s HTTP/1.1", key)),
		HTTPStatus:     Uint16Ptr(200),
		BytesSent:      Uint64Ptr(1024),
		ObjectSize:     Uint64Ptr(1024),
		TotalTime:      Uint32Ptr(45),
		TurnAroundTime: Uint32Ptr(12),
		UserAgent:      StrPtr("curl/7.64.1"),
	}}
}

// Operation sets the operation name
func (b *LogLine) Operation(op string) *LogLine {
	b.line.Operation = op
	return b
}

// Key sets the object key
func (b *LogLine) Key(key string) *LogLine {
	b.line.Key = StrPtr(key)
	return b
}

// IP sets the remote IP
func (b *LogLine) IP(ip string) *LogLine {
	b.line.RemoteIP = StrPtr(ip)
	return b
}

// Requester sets the requester identity
func (b *LogLine) Requester(requester string) *LogLine {
	b.line.Requester = StrPtr(requester)
	return b
}

// At sets the event time
func (b *LogLine) At(t time.Time) *LogLine {
	b.line.Time = t
	return b
}

// ObjectSize sets the object size
func (b *LogLine) ObjectSize(size uint64) *LogLine {
	b.line.ObjectSize = &size
	return b
}

// Line returns a copy of the built line
func (b *LogLine) Line() *accesslog.Line {
	l := b.line
	return &l
}

// String returns the formatted line
func (b *LogLine) String() string {
	return accesslog.Format(&b.line)
}

// LogFile joins lines into the content of a log file
func LogFile(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
