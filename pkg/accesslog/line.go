package accesslog

import "time"

// TimeLayout is the layout of the bracketed timestamp field, without the brackets
const TimeLayout = "02/Jan/2006:15:04:05 -0700"

// Line is one parsed S3 server access log line.
// Absent fields ("-") are nil.
//
//nolint:govet // fieldalignment: field order follows the log format
type Line struct {
	BucketOwner    *string
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

	// Extra holds the fields following the version id (host id, signature version,
	// cipher suite, ...) verbatim, as they appeared in the line.
	Extra []string
}
