package accesslog

import (
	"bytes"
	"strconv"
	"time"
)

// Format serializes a line with the access log grammar. Parse(Format(l)) yields l.
func Format(l *Line) string {
	var buf bytes.Buffer
	writeLine(&buf, l)
	return buf.String()
}

// FormatLines serializes lines, one per row, each terminated by a newline
func FormatLines(lines []*Line) []byte {
	var buf bytes.Buffer

	for _, l := range lines {
		writeLine(&buf, l)
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// Field order must match the S3 server access log format
func writeLine(w *bytes.Buffer, l *Line) {
	writeStringPtr(w, l.BucketOwner)
	w.WriteByte(' ')
	writeString(w, l.Bucket)
	w.WriteByte(' ')
	writeTimestamp(w, l.Time)
	w.WriteByte(' ')
	writeStringPtr(w, l.RemoteIP)
	w.WriteByte(' ')
	writeStringPtr(w, l.Requester)
	w.WriteByte(' ')
	writeString(w, l.RequestID)
	w.WriteByte(' ')
	writeString(w, l.Operation)
	w.WriteByte(' ')
	writeStringPtr(w, l.Key)
	w.WriteByte(' ')
	writeQuotedStringPtr(w, l.RequestURI)
	w.WriteByte(' ')
	writeUintPtr(w, l.HTTPStatus)
	w.WriteByte(' ')
	writeStringPtr(w, l.ErrorCode)
	w.WriteByte(' ')
	writeUintPtr(w, l.BytesSent)
	w.WriteByte(' ')
	writeUintPtr(w, l.ObjectSize)
	w.WriteByte(' ')
	writeUintPtr(w, l.TotalTime)
	w.WriteByte(' ')
	writeUintPtr(w, l.TurnAroundTime)
	w.WriteByte(' ')
	writeQuotedStringPtr(w, l.Referrer)
	w.WriteByte(' ')
	writeQuotedStringPtr(w, l.UserAgent)
	w.WriteByte(' ')
	writeStringPtr(w, l.VersionID)

	for _, extra := range l.Extra {
		w.WriteByte(' ')
		w.WriteString(extra)
	}
}

// writeString writes an unquoted field, "-" when empty
func writeString(w *bytes.Buffer, s string) {
	if s == "" {
		w.WriteString(absent)
		return
	}
	w.WriteString(s)
}

// writeStringPtr writes a nullable unquoted field.
// Both NULL and empty string -> "-" (cannot distinguish in space-delimited format)
func writeStringPtr(w *bytes.Buffer, s *string) {
	if s == nil {
		w.WriteString(absent)
		return
	}
	writeString(w, *s)
}

// writeQuotedStringPtr writes a nullable quoted field; NULL -> "-" with quotes
func writeQuotedStringPtr(w *bytes.Buffer, s *string) {
	if s == nil {
		w.WriteString(`"-"`)
		return
	}
	w.WriteString(strconv.Quote(*s))
}

// writeTimestamp writes [DD/MMM/YYYY:HH:MM:SS +hhmm], keeping the offset of t
func writeTimestamp(w *bytes.Buffer, t time.Time) {
	w.WriteByte('[')
	w.WriteString(t.Format(TimeLayout))
	w.WriteByte(']')
}

func writeUintPtr[T ~uint16 | ~uint32 | ~uint64](w *bytes.Buffer, n *T) {
	if n == nil {
		w.WriteString(absent)
		return
	}
	w.WriteString(strconv.FormatUint(uint64(*n), 10))
}
