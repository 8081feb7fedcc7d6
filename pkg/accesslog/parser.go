package accesslog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NumFields is the number of positional fields up to and including the version id.
// Lines may carry more fields; they are kept in Line.Extra.
const NumFields = 18

const absent = "-"

// Field positions
const (
	fieldBucketOwner = iota
	fieldBucket
	fieldTime
	fieldRemoteIP
	fieldRequester
	fieldRequestID
	fieldOperation
	fieldKey
	fieldRequestURI
	fieldHTTPStatus
	fieldErrorCode
	fieldBytesSent
	fieldObjectSize
	fieldTotalTime
	fieldTurnAroundTime
	fieldReferrer
	fieldUserAgent
	fieldVersionID
)

var fieldNames = [NumFields]string{
	"bucketOwner",
	"bucket",
	"time",
	"remoteIP",
	"requester",
	"requestID",
	"operation",
	"key",
	"requestURI",
	"httpStatus",
	"errorCode",
	"bytesSent",
	"objectSize",
	"totalTime",
	"turnAroundTime",
	"referrer",
	"userAgent",
	"versionID",
}

func fieldName(index int) string {
	if index < NumFields {
		return fieldNames[index]
	}
	return fmt.Sprintf("extra[%d]", index-NumFields)
}

type token struct {
	text   string // value with quotes or brackets removed
	raw    string // token as it appeared in the line
	quoted bool
}

func (t token) isAbsent() bool {
	return t.text == absent
}

// tokenize splits a line into space separated fields.
// "[...]" and "\"...\"" fields may contain spaces.
func tokenize(line string) ([]token, error) {
	tokens := make([]token, 0, NumFields+8)
	n := len(line)
	i := 0

	for {
		for i < n && line[i] == ' ' {
			i++
		}
		if i >= n {
			return tokens, nil
		}

		start := i
		switch line[i] {
		case '[':
			end := strings.IndexByte(line[i+1:], ']')
			if end < 0 {
				return nil, &MalformedLineError{
					Field:  fieldName(len(tokens)),
					Value:  line[start:],
					Reason: "unterminated bracket",
				}
			}
			i += end + 2
			tokens = append(tokens, token{text: line[start+1 : i-1], raw: line[start:i]})

		case '"':
			j := i + 1
			for j < n && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= n {
				return nil, &MalformedLineError{
					Field:  fieldName(len(tokens)),
					Value:  line[start:],
					Reason: "unterminated quote",
				}
			}
			i = j + 1
			raw := line[start:i]
			text, err := strconv.Unquote(raw)
			if err != nil {
				// Not a Go-quoted string: keep the content as is
				text = raw[1 : len(raw)-1]
			}
			tokens = append(tokens, token{text: text, raw: raw, quoted: true})

		default:
			end := strings.IndexByte(line[i:], ' ')
			if end < 0 {
				i = n
			} else {
				i += end
			}
			tokens = append(tokens, token{text: line[start:i], raw: line[start:i]})
		}
	}
}

// Parse parses one access log line.
// It returns a *MalformedLineError when the line does not match the grammar.
func Parse(line string) (*Line, error) {
	line = strings.TrimRight(line, "\r\n")

	tokens, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) < NumFields {
		return nil, &MalformedLineError{
			Field:  "line",
			Reason: fmt.Sprintf("expected at least %d fields, got %d", NumFields, len(tokens)),
		}
	}

	d := decoder{tokens: tokens}

	parsed := &Line{
		BucketOwner: d.optional(fieldBucketOwner),
		Bucket:      d.required(fieldBucket),
		Time:        d.time(fieldTime),
		RemoteIP:    d.optional(fieldRemoteIP),
		Requester:   d.optional(fieldRequester),
		RequestID:   d.required(fieldRequestID),
		Key:         d.optional(fieldKey),
		RequestURI:  d.optional(fieldRequestURI),
		HTTPStatus:  decodeUint[uint16](&d, fieldHTTPStatus, 16),
		ErrorCode:   d.optional(fieldErrorCode),
		BytesSent:   decodeUint[uint64](&d, fieldBytesSent, 64),
		ObjectSize:  decodeUint[uint64](&d, fieldObjectSize, 64),
		TotalTime:   decodeUint[uint32](&d, fieldTotalTime, 32),
		Referrer:    d.optional(fieldReferrer),
		UserAgent:   d.optional(fieldUserAgent),
		VersionID:   d.optional(fieldVersionID),
	}
	parsed.TurnAroundTime = decodeUint[uint32](&d, fieldTurnAroundTime, 32)

	if op := tokens[fieldOperation]; !op.isAbsent() {
		parsed.Operation = op.text
	}

	if d.err != nil {
		return nil, d.err
	}

	if len(tokens) > NumFields {
		parsed.Extra = make([]string, 0, len(tokens)-NumFields)
		for _, tok := range tokens[NumFields:] {
			parsed.Extra = append(parsed.Extra, tok.raw)
		}
	}

	return parsed, nil
}

// decoder converts tokens to typed fields, keeping the first error
type decoder struct {
	tokens []token
	err    error
}

func (d *decoder) fail(index int, value, reason string, err error) {
	if d.err == nil {
		d.err = &MalformedLineError{Field: fieldName(index), Value: value, Reason: reason, Err: err}
	}
}

func (d *decoder) optional(index int) *string {
	tok := d.tokens[index]
	if tok.isAbsent() {
		return nil
	}
	text := tok.text
	return &text
}

func (d *decoder) required(index int) string {
	tok := d.tokens[index]
	if tok.isAbsent() || tok.text == "" {
		d.fail(index, tok.raw, "missing value", nil)
		return ""
	}
	return tok.text
}

func (d *decoder) time(index int) time.Time {
	tok := d.tokens[index]
	t, err := time.Parse(TimeLayout, tok.text)
	if err != nil {
		d.fail(index, tok.raw, "invalid timestamp", err)
		return time.Time{}
	}
	return t
}

func decodeUint[T ~uint16 | ~uint32 | ~uint64](d *decoder, index int, bitSize int) *T {
	tok := d.tokens[index]
	if tok.isAbsent() {
		return nil
	}
	v, err := strconv.ParseUint(tok.text, 10, bitSize)
	if err != nil {
		d.fail(index, tok.raw, "not an unsigned integer", err)
		return nil
	}
	result := T(v)
	return &result
}
