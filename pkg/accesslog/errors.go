package accesslog

import "fmt"

// MalformedLineError is returned by Parse when a line does not match the access log grammar
type MalformedLineError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *MalformedLineError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed access log line: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed access log line: %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedLineError) Unwrap() error {
	return e.Err
}
