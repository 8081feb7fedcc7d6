package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// PersistenceError is returned when a batch of records could not be written.
// A batch is written entirely or not at all.
type PersistenceError struct {
	Err     error
	Sources []string
	Records int
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist batch of %d records from %d source files: %v",
		e.Records, len(e.Sources), e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
