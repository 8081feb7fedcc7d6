// Package enrich looks up catalog metadata of stored objects
package enrich

import (
	"context"
	"fmt"

	"github.com/scality/log-analytics/pkg/store"
)

// Metadata describes the catalog entry of an object. Fields are nil when the
// catalog does not know them.
type Metadata struct {
	Dataset     *string
	DatasetType *string
	Experiment  *string
	AssayTitle  *string
	Award       *string
	Lab         *string
	FileFormat  *string
	FileType    *string
}

// Apply copies the metadata into an Item
func (m *Metadata) Apply(item *store.Item) {
	if m == nil {
		return
	}
	item.Dataset = m.Dataset
	item.DatasetType = m.DatasetType
	item.Experiment = m.Experiment
	item.AssayTitle = m.AssayTitle
	item.Award = m.Award
	item.Lab = m.Lab
	item.FileFormat = m.FileFormat
	item.FileType = m.FileType
}

// Enricher returns the metadata of an object key.
// Implementations are unreliable: callers must treat a failure as missing metadata.
type Enricher interface {
	Lookup(ctx context.Context, key string) (*Metadata, error)
}

// EnrichmentUnavailableError is returned when the catalog could not be reached
// or did not describe the key
type EnrichmentUnavailableError struct {
	Err error
	Key string
}

func (e *EnrichmentUnavailableError) Error() string {
	return fmt.Sprintf("enrichment unavailable for %q: %v", e.Key, e.Err)
}

func (e *EnrichmentUnavailableError) Unwrap() error {
	return e.Err
}

// Nop never finds metadata
type Nop struct{}

// Lookup returns nil metadata
func (Nop) Lookup(context.Context, string) (*Metadata, error) {
	return nil, nil
}
