package ingest

import (
	"context"
	"fmt"

	"github.com/scality/log-analytics/pkg/store"
)

// DedupMode selects how already ingested content is detected
type DedupMode string

const (
	// DedupEarlyExit skips files recorded as ingested without reading them, and stops
	// reading a new file at its first request id already present in the store.
	// Files with stored records that were never recorded as ingested, left by a failed
	// or interrupted run, are read line by line instead.
	// A new file whose first stored request id comes before content that was never
	// stored is under-ingested: that content is skipped.
	DedupEarlyExit DedupMode = "early-exit"

	// DedupPerLine reads every file and checks every request id
	DedupPerLine DedupMode = "per-line"
)

// ParseDedupMode validates a configured dedup mode
func ParseDedupMode(value string) (DedupMode, error) {
	switch mode := DedupMode(value); mode {
	case DedupEarlyExit, DedupPerLine:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid dedup mode %q (must be %s|%s)", value, DedupEarlyExit, DedupPerLine)
	}
}

// DedupIndex is a snapshot of the request ids, source files and ingested files
// present in the store. It is read-only once built and is shared by all workers of a run.
type DedupIndex struct {
	requestIDs    map[string]struct{}
	sourceFiles   map[string]struct{}
	ingestedFiles map[string]struct{}
}

// NewDedupIndex builds an index from known request ids and source files
func NewDedupIndex(requestIDs, sourceFiles []string) *DedupIndex {
	d := &DedupIndex{
		requestIDs:    make(map[string]struct{}, len(requestIDs)),
		sourceFiles:   make(map[string]struct{}, len(sourceFiles)),
		ingestedFiles: make(map[string]struct{}),
	}
	for _, id := range requestIDs {
		d.requestIDs[id] = struct{}{}
	}
	for _, source := range sourceFiles {
		d.sourceFiles[source] = struct{}{}
	}
	return d
}

// LoadDedupIndex reads every request id and source file of the store
func LoadDedupIndex(ctx context.Context, s store.IngestStore) (*DedupIndex, error) {
	d := NewDedupIndex(nil, nil)

	err := s.ScanRequestIDs(ctx, func(id string) {
		d.requestIDs[id] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load request ids: %w", err)
	}

	err = s.ScanSourceFiles(ctx, func(source string) {
		d.sourceFiles[source] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load source files: %w", err)
	}

	err = s.ScanIngestedFiles(ctx, func(source string) {
		d.ingestedFiles[source] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ingested files: %w", err)
	}

	return d, nil
}

// Contains reports whether requestID is stored
func (d *DedupIndex) Contains(requestID string) bool {
	_, ok := d.requestIDs[requestID]
	return ok
}

// ContainsSource reports whether the store holds records of sourceFile
func (d *DedupIndex) ContainsSource(sourceFile string) bool {
	_, ok := d.sourceFiles[sourceFile]
	return ok
}

// Ingested reports whether every record of sourceFile was stored by an earlier run
func (d *DedupIndex) Ingested(sourceFile string) bool {
	_, ok := d.ingestedFiles[sourceFile]
	return ok
}

// Partial reports whether the store holds some records of sourceFile
// without the file being recorded as ingested
func (d *DedupIndex) Partial(sourceFile string) bool {
	return d.ContainsSource(sourceFile) && !d.Ingested(sourceFile)
}

// Len returns the number of request ids in the index
func (d *DedupIndex) Len() int {
	return len(d.requestIDs)
}

// View returns an overlay remembering the request ids accepted by one worker
func (d *DedupIndex) View() *DedupView {
	return &DedupView{index: d, accepted: make(map[string]struct{})}
}

// DedupView is the index as seen by one worker.
// It is not safe for concurrent use.
type DedupView struct {
	index    *DedupIndex
	accepted map[string]struct{}
}

// Persisted reports whether requestID was stored before the run
func (v *DedupView) Persisted(requestID string) bool {
	return v.index.Contains(requestID)
}

// Contains reports whether requestID was stored before the run or accepted since
func (v *DedupView) Contains(requestID string) bool {
	if v.index.Contains(requestID) {
		return true
	}
	_, ok := v.accepted[requestID]
	return ok
}

// Add remembers an accepted request id
func (v *DedupView) Add(requestID string) {
	v.accepted[requestID] = struct{}{}
}
