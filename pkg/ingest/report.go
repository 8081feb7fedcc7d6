package ingest

import (
	"encoding/json"
	"sync"
	"time"
)

// FileState is the processing state of one source file
type FileState string

// File states. Skipped, Completed and Failed are terminal.
const (
	FilePending    FileState = "Pending"
	FileInProgress FileState = "InProgress"
	FileSkipped    FileState = "Skipped"
	FileCompleted  FileState = "Completed"
	FileFailed     FileState = "Failed"
)

// Terminal reports whether no further transition leaves the state
func (s FileState) Terminal() bool {
	return s == FileSkipped || s == FileCompleted || s == FileFailed
}

// FileResult is the outcome of one source file
type FileResult struct {
	State      FileState `json:"state"`
	Error      string    `json:"error,omitempty"`
	Lines      int64     `json:"lines"`
	Malformed  int64     `json:"malformed"`
	Filtered   int64     `json:"filtered"`
	Duplicates int64     `json:"duplicates"`
	Records    int64     `json:"records"`
	EarlyExit  bool      `json:"earlyExit,omitempty"`
}

// Report summarizes an ingestion run.
// Workers update it concurrently; read it once Run has returned.
//
//nolint:govet // fieldalignment: JSON field order preferred
type Report struct {
	mu sync.Mutex

	RunID   string                 `json:"runId"`
	Files   map[string]*FileResult `json:"files"`
	Elapsed time.Duration          `json:"-"`

	CompletedFiles int `json:"completedFiles"`
	SkippedFiles   int `json:"skippedFiles"`
	FailedFiles    int `json:"failedFiles"`
	PendingFiles   int `json:"pendingFiles"`

	LinesRead      int64 `json:"linesRead"`
	MalformedLines int64 `json:"malformedLines"`
	FilteredLines  int64 `json:"filteredLines"`
	DuplicateLines int64 `json:"duplicateLines"`

	RecordsSubmitted int64 `json:"recordsSubmitted"`
	RecordsInserted  int64 `json:"recordsInserted"`
	RecordsLost      int64 `json:"recordsLost"`

	BatchesFlushed int `json:"batchesFlushed"`
	BatchesFailed  int `json:"batchesFailed"`
	BatchesLost    int `json:"batchesLost"`
}

func newReport(runID string, files []string) *Report {
	r := &Report{
		RunID: runID,
		Files: make(map[string]*FileResult, len(files)),
	}
	for _, f := range files {
		r.Files[f] = &FileResult{State: FilePending}
	}
	return r
}

// MarshalJSON adds the elapsed time in seconds
func (r *Report) MarshalJSON() ([]byte, error) {
	type report Report
	return json.Marshal(struct {
		*report
		ElapsedSeconds float64 `json:"elapsedSeconds"`
	}{
		report:         (*report)(r),
		ElapsedSeconds: r.Elapsed.Seconds(),
	})
}

// State returns the state of a file, Pending when unknown
func (r *Report) State(file string) FileState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.Files[file]; ok {
		return res.State
	}
	return FilePending
}

func (r *Report) start(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result(file).State = FileInProgress
}

// finish records the outcome of a file. A file marked Failed by a batch
// failure while it was being read stays Failed.
func (r *Report) finish(file string, state FileState, counts FileResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.result(file)
	res.Lines = counts.Lines
	res.Malformed = counts.Malformed
	res.Filtered = counts.Filtered
	res.Duplicates = counts.Duplicates
	res.Records = counts.Records
	res.EarlyExit = counts.EarlyExit

	if res.State == FileFailed {
		return
	}
	res.State = state
	if err != nil {
		res.Error = err.Error()
	}
}

// fail marks files Failed, including files already Completed
func (r *Report) fail(files []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range files {
		res := r.result(f)
		res.State = FileFailed
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
}

func (r *Report) batchLost(records int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BatchesLost++
	r.RecordsLost += int64(records)
}

func (r *Report) addWriterStats(stats BatchStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BatchesFlushed += stats.BatchesFlushed
	r.BatchesFailed += stats.BatchesFailed
	r.RecordsSubmitted += stats.RecordsSubmitted
	r.RecordsInserted += stats.RecordsInserted
}

// finalize computes the totals
func (r *Report) finalize(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Elapsed = elapsed
	r.CompletedFiles, r.SkippedFiles, r.FailedFiles, r.PendingFiles = 0, 0, 0, 0
	r.LinesRead, r.MalformedLines, r.FilteredLines, r.DuplicateLines = 0, 0, 0, 0

	for _, res := range r.Files {
		switch res.State {
		case FileCompleted:
			r.CompletedFiles++
		case FileSkipped:
			r.SkippedFiles++
		case FileFailed:
			r.FailedFiles++
		default:
			// InProgress only remains when a worker stopped mid-file, which cancellation never does
			r.PendingFiles++
		}
		r.LinesRead += res.Lines
		r.MalformedLines += res.Malformed
		r.FilteredLines += res.Filtered
		r.DuplicateLines += res.Duplicates
	}
}

func (r *Report) result(file string) *FileResult {
	res, ok := r.Files[file]
	if !ok {
		res = &FileResult{State: FilePending}
		r.Files[file] = res
	}
	return res
}
