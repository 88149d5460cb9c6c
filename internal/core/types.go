package core

import "time"

// Operation identifies the downstream write intent for a record.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Record is one resource as returned by the upstream API. Key is the stable
// identity ("{collection}:{id}"); Payload is the raw record, opaque to the
// engine.
type Record struct {
	Key     string         `json:"key"`
	Payload map[string]any `json:"payload"`
}

// Page is one slice of an upstream collection. An empty NextCursor means the
// collection is exhausted.
type Page struct {
	Records    []Record
	NextCursor string
}

// WorkItem is one changed or new record headed downstream. Ephemeral,
// produced per run, never persisted.
type WorkItem struct {
	Key         string
	Operation   Operation
	Fingerprint string
	Payload     map[string]any
}

// FailureClass buckets a failed item for the run report.
type FailureClass string

const (
	FailurePermanent    FailureClass = "permanent"
	FailureTransient    FailureClass = "transient"
	FailureNotAttempted FailureClass = "not_attempted"
)

// Failure records one failed resource key and why.
type Failure struct {
	Key     string       `json:"key"`
	Class   FailureClass `json:"class"`
	Message string       `json:"message"`
}

// BatchResult merges per-chunk outcomes. Succeeded preserves submission
// order; Failed maps each failed key to its last error.
type BatchResult struct {
	Succeeded []string
	Failed    map[string]error
}

// RunInfo captures provenance for one sync run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Collection  string    `json:"collection"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Pages       int       `json:"pages"`
	DryRun      bool      `json:"dry_run,omitempty"`
	ToolVersion string    `json:"tool_version,omitempty"`
}

// SyncReport is the outcome of one run.
type SyncReport struct {
	Run           RunInfo   `json:"run"`
	TotalFetched  int       `json:"total_fetched"`
	TotalChanged  int       `json:"total_changed"`
	TotalUpserted int       `json:"total_upserted"`
	TotalFailed   int       `json:"total_failed"`
	Failures      []Failure `json:"failures,omitempty"`
}

// Succeeded reports whether the run completed without item failures.
func (r *SyncReport) Succeeded() bool {
	return r != nil && r.TotalFailed == 0
}
