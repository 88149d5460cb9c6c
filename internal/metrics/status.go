package metrics

import (
	"sync"
	"time"

	"github.com/syncrail/syncrail/internal/core"
)

// Status is the payload served by the status API.
type Status struct {
	StartedAt     time.Time                   `json:"started_at"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	RunsTotal     int                         `json:"runs_total"`
	RunsFailed    int                         `json:"runs_failed"`
	Collections   map[string]CollectionStatus `json:"collections,omitempty"`
}

// CollectionStatus is the last known outcome for one collection.
type CollectionStatus struct {
	LastReport  *core.SyncReport `json:"last_report,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Tracker keeps in-process run history: totals since start plus the last
// report per collection. The zero value is ready to use.
type Tracker struct {
	Clock func() time.Time

	mu          sync.Mutex
	startedAt   time.Time
	runs        int
	failedRuns  int
	collections map[string]CollectionStatus
}

// Record folds one finished run into the tracker.
func (t *Tracker) Record(report *core.SyncReport, runErr error) {
	if t == nil || report == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.ensureLocked(now)

	t.runs++
	if runErr != nil || report.TotalFailed > 0 {
		t.failedRuns++
	}

	status := CollectionStatus{LastReport: report, CompletedAt: now}
	if runErr != nil {
		status.LastError = runErr.Error()
	}
	t.collections[report.Run.Collection] = status
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	if t == nil {
		return Status{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.ensureLocked(now)

	out := Status{
		StartedAt:     t.startedAt,
		UptimeSeconds: int64(now.Sub(t.startedAt).Seconds()),
		RunsTotal:     t.runs,
		RunsFailed:    t.failedRuns,
		Collections:   make(map[string]CollectionStatus, len(t.collections)),
	}
	for name, status := range t.collections {
		out.Collections[name] = status
	}
	return out
}

func (t *Tracker) ensureLocked(now time.Time) {
	if t.startedAt.IsZero() {
		t.startedAt = now
	}
	if t.collections == nil {
		t.collections = make(map[string]CollectionStatus)
	}
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}
