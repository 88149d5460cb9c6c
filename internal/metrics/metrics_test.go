package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/core"
)

func sampleReport() *core.SyncReport {
	return &core.SyncReport{
		Run: core.RunInfo{
			RunID:      "run-1",
			Collection: "sessions",
			StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			FinishedAt: time.Date(2025, 6, 1, 12, 0, 42, 0, time.UTC),
		},
		TotalFetched:  10,
		TotalChanged:  4,
		TotalUpserted: 3,
		TotalFailed:   1,
		Failures: []core.Failure{
			{Key: "sessions:9", Class: core.FailurePermanent, Message: "rejected"},
		},
	}
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(sampleReport(), nil)

	require.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("sessions", ResultFailed)))
	require.Equal(t, 10.0, testutil.ToFloat64(m.RecordsFetched.WithLabelValues("sessions")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.RecordsChanged.WithLabelValues("sessions")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.RecordsUpserted.WithLabelValues("sessions")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RecordsFailed.WithLabelValues("sessions", "permanent")))
}

func TestObserveRunAborted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(sampleReport(), fmt.Errorf("context deadline exceeded"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("sessions", ResultAborted)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("sessions", ResultFailed)))
}

func TestObserveRunClean(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	report := sampleReport()
	report.TotalFailed = 0
	report.Failures = nil
	m.ObserveRun(report, nil)

	require.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("sessions", ResultSucceeded)))
}

func TestTracker(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := start
	tracker := &Tracker{Clock: func() time.Time { return current }}

	tracker.Record(sampleReport(), nil)

	current = start.Add(90 * time.Second)
	clean := sampleReport()
	clean.Run.Collection = "projects"
	clean.TotalFailed = 0
	clean.Failures = nil
	tracker.Record(clean, nil)

	snap := tracker.Snapshot()
	require.Equal(t, start, snap.StartedAt)
	require.EqualValues(t, 90, snap.UptimeSeconds)
	require.Equal(t, 2, snap.RunsTotal)
	require.Equal(t, 1, snap.RunsFailed)
	require.Len(t, snap.Collections, 2)
	require.Equal(t, "run-1", snap.Collections["sessions"].LastReport.Run.RunID)
}

func TestTrackerRecordsRunError(t *testing.T) {
	tracker := &Tracker{}
	tracker.Record(sampleReport(), fmt.Errorf("store unavailable"))

	snap := tracker.Snapshot()
	require.Equal(t, 1, snap.RunsFailed)
	require.Equal(t, "store unavailable", snap.Collections["sessions"].LastError)
}
