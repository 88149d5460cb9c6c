// Package metrics exposes the Prometheus collectors for sync runs and the
// in-process run tracker behind the status API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncrail/syncrail/internal/core"
)

const (
	ns        = "syncrail"
	subsystem = "sync"

	LabelCollection = "collection"
	LabelResult     = "result"
	LabelClass      = "class"

	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultAborted   = "aborted"
)

// Metrics holds the collectors fed by finished sync runs.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RecordsFetched  *prometheus.CounterVec
	RecordsChanged  *prometheus.CounterVec
	RecordsUpserted *prometheus.CounterVec
	RecordsFailed   *prometheus.CounterVec
	RunSeconds      *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "runs_total", Namespace: ns, Subsystem: subsystem,
			Help: "Completed sync runs by outcome (succeeded, failed, aborted).",
		}, []string{LabelCollection, LabelResult}),
		RecordsFetched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "records_fetched_total", Namespace: ns, Subsystem: subsystem,
			Help: "Unique records fetched from upstream listings.",
		}, []string{LabelCollection}),
		RecordsChanged: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "records_changed_total", Namespace: ns, Subsystem: subsystem,
			Help: "Records whose fingerprint differed from the change cache.",
		}, []string{LabelCollection}),
		RecordsUpserted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "records_upserted_total", Namespace: ns, Subsystem: subsystem,
			Help: "Records confirmed written downstream.",
		}, []string{LabelCollection}),
		RecordsFailed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "records_failed_total", Namespace: ns, Subsystem: subsystem,
			Help: "Records that failed a run, by failure class.",
		}, []string{LabelCollection, LabelClass}),
		RunSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "run_seconds", Namespace: ns, Subsystem: subsystem,
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			Help:    "Wall-clock duration of sync runs.",
		}, []string{LabelCollection}),
	}
}

// ObserveRun folds one finished run into the collectors. A run that returned
// an error counts as aborted regardless of its item counts.
func (m *Metrics) ObserveRun(report *core.SyncReport, runErr error) {
	if m == nil || report == nil {
		return
	}

	collection := report.Run.Collection
	result := ResultSucceeded
	switch {
	case runErr != nil:
		result = ResultAborted
	case report.TotalFailed > 0:
		result = ResultFailed
	}

	m.RunsTotal.WithLabelValues(collection, result).Inc()
	m.RecordsFetched.WithLabelValues(collection).Add(float64(report.TotalFetched))
	m.RecordsChanged.WithLabelValues(collection).Add(float64(report.TotalChanged))
	m.RecordsUpserted.WithLabelValues(collection).Add(float64(report.TotalUpserted))
	for _, failure := range report.Failures {
		m.RecordsFailed.WithLabelValues(collection, string(failure.Class)).Inc()
	}

	if !report.Run.StartedAt.IsZero() && !report.Run.FinishedAt.IsZero() {
		m.RunSeconds.WithLabelValues(collection).Observe(report.Run.FinishedAt.Sub(report.Run.StartedAt).Seconds())
	}
}
