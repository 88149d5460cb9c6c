// Package engine implements the synchronization core: a rate limiter that
// paces upstream calls, a change cache that remembers what was last pushed, a
// batch processor that writes downstream with bounded retry, and a syncer
// that drives one collection through a full run.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/errors"
)

const (
	defaultPerPage       = 100
	defaultProgressEvery = 10
)

// Source streams records from the upstream collection. FetchPage returns one
// page and the cursor for the next; an empty cursor means the listing is
// done. FetchDetail enriches a single record and may be a no-op for
// collections without a detail endpoint. Implementations gate their own
// outbound calls through the rate limiter.
type Source interface {
	FetchPage(ctx context.Context, cursor string, perPage int) (*core.Page, error)
	FetchDetail(ctx context.Context, record core.Record) (core.Record, error)
}

// Sink applies work items to the downstream store. Every item must be
// accounted for in the returned result.
type Sink interface {
	Apply(ctx context.Context, items []core.WorkItem) (*core.BatchResult, error)
}

// Syncer mirrors one upstream collection into the downstream sink. A run
// fetches all pages, diffs records against the change cache by fingerprint,
// pushes changed records through the batch processor, and commits
// fingerprints for the keys the sink confirmed.
type Syncer struct {
	Collection  string
	Source      Source
	Sink        Sink
	Cache       *ChangeCache
	Processor   *BatchProcessor
	Fingerprint core.FingerprintFunc

	PerPage       int
	MaxPages      int
	RunTimeout    time.Duration
	FetchDetails  bool
	ProgressEvery int
	DryRun        bool
	ToolVersion   string

	Logger *zap.Logger
	Clock  func() time.Time
}

// Run executes one synchronization pass and reports per-key outcomes.
// Cancellation and the run deadline stop new work but let the in-flight
// chunk finish; the partial report is still returned. A change-cache store
// failure aborts the run.
func (s *Syncer) Run(ctx context.Context) (*core.SyncReport, error) {
	if s == nil || s.Source == nil {
		return nil, fmt.Errorf("syncer: no source configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RunTimeout)
		defer cancel()
	}

	report := &core.SyncReport{Run: core.RunInfo{
		RunID:       uuid.NewString(),
		Collection:  s.Collection,
		StartedAt:   s.now(),
		DryRun:      s.DryRun,
		ToolVersion: s.ToolVersion,
	}}
	log := s.logger().With(
		zap.String("run_id", report.Run.RunID),
		zap.String("collection", s.Collection),
	)

	if err := s.Cache.LoadAll(ctx); err != nil {
		return nil, err
	}

	records, pages, fetchErr := s.fetchAll(ctx, log)
	report.Run.Pages = pages
	report.TotalFetched = len(records)
	if fetchErr != nil {
		report.Run.FinishedAt = s.now()
		return report, fetchErr
	}
	log.Info("fetch complete", zap.Int("pages", pages), zap.Int("records", len(records)))

	items, fingerprints := s.diff(records, report)
	report.TotalChanged = len(items)
	log.Info("diff complete",
		zap.Int("changed", len(items)),
		zap.Int("unchanged", len(records)-len(items)))

	// Details are fetched only for records that will actually be written;
	// unchanged records never cost extra upstream calls.
	if s.FetchDetails {
		s.enrich(ctx, items, log)
	}

	if s.DryRun {
		log.Info("dry run, skipping downstream writes", zap.Int("would_upsert", len(items)))
		report.Run.FinishedAt = s.now()
		_ = s.Cache.Flush(ctx)
		return report, nil
	}

	result := s.process(ctx, items)

	// The downstream writes happened; recording them must not race the run
	// deadline.
	commitCtx := context.WithoutCancel(ctx)
	for _, key := range result.Succeeded {
		if err := s.Cache.Commit(commitCtx, key, fingerprints[key]); err != nil {
			report.Run.FinishedAt = s.now()
			return report, err
		}
		report.TotalUpserted++
	}

	for key, err := range result.Failed {
		report.TotalFailed++
		report.Failures = append(report.Failures, core.Failure{
			Key:     key,
			Class:   classifyFailure(err),
			Message: err.Error(),
		})
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Key < report.Failures[j].Key
	})

	if err := s.Cache.Flush(commitCtx); err != nil {
		report.Run.FinishedAt = s.now()
		return report, err
	}
	report.Run.FinishedAt = s.now()

	log.Info("run complete",
		zap.Int("fetched", report.TotalFetched),
		zap.Int("changed", report.TotalChanged),
		zap.Int("upserted", report.TotalUpserted),
		zap.Int("failed", report.TotalFailed))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// fetchAll pages through the collection until an empty page, a missing
// cursor, or the page cap. Records are deduplicated by key so overlapping
// pages cannot double-sync a resource.
func (s *Syncer) fetchAll(ctx context.Context, log *zap.Logger) ([]core.Record, int, error) {
	seen := make(map[string]struct{})
	var records []core.Record
	cursor := ""
	pages := 0

	for {
		if s.MaxPages > 0 && pages >= s.MaxPages {
			log.Info("page cap reached", zap.Int("pages", pages))
			break
		}
		if err := ctx.Err(); err != nil {
			return records, pages, err
		}

		page, err := s.Source.FetchPage(ctx, cursor, s.perPage())
		if err != nil {
			return records, pages, err
		}
		pages++

		fresh := 0
		for _, rec := range page.Records {
			if rec.Key == "" {
				continue
			}
			if _, dup := seen[rec.Key]; dup {
				continue
			}
			seen[rec.Key] = struct{}{}
			records = append(records, rec)
			fresh++
		}
		log.Debug("page fetched",
			zap.Int("page", pages),
			zap.Int("records", len(page.Records)),
			zap.Int("new", fresh))

		if len(page.Records) == 0 || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return records, pages, nil
}

// enrich swaps each work item's payload for its detail-endpoint version. A
// failed detail fetch keeps the base payload; the item still syncs with what
// the listing returned. The committed fingerprint stays the listing
// fingerprint either way, so enrichment never affects change detection.
func (s *Syncer) enrich(ctx context.Context, items []core.WorkItem, log *zap.Logger) {
	every := s.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}

	failures := 0
	for i := range items {
		if ctx.Err() != nil {
			log.Warn("detail fetch interrupted", zap.Int("remaining", len(items)-i))
			return
		}

		detailed, err := s.Source.FetchDetail(ctx, core.Record{Key: items[i].Key, Payload: items[i].Payload})
		if err != nil {
			failures++
			log.Warn("detail fetch failed, keeping base record",
				zap.String("key", items[i].Key),
				zap.Error(err))
			continue
		}
		items[i].Payload = detailed.Payload

		if (i+1)%every == 0 {
			log.Info("detail fetch progress",
				zap.Int("done", i+1),
				zap.Int("total", len(items)))
		}
	}
	if failures > 0 {
		log.Warn("detail fetch finished with failures", zap.Int("failures", failures))
	}
}

// diff turns records whose fingerprint moved into work items. Records that
// cannot be fingerprinted are reported failed without aborting the run.
func (s *Syncer) diff(records []core.Record, report *core.SyncReport) ([]core.WorkItem, map[string]string) {
	fingerprint := s.Fingerprint
	if fingerprint == nil {
		fingerprint = core.ContentFingerprinter()
	}

	var items []core.WorkItem
	fingerprints := make(map[string]string)
	for _, rec := range records {
		fp, err := fingerprint(rec)
		if err != nil {
			report.TotalFailed++
			report.Failures = append(report.Failures, core.Failure{
				Key:     rec.Key,
				Class:   core.FailurePermanent,
				Message: fmt.Sprintf("fingerprint: %v", err),
			})
			continue
		}
		if !s.Cache.IsChanged(rec.Key, fp) {
			continue
		}

		op := core.OperationUpdate
		if _, exists := s.Cache.Lookup(rec.Key); !exists {
			op = core.OperationCreate
		}
		fingerprints[rec.Key] = fp
		items = append(items, core.WorkItem{
			Key:         rec.Key,
			Operation:   op,
			Fingerprint: fp,
			Payload:     rec.Payload,
		})
	}

	return items, fingerprints
}

func (s *Syncer) process(ctx context.Context, items []core.WorkItem) *core.BatchResult {
	if len(items) == 0 || s.Sink == nil {
		return &core.BatchResult{}
	}
	processor := s.Processor
	if processor == nil {
		processor = &BatchProcessor{Logger: s.Logger}
	}
	return processor.Process(ctx, items, s.Sink.Apply)
}

func classifyFailure(err error) core.FailureClass {
	switch {
	case errors.IsNotAttempted(err):
		return core.FailureNotAttempted
	case errors.IsPermanent(err):
		return core.FailurePermanent
	default:
		return core.FailureTransient
	}
}

func (s *Syncer) perPage() int {
	if s.PerPage > 0 {
		return s.PerPage
	}
	return defaultPerPage
}

func (s *Syncer) logger() *zap.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *Syncer) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
