package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/errors"
)

const (
	defaultChunkSize   = 50
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
	defaultRetryMax    = 60 * time.Second
)

// Executor applies one chunk of work items downstream. It may fail the whole
// chunk (non-nil error) or individual items (entries in BatchResult.Failed).
// Every item handed in must appear in Succeeded or Failed.
type Executor func(ctx context.Context, items []core.WorkItem) (*core.BatchResult, error)

// BatchProcessor pushes work items downstream in contiguous chunks with
// bounded retry. Transient failures are retried with exponential backoff and
// jitter; permanent failures are recorded immediately and never retried. Each
// chunk is isolated: exhausting one chunk's retries does not affect others.
//
// Chunks run sequentially unless Workers is above one. Callers enabling
// concurrency must hand in items with unique keys.
type BatchProcessor struct {
	ChunkSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Workers        int
	Logger         *zap.Logger
}

// Process executes items chunk by chunk and reports the outcome per key.
// Cancellation lets the in-flight chunk finish; chunks that never started
// record their items against ErrNotAttempted.
func (p *BatchProcessor) Process(ctx context.Context, items []core.WorkItem, exec Executor) *core.BatchResult {
	out := &core.BatchResult{Failed: make(map[string]error)}
	if p == nil || len(items) == 0 || exec == nil {
		return out
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.workers())

	for _, chunk := range chunkItems(items, p.chunkSize()) {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				for _, item := range chunk {
					out.Failed[item.Key] = errors.ErrNotAttempted
				}
				mu.Unlock()
				return nil
			}

			res := p.runChunk(ctx, chunk, exec)
			mu.Lock()
			out.Succeeded = append(out.Succeeded, res.Succeeded...)
			for key, err := range res.Failed {
				out.Failed[key] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// runChunk executes one chunk under the retry budget. Items that fail
// transiently are re-sent on the next attempt; items that fail permanently
// are recorded and dropped from the retry set.
func (p *BatchProcessor) runChunk(ctx context.Context, chunk []core.WorkItem, exec Executor) *core.BatchResult {
	out := &core.BatchResult{Failed: make(map[string]error)}
	pending := chunk
	itemErrs := make(map[string]error)
	var chunkErr error

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retryBaseDelay()
	eb.MaxInterval = p.retryMaxDelay()
	eb.MaxElapsedTime = 0
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.maxAttempts()-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		res, err := exec(ctx, pending)
		if err != nil {
			if errors.IsPermanent(err) {
				for _, item := range pending {
					out.Failed[item.Key] = err
				}
				pending = nil
				return backoff.Permanent(err)
			}
			chunkErr = err
			p.logger().Warn("chunk attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("items", len(pending)),
				zap.Error(err))
			return err
		}
		if res == nil {
			res = &core.BatchResult{}
			for _, item := range pending {
				res.Succeeded = append(res.Succeeded, item.Key)
			}
		}

		out.Succeeded = append(out.Succeeded, res.Succeeded...)

		var retry []core.WorkItem
		for _, item := range pending {
			itemErr, failed := res.Failed[item.Key]
			if !failed {
				continue
			}
			if errors.IsPermanent(itemErr) {
				out.Failed[item.Key] = itemErr
				continue
			}
			itemErrs[item.Key] = itemErr
			retry = append(retry, item)
		}
		if len(retry) == 0 {
			return nil
		}

		chunkErr = nil
		pending = retry
		p.logger().Warn("retrying failed items",
			zap.Int("attempt", attempt),
			zap.Int("items", len(retry)))
		return fmt.Errorf("%d items failed transiently", len(retry))
	}

	if err := backoff.Retry(operation, bkoff); err != nil {
		for _, item := range pending {
			last := chunkErr
			if last == nil {
				last = itemErrs[item.Key]
			}
			if last == nil {
				last = err
			}
			out.Failed[item.Key] = last
		}
	}

	return out
}

func (p *BatchProcessor) chunkSize() int {
	if p.ChunkSize > 0 {
		return p.ChunkSize
	}
	return defaultChunkSize
}

func (p *BatchProcessor) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

func (p *BatchProcessor) retryBaseDelay() time.Duration {
	if p.RetryBaseDelay > 0 {
		return p.RetryBaseDelay
	}
	return defaultRetryBase
}

func (p *BatchProcessor) retryMaxDelay() time.Duration {
	if p.RetryMaxDelay > 0 {
		return p.RetryMaxDelay
	}
	return defaultRetryMax
}

func (p *BatchProcessor) workers() int {
	if p.Workers > 1 {
		return p.Workers
	}
	return 1
}

func (p *BatchProcessor) logger() *zap.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

// chunkItems splits items into contiguous chunks of at most size.
func chunkItems(items []core.WorkItem, size int) [][]core.WorkItem {
	if size <= 0 {
		size = defaultChunkSize
	}
	chunks := make([][]core.WorkItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
