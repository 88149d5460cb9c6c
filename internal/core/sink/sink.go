// Package sink implements the downstream destinations for changed records:
// an HTTP batch-upsert endpoint, a Postgres table, and a discard sink.
//
// Every sink is idempotent by resource key, so a chunk that partially failed
// can be re-sent whole without duplicating rows.
package sink

import (
	"github.com/syncrail/syncrail/internal/core"
)

// allSucceeded builds the result for a batch the downstream accepted without
// naming any per-row outcome.
func allSucceeded(items []core.WorkItem) *core.BatchResult {
	out := &core.BatchResult{Succeeded: make([]string, 0, len(items))}
	for _, item := range items {
		out.Succeeded = append(out.Succeeded, item.Key)
	}
	return out
}
