package sink

import (
	"context"

	"github.com/syncrail/syncrail/internal/core"
)

// Discard accepts every item and writes nothing. It backs `sink.type:
// discard` configurations where the pipeline should run end to end without
// a real downstream.
type Discard struct{}

// Apply reports every item as succeeded.
func (Discard) Apply(_ context.Context, items []core.WorkItem) (*core.BatchResult, error) {
	return allSucceeded(items), nil
}
