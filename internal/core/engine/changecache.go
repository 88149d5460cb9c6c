package engine

import (
	"context"
	"sync"

	"github.com/syncrail/syncrail/internal/errors"
)

// CacheStore persists resource fingerprints between runs.
type CacheStore interface {
	GetFingerprints(ctx context.Context, collection string) (map[string]string, error)
	PutFingerprint(ctx context.Context, collection, key, fingerprint string) error
}

// ChangeCache tracks the last synced fingerprint per resource key for one
// collection. LoadAll opens a run session by snapshotting the stored entries;
// Commit writes a fingerprint through to the store once the downstream write
// is confirmed; Flush closes the session. A run holds the only writer for its
// collection, so the snapshot stays authoritative for the session.
//
// Any store failure is wrapped as a CacheError; callers treat it as fatal for
// the run.
type ChangeCache struct {
	Collection string
	Store      CacheStore

	mu      sync.Mutex
	entries map[string]string
}

// LoadAll snapshots the stored fingerprints for the collection.
func (c *ChangeCache) LoadAll(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Store == nil {
		c.entries = make(map[string]string)
		return nil
	}

	entries, err := c.Store.GetFingerprints(ctx, c.Collection)
	if err != nil {
		return &errors.CacheError{Op: "load", Collection: c.Collection, Err: err}
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	c.entries = entries
	return nil
}

// Lookup returns the last committed fingerprint for key.
func (c *ChangeCache) Lookup(key string) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fp, ok := c.entries[key]
	return fp, ok
}

// IsChanged reports whether key is new or its fingerprint differs from the
// last committed one.
func (c *ChangeCache) IsChanged(key, fingerprint string) bool {
	existing, ok := c.Lookup(key)
	if !ok {
		return true
	}
	return existing != fingerprint
}

// Commit records the fingerprint for key, writing through to the store. Call
// it only after the downstream write for key has been confirmed.
func (c *ChangeCache) Commit(ctx context.Context, key, fingerprint string) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if c.Store != nil {
		if err := c.Store.PutFingerprint(ctx, c.Collection, key, fingerprint); err != nil {
			return &errors.CacheError{Op: "commit", Collection: c.Collection, Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]string)
	}
	c.entries[key] = fingerprint
	return nil
}

// Len returns the number of entries in the current session snapshot.
func (c *ChangeCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush closes the run session. Commits are written through as they happen,
// so Flush only releases the snapshot.
func (c *ChangeCache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}
