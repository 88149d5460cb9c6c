package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CacheStat summarizes one collection's change-cache entries. Stale entries
// for upstream-deleted resources are never pruned automatically, so the
// entry count is how operators watch for growth.
type CacheStat struct {
	Collection     string
	Entries        int
	OldestSyncedAt time.Time
	NewestSyncedAt time.Time
}

// GetFingerprints returns every stored fingerprint for a collection keyed by
// resource key.
func (s *Store) GetFingerprints(ctx context.Context, collection string) (map[string]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("collection is required")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT resource_key, fingerprint
		FROM change_cache
		WHERE collection = ?
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("fetch fingerprints: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	entries := make(map[string]string)
	for rows.Next() {
		var key, fingerprint string
		if err := rows.Scan(&key, &fingerprint); err != nil {
			return nil, fmt.Errorf("scan fingerprints: %w", err)
		}
		entries[key] = fingerprint
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch fingerprints: %w", err)
	}

	return entries, nil
}

// PutFingerprint records the fingerprint last confirmed downstream for a
// resource. The first-synced timestamp survives updates.
func (s *Store) PutFingerprint(ctx context.Context, collection, key, fingerprint string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	collection = strings.TrimSpace(collection)
	key = strings.TrimSpace(key)
	if collection == "" || key == "" {
		return errors.New("collection and resource key are required")
	}

	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO change_cache (collection, resource_key, fingerprint, first_synced_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, resource_key) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			last_synced_at = excluded.last_synced_at
	`, collection, key, fingerprint, now, now)
	if err != nil {
		return fmt.Errorf("store fingerprint: %w", err)
	}

	return nil
}

// CacheStats reports entry counts and sync-time bounds per collection. An
// empty collection filter covers all collections.
func (s *Store) CacheStats(ctx context.Context, collection string) ([]CacheStat, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT collection, COUNT(*), MIN(first_synced_at), MAX(last_synced_at)
		FROM change_cache
	`
	var args []any
	if collection = strings.TrimSpace(collection); collection != "" {
		query += " WHERE collection = ?"
		args = append(args, collection)
	}
	query += " GROUP BY collection ORDER BY collection"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	stats := []CacheStat{}
	for rows.Next() {
		var (
			stat   CacheStat
			oldest int64
			newest int64
		)
		if err := rows.Scan(&stat.Collection, &stat.Entries, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("scan cache stats: %w", err)
		}
		stat.OldestSyncedAt = time.Unix(oldest, 0).UTC()
		stat.NewestSyncedAt = time.Unix(newest, 0).UTC()
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	return stats, nil
}

// FlushCache deletes stored fingerprints, forcing a full re-sync on the next
// run. An empty collection filter flushes everything.
func (s *Store) FlushCache(ctx context.Context, collection string) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query := "DELETE FROM change_cache"
	var args []any
	if collection = strings.TrimSpace(collection); collection != "" {
		query += " WHERE collection = ?"
		args = append(args, collection)
	}

	result, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}
	return affected, nil
}
