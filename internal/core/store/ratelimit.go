package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syncrail/syncrail/internal/core"
)

// GetRateLimit returns the persisted budget observations for an endpoint.
func (s *Store) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var (
		declaredLimit  int
		remaining      int
		resetAt        sql.NullInt64
		cooldownUntil  sql.NullInt64
		lastThrottleAt sql.NullInt64
		updatedAt      int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT declared_limit, remaining, reset_at, cooldown_until, last_throttle_at, updated_at
		FROM rate_limits
		WHERE endpoint = ?
	`, endpoint)

	if err := row.Scan(&declaredLimit, &remaining, &resetAt, &cooldownUntil, &lastThrottleAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	state := &core.RateLimitState{
		DeclaredLimit: declaredLimit,
		Remaining:     remaining,
		UpdatedAt:     time.Unix(updatedAt, 0).UTC(),
	}
	if resetAt.Valid {
		value := time.Unix(resetAt.Int64, 0).UTC()
		state.ResetAt = &value
	}
	if cooldownUntil.Valid {
		value := time.Unix(cooldownUntil.Int64, 0).UTC()
		state.CooldownUntil = &value
	}
	if lastThrottleAt.Valid {
		value := time.Unix(lastThrottleAt.Int64, 0).UTC()
		state.LastThrottleAt = &value
	}

	return state, nil
}

// UpdateRateLimit persists budget observations for an endpoint.
func (s *Store) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	var resetAt sql.NullInt64
	if state.ResetAt != nil {
		resetAt = sql.NullInt64{Int64: state.ResetAt.UTC().Unix(), Valid: true}
	}
	var cooldownUntil sql.NullInt64
	if state.CooldownUntil != nil {
		cooldownUntil = sql.NullInt64{Int64: state.CooldownUntil.UTC().Unix(), Valid: true}
	}
	var lastThrottleAt sql.NullInt64
	if state.LastThrottleAt != nil {
		lastThrottleAt = sql.NullInt64{Int64: state.LastThrottleAt.UTC().Unix(), Valid: true}
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (endpoint, declared_limit, remaining, reset_at, cooldown_until, last_throttle_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			declared_limit = excluded.declared_limit,
			remaining = excluded.remaining,
			reset_at = excluded.reset_at,
			cooldown_until = excluded.cooldown_until,
			last_throttle_at = excluded.last_throttle_at,
			updated_at = excluded.updated_at
	`, endpoint, state.DeclaredLimit, state.Remaining, resetAt, cooldownUntil, lastThrottleAt, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}
