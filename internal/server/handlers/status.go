package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/metrics"
)

// StatusSource yields the current in-process run status.
type StatusSource interface {
	Snapshot() metrics.Status
}

// StatusHandler serves run totals and the last report per collection.
func StatusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, src.Snapshot())
	}
}

// RateLimitLister reads persisted rate-limit observations.
type RateLimitLister interface {
	ListRateLimits(ctx context.Context, q store.RateLimitQuery) ([]store.RateLimitEntry, error)
}

// RateLimitEntry is the JSON shape of one persisted observation.
type RateLimitEntry struct {
	Endpoint       string     `json:"endpoint"`
	DeclaredLimit  int        `json:"declared_limit"`
	Remaining      int        `json:"remaining"`
	ResetAt        *time.Time `json:"reset_at,omitempty"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	LastThrottleAt *time.Time `json:"last_throttle_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RateLimitHandler lists persisted rate-limit state. Optional ?endpoint= or
// ?prefix= query parameters narrow the listing; the default is everything.
func RateLimitHandler(lister RateLimitLister, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := store.RateLimitQuery{
			Endpoint: r.URL.Query().Get("endpoint"),
			Prefix:   r.URL.Query().Get("prefix"),
		}
		if q.Endpoint == "" && q.Prefix == "" {
			q.All = true
		}

		rows, err := lister.ListRateLimits(r.Context(), q)
		if err != nil {
			logger.Error("list rate limits", zap.Error(err))
			WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list rate limits", "")
			return
		}

		entries := make([]RateLimitEntry, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, RateLimitEntry{
				Endpoint:       row.Endpoint,
				DeclaredLimit:  row.State.DeclaredLimit,
				Remaining:      row.State.Remaining,
				ResetAt:        row.State.ResetAt,
				CooldownUntil:  row.State.CooldownUntil,
				LastThrottleAt: row.State.LastThrottleAt,
				UpdatedAt:      row.State.UpdatedAt,
			})
		}

		WriteJSON(w, http.StatusOK, map[string]any{"rate_limits": entries})
	}
}
