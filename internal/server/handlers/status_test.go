package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/metrics"
)

func TestStatusHandler(t *testing.T) {
	tracker := &metrics.Tracker{Clock: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}
	tracker.Record(&core.SyncReport{
		Run:          core.RunInfo{RunID: "run-1", Collection: "sessions"},
		TotalFetched: 5,
	}, nil)

	rec := httptest.NewRecorder()
	StatusHandler(tracker)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status metrics.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, 1, status.RunsTotal)
	require.Equal(t, 0, status.RunsFailed)
	require.Equal(t, "run-1", status.Collections["sessions"].LastReport.Run.RunID)
}

type stubLister struct {
	rows []store.RateLimitEntry
	err  error

	gotQuery store.RateLimitQuery
}

func (s *stubLister) ListRateLimits(_ context.Context, q store.RateLimitQuery) ([]store.RateLimitEntry, error) {
	s.gotQuery = q
	return s.rows, s.err
}

func TestRateLimitHandler(t *testing.T) {
	reset := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	lister := &stubLister{rows: []store.RateLimitEntry{
		{
			Endpoint: "api.example.com",
			State: core.RateLimitState{
				DeclaredLimit: 1200,
				Remaining:     7,
				ResetAt:       &reset,
				UpdatedAt:     reset.Add(-time.Minute),
			},
		},
	}}

	rec := httptest.NewRecorder()
	RateLimitHandler(lister, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, lister.gotQuery.All)

	var body struct {
		RateLimits []RateLimitEntry `json:"rate_limits"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.RateLimits, 1)
	require.Equal(t, "api.example.com", body.RateLimits[0].Endpoint)
	require.Equal(t, 1200, body.RateLimits[0].DeclaredLimit)
	require.NotNil(t, body.RateLimits[0].ResetAt)
	require.True(t, body.RateLimits[0].ResetAt.Equal(reset))
}

func TestRateLimitHandlerQueryParams(t *testing.T) {
	lister := &stubLister{}
	handler := RateLimitHandler(lister, nil)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit?endpoint=api.example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, lister.gotQuery.All)
	require.Equal(t, "api.example.com", lister.gotQuery.Endpoint)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit?prefix=api.", nil))
	require.Equal(t, "api.", lister.gotQuery.Prefix)
}

func TestRateLimitHandlerError(t *testing.T) {
	lister := &stubLister{err: errors.New("store is closed")}

	rec := httptest.NewRecorder()
	RateLimitHandler(lister, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}
