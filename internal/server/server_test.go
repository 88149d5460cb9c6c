package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/metrics"
	"github.com/syncrail/syncrail/internal/server/handlers"
)

func newTestServer() *Server {
	tracker := &metrics.Tracker{}
	tracker.Record(&core.SyncReport{
		Run:          core.RunInfo{RunID: "run-7", Collection: "sessions"},
		TotalFetched: 12,
	}, nil)

	return New(Options{
		Config:   config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Tracker:  tracker,
		Registry: prometheus.NewRegistry(),
		Build:    handlers.Info{Name: "syncrail", Version: "test"},
	})
}

func TestServerHealthAndVersion(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"syncrail"`)
}

func TestServerReadyWithoutStore(t *testing.T) {
	srv := newTestServer()

	// No store registered, so readiness has nothing to check and passes.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStatusEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status metrics.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, 1, status.RunsTotal)
	require.Equal(t, "run-7", status.Collections["sessions"].LastReport.Run.RunID)
}

func TestServerNotFound(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
	require.NotEmpty(t, resp.Error.RequestID)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "METHOD_NOT_ALLOWED", resp.Error.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := newTestServer()

	// Generate one instrumented request first so the scrape has data.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "syncrail_http_requests_total")
	require.Contains(t, rec.Body.String(), `endpoint="/healthz"`)
}

func TestServerShutdownWithoutStart(t *testing.T) {
	srv := newTestServer()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
