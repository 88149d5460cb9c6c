package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionHandler(t *testing.T) {
	handler := VersionHandler(Info{
		Name:      "syncrail",
		Version:   "1.4.0",
		Commit:    "abc1234",
		BuildDate: "2026-03-01",
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "syncrail", resp.App.Name)
	require.Equal(t, "1.4.0", resp.App.Version)
	require.Equal(t, "abc1234", resp.App.Commit)
	require.NotEmpty(t, resp.App.GoVersion)
	require.NotZero(t, resp.Runtime.NumCPU)
}
