package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(newTestViper())
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 50, cfg.Sync.ChunkSize)
		assert.Equal(t, 3, cfg.Sync.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Sync.RetryBaseDelay)
		assert.Equal(t, 60*time.Second, cfg.Sync.RetryMaxDelay)
		assert.Equal(t, 100, cfg.Sync.PerPage)
		assert.Equal(t, 0, cfg.Sync.MaxPages)
		assert.True(t, cfg.Sync.FetchDetails)

		assert.Equal(t, 2, cfg.RateLimit.MaxPerSecond)
		assert.Equal(t, 1200, cfg.RateLimit.MaxPerWindow)
		assert.Equal(t, time.Hour, cfg.RateLimit.Window)
		assert.Equal(t, 1, cfg.RateLimit.Floor)
		assert.Equal(t, 5*time.Second, cfg.RateLimit.Cooldown)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, DefaultStorePath(), cfg.Store.Path)

		assert.Equal(t, "http", cfg.Sink.Type)
		assert.Equal(t, "resources", cfg.Sink.Table)
		assert.Equal(t, "resource_key", cfg.Sink.KeyColumn)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
	})

	t.Run("Overrides", func(t *testing.T) {
		v := newTestViper()
		v.Set("sync.chunk_size", 10)
		v.Set("sync.run_timeout", "45s")
		v.Set("rate_limit.max_per_second", 8)
		v.Set("sink.type", "postgres")
		v.Set("sink.url", "postgres://localhost/mirror")

		cfg, err := Load(v)
		require.NoError(t, err)

		assert.Equal(t, 10, cfg.Sync.ChunkSize)
		assert.Equal(t, 45*time.Second, cfg.Sync.RunTimeout)
		assert.Equal(t, 8, cfg.RateLimit.MaxPerSecond)
		assert.Equal(t, "postgres", cfg.Sink.Type)
	})

	t.Run("InlineCollections", func(t *testing.T) {
		v := newTestViper()
		v.Set("collections", []map[string]any{
			{
				"name":      "sessions",
				"path":      "/v2/project_sessions",
				"key_field": "id",
				"fingerprint": map[string]any{
					"mode":  "version",
					"field": "updated_at",
				},
			},
		})

		cfg, err := Load(v)
		require.NoError(t, err)
		require.Len(t, cfg.Collections, 1)

		col := cfg.Collections[0]
		assert.Equal(t, "sessions", col.Name)
		assert.Equal(t, "/v2/project_sessions", col.Path)
		assert.Equal(t, "version", col.Fingerprint.Mode)
		assert.Equal(t, "updated_at", col.Fingerprint.Field)
	})

	t.Run("CollectionsFile", func(t *testing.T) {
		catalog := filepath.Join(t.TempDir(), "collections.yaml")
		require.NoError(t, os.WriteFile(catalog, []byte(`
collections:
  - name: projects
    path: /v2/projects
    key_field: id
  - name: sessions
    path: /v2/project_sessions
    per_page: 50
`), 0o600))

		v := newTestViper()
		v.Set("collections_file", catalog)

		cfg, err := Load(v)
		require.NoError(t, err)
		require.Len(t, cfg.Collections, 2)
		assert.Equal(t, "projects", cfg.Collections[0].Name)
		assert.Equal(t, 50, cfg.Collections[1].PerPage)
	})

	t.Run("InlineWinsOverCatalog", func(t *testing.T) {
		catalog := filepath.Join(t.TempDir(), "collections.yaml")
		require.NoError(t, os.WriteFile(catalog, []byte(`
collections:
  - name: sessions
    path: /v2/old_path
`), 0o600))

		v := newTestViper()
		v.Set("collections_file", catalog)
		v.Set("collections", []map[string]any{
			{"name": "sessions", "path": "/v2/project_sessions"},
		})

		cfg, err := Load(v)
		require.NoError(t, err)
		require.Len(t, cfg.Collections, 1)
		assert.Equal(t, "/v2/project_sessions", cfg.Collections[0].Path)
	})

	t.Run("MissingCollectionsFile", func(t *testing.T) {
		v := newTestViper()
		v.Set("collections_file", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(v)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("ZeroChunkSize", func(t *testing.T) {
		v := newTestViper()
		v.Set("sync.chunk_size", 0)

		_, err := Load(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chunk_size")
	})

	t.Run("UnknownSinkType", func(t *testing.T) {
		v := newTestViper()
		v.Set("sink.type", "kafka")

		_, err := Load(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sink.type")
	})

	t.Run("VersionModeRequiresField", func(t *testing.T) {
		v := newTestViper()
		v.Set("collections", []map[string]any{
			{
				"name":        "sessions",
				"path":        "/v2/project_sessions",
				"fingerprint": map[string]any{"mode": "version"},
			},
		})

		_, err := Load(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fingerprint.field")
	})

	t.Run("DuplicateCollection", func(t *testing.T) {
		v := newTestViper()
		v.Set("collections", []map[string]any{
			{"name": "sessions", "path": "/a"},
			{"name": "sessions", "path": "/b"},
		})

		_, err := Load(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("ZeroRateWindow", func(t *testing.T) {
		v := newTestViper()
		v.Set("rate_limit.window", "0s")

		_, err := Load(v)
		require.Error(t, err)
	})
}

func TestCollectionByName(t *testing.T) {
	cfg := &Config{Collections: []CollectionConfig{
		{Name: "projects", Path: "/v2/projects"},
		{Name: "sessions", Path: "/v2/project_sessions"},
	}}

	col, ok := cfg.CollectionByName("sessions")
	require.True(t, ok)
	assert.Equal(t, "/v2/project_sessions", col.Path)

	_, ok = cfg.CollectionByName("teams")
	assert.False(t, ok)
}
