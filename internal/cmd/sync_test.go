package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/core/sink"
)

func testConfig() *config.Config {
	return &config.Config{
		Collections: []config.CollectionConfig{
			{Name: "sessions", Path: "/v1/sessions"},
			{Name: "speakers", Path: "/v1/speakers", Table: "people"},
		},
	}
}

func TestSelectCollectionsDefaultsToAll(t *testing.T) {
	cols, err := selectCollections(testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, cols, 2)
}

func TestSelectCollectionsByName(t *testing.T) {
	cols, err := selectCollections(testConfig(), []string{" speakers "})
	require.NoError(t, err)
	require.Len(t, cols, 1)
	require.Equal(t, "speakers", cols[0].Name)
}

func TestSelectCollectionsUnknown(t *testing.T) {
	_, err := selectCollections(testConfig(), []string{"talks"})
	require.Error(t, err)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestSelectCollectionsEmptyConfig(t *testing.T) {
	_, err := selectCollections(&config.Config{}, nil)
	require.Error(t, err)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestFingerprinterForVersionMode(t *testing.T) {
	col := config.CollectionConfig{
		Fingerprint: config.FingerprintConfig{Mode: "version", Field: "updated_at"},
	}
	fp := fingerprinterFor(col)

	got, err := fp(core.Record{Key: "1", Payload: map[string]any{"updated_at": "2026-08-01T00:00:00Z"}})
	require.NoError(t, err)
	require.Equal(t, "2026-08-01T00:00:00Z", got)
}

func TestFingerprinterForContentMode(t *testing.T) {
	col := config.CollectionConfig{
		Fingerprint: config.FingerprintConfig{Ignore: []string{"etag"}},
	}
	fp := fingerprinterFor(col)

	a, err := fp(core.Record{Key: "1", Payload: map[string]any{"title": "Opening", "etag": "v1"}})
	require.NoError(t, err)
	b, err := fp(core.Record{Key: "1", Payload: map[string]any{"title": "Opening", "etag": "v2"}})
	require.NoError(t, err)
	require.Equal(t, a, b, "ignored fields must not move the fingerprint")

	c, err := fp(core.Record{Key: "1", Payload: map[string]any{"title": "Closing", "etag": "v1"}})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestLimiterEndpoint(t *testing.T) {
	require.Equal(t, "api.example.com", limiterEndpoint("https://api.example.com/v1"))
	require.Equal(t, "api.example.com:8443", limiterEndpoint("https://api.example.com:8443"))
	require.Equal(t, "not a url", limiterEndpoint("not a url"))
}

func TestNewSinkBuilderDryRunDiscards(t *testing.T) {
	b, err := newSinkBuilder(context.Background(), config.SinkConfig{Type: "postgres", URL: "postgres://localhost/x"}, true)
	require.NoError(t, err)
	require.True(t, b.discard)
	require.IsType(t, sink.Discard{}, b.forCollection(config.CollectionConfig{}))
}

func TestNewSinkBuilderHTTPRequiresURL(t *testing.T) {
	_, err := newSinkBuilder(context.Background(), config.SinkConfig{Type: "http"}, false)
	require.Error(t, err)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestNewSinkBuilderPostgresRequiresURL(t *testing.T) {
	_, err := newSinkBuilder(context.Background(), config.SinkConfig{Type: "postgres"}, false)
	require.Error(t, err)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestNewSinkBuilderUnknownType(t *testing.T) {
	_, err := newSinkBuilder(context.Background(), config.SinkConfig{Type: "kafka"}, false)
	require.Error(t, err)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestSinkBuilderTableFallback(t *testing.T) {
	b, err := newSinkBuilder(context.Background(), config.SinkConfig{
		Type:  "http",
		URL:   "https://ingest.example.com/rows",
		Table: "records",
	}, false)
	require.NoError(t, err)

	def, ok := b.forCollection(config.CollectionConfig{Name: "sessions"}).(*sink.HTTP)
	require.True(t, ok)
	require.Equal(t, "records", def.Table)

	named, ok := b.forCollection(config.CollectionConfig{Name: "speakers", Table: "people"}).(*sink.HTTP)
	require.True(t, ok)
	require.Equal(t, "people", named.Table)
}
