package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core/source"
)

type failingTokens struct{ err error }

func (f failingTokens) Token(context.Context) (string, error) { return "", f.err }

func TestSinkLabel(t *testing.T) {
	require.Equal(t, "http", sinkLabel(config.SinkConfig{}))
	require.Equal(t, "postgres", sinkLabel(config.SinkConfig{Type: "postgres"}))
}

func TestCheckUpstreamAuthNoneRequired(t *testing.T) {
	var buf bytes.Buffer
	failed := checkUpstreamAuth(context.Background(), &buf, 5, &runner{})
	require.Zero(t, failed)
	require.Contains(t, buf.String(), "none required")
}

func TestCheckUpstreamAuthStaticToken(t *testing.T) {
	var buf bytes.Buffer
	r := &runner{tokens: source.StaticToken("tok-123")}
	failed := checkUpstreamAuth(context.Background(), &buf, 5, r)
	require.Zero(t, failed)
	require.Contains(t, buf.String(), "token issued")
}

func TestCheckUpstreamAuthFailure(t *testing.T) {
	var buf bytes.Buffer
	r := &runner{tokens: failingTokens{err: errors.New("401 invalid_client")}}
	failed := checkUpstreamAuth(context.Background(), &buf, 5, r)
	require.Equal(t, 1, failed)
	require.Contains(t, buf.String(), "invalid_client")
}

func TestCheckSinkDiscard(t *testing.T) {
	var buf bytes.Buffer
	failed := checkSink(context.Background(), &buf, 5, config.SinkConfig{Type: "discard"}, &sinkBuilder{discard: true})
	require.Zero(t, failed)
	require.True(t, strings.Contains(buf.String(), "discard"))
}
