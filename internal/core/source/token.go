package source

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/syncrail/syncrail/internal/config"
)

// TokenProvider yields the bearer token attached to upstream requests.
// Token is called once per attempt; implementations are expected to cache.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token unchanged.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// OAuthTokens fetches and refreshes access tokens through the OAuth2
// client-credentials flow. Refreshes happen lazily when the cached token
// expires.
type OAuthTokens struct {
	source oauth2.TokenSource
}

// NewOAuthTokens builds a provider from client-credentials settings. The
// context outlives individual requests: every token refresh uses it.
func NewOAuthTokens(ctx context.Context, cfg config.AuthConfig) *OAuthTokens {
	if ctx == nil {
		ctx = context.Background()
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &OAuthTokens{source: cc.TokenSource(ctx)}
}

// Token returns a valid access token, refreshing it when needed.
func (p *OAuthTokens) Token(context.Context) (string, error) {
	if p == nil || p.source == nil {
		return "", fmt.Errorf("oauth token source is not configured")
	}
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch oauth token: %w", err)
	}
	return tok.AccessToken, nil
}

// FromConfig selects the provider for the configured upstream: OAuth2 client
// credentials when a token URL is set, the static token otherwise, nil when
// the API needs no auth.
func FromConfig(ctx context.Context, cfg config.SourceConfig) TokenProvider {
	if strings.TrimSpace(cfg.Auth.TokenURL) != "" {
		return NewOAuthTokens(ctx, cfg.Auth)
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		return StaticToken(token)
	}
	return nil
}
