package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// StaticTokenProvider always returns the same API key.
type StaticTokenProvider struct {
	token *Token
}

// NewStaticTokenProvider creates a provider for a fixed API key.
func NewStaticTokenProvider(apiKey string) *StaticTokenProvider {
	return &StaticTokenProvider{token: &Token{Value: apiKey, Type: "Bearer"}}
}

// Token returns the configured key, failing when it is empty.
func (p *StaticTokenProvider) Token(ctx context.Context) (*Token, error) {
	if p.token.Value == "" {
		return nil, fmt.Errorf("%w: no api key configured", ErrTokenUnavailable)
	}
	return p.token, nil
}

// ClientCredentialsConfig describes an OAuth2 client-credentials grant.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// ClientCredentialsProvider obtains tokens from an OAuth2 token endpoint.
// Tokens are cached by the underlying oauth2 source until they expire.
type ClientCredentialsProvider struct {
	source oauth2.TokenSource
}

// NewClientCredentialsProvider creates a provider for cfg. The context is used
// for every token request; attach an *http.Client under oauth2.HTTPClient to
// control the transport.
func NewClientCredentialsProvider(ctx context.Context, cfg ClientCredentialsConfig) (*ClientCredentialsProvider, error) {
	if cfg.ClientID == "" || cfg.TokenURL == "" {
		return nil, errors.New("client id and token url are required")
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &ClientCredentialsProvider{source: cc.TokenSource(ctx)}, nil
}

// Token returns a cached or freshly fetched access token.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (*Token, error) {
	tok, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return &Token{Value: tok.AccessToken, Type: tok.Type(), ExpiresAt: tok.Expiry}, nil
}
