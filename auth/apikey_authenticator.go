package auth

import (
	"context"
	"strings"
)

// DefaultAPIKeyUser is the principal for API keys configured without a user.
const DefaultAPIKeyUser = "root"

// APIKeyAuthenticator implements authentication using static API keys
type APIKeyAuthenticator struct {
	users map[string]string
}

// NewAPIKeyAuthenticator creates a new API key authenticator. Each entry is
// either a bare key, which authenticates as DefaultAPIKeyUser, or "user:key".
func NewAPIKeyAuthenticator(keys []string) *APIKeyAuthenticator {
	users := make(map[string]string)
	for _, entry := range keys {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, key, found := strings.Cut(entry, ":")
		if !found {
			user, key = DefaultAPIKeyUser, entry
		}
		if key == "" || user == "" {
			continue
		}
		users[key] = user
	}

	return &APIKeyAuthenticator{users: users}
}

// Authenticate validates a token and returns the associated user ID
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrAuthenticationFailed
	}

	user, ok := a.users[token]
	if !ok {
		return "", ErrAuthenticationFailed
	}
	return user, nil
}
