package auth

import (
	"context"
	"errors"
)

// ChainAuthenticator tries each authenticator in order and returns the first success.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates a chain. Nil entries are skipped.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	chain := &ChainAuthenticator{}
	for _, a := range authenticators {
		if a != nil {
			chain.authenticators = append(chain.authenticators, a)
		}
	}
	return chain
}

// Authenticate validates a token and returns the associated user ID
func (c *ChainAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	var errs []error
	for _, a := range c.authenticators {
		user, err := a.Authenticate(ctx, token)
		if err == nil {
			return user, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrAuthenticationFailed
	}
	return "", errors.Join(append([]error{ErrAuthenticationFailed}, errs...)...)
}
