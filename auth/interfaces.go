// Package auth provides credential handling for hnsfs.
// Token providers supply bearer tokens to the client; authenticators and the
// permission authorizer guard the server.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/ebogdum/hnsfs/metadata"
)

// PermissionType represents different permission types for authorization
type PermissionType int

const (
	ReadPerm PermissionType = iota
	WritePerm
	DeletePerm
)

func (p PermissionType) String() string {
	switch p {
	case ReadPerm:
		return "read"
	case WritePerm:
		return "write"
	case DeletePerm:
		return "delete"
	default:
		return "unknown"
	}
}

// Common authentication/authorization errors. They wrap the metadata sentinels
// so callers can classify them with errors.Is.
var (
	ErrAuthenticationFailed = fmt.Errorf("authentication failed: %w", metadata.ErrUnauthorized)
	ErrInvalidToken         = fmt.Errorf("invalid token: %w", metadata.ErrUnauthorized)
	ErrTokenUnavailable     = fmt.Errorf("token unavailable: %w", metadata.ErrUnauthorized)
	ErrPermissionDenied     = fmt.Errorf("permission denied: %w", metadata.ErrForbidden)
)

// Authenticator defines the interface for user authentication
type Authenticator interface {
	// Authenticate validates a token and returns the associated user ID
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// Authorizer defines the interface for authorization checks
type Authorizer interface {
	// Authorize checks if a user has the specified permission for a path
	Authorize(ctx context.Context, userID string, path string, perm PermissionType) error
}

// Token is a bearer credential handed to the transport for one call.
type Token struct {
	Value     string
	Type      string
	ExpiresAt time.Time // zero for tokens that never expire
}

// Header renders the token as an Authorization header value.
func (t *Token) Header() string {
	typ := t.Type
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.Value
}

// Expired reports whether the token is expired or will be within leeway.
func (t *Token) Expired(now time.Time, leeway time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(t.ExpiresAt)
}

// TokenProvider supplies credentials on demand. Implementations must be safe
// for concurrent use.
type TokenProvider interface {
	Token(ctx context.Context) (*Token, error)
}

type tokenKey struct{}

// WithToken attaches a token to the context so a transport can send it.
func WithToken(ctx context.Context, token *Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token attached by WithToken, if any.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	token, ok := ctx.Value(tokenKey{}).(*Token)
	return token, ok && token != nil
}
