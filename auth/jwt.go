package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT claims exchanged between hnsfs clients and servers.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared key.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
// An empty issuer accepts any issuer.
func NewJWTAuthenticator(secret []byte, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer}
}

// Authenticate validates a token and returns its subject as the user ID
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" || len(a.secret) == 0 {
		return "", ErrAuthenticationFailed
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// SharedKeyTokenProvider mints short-lived HS256 tokens for a fixed subject
// and reuses each one until it is close to expiry.
type SharedKeyTokenProvider struct {
	secret  []byte
	subject string
	issuer  string
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	cached *Token
}

// refreshLeeway is how long before expiry a cached token is replaced.
const refreshLeeway = 30 * time.Second

// NewSharedKeyTokenProvider creates a provider signing tokens with secret.
func NewSharedKeyTokenProvider(secret []byte, subject, issuer string, ttl time.Duration) (*SharedKeyTokenProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("shared key must not be empty")
	}
	if subject == "" {
		return nil, errors.New("subject must not be empty")
	}
	if ttl <= refreshLeeway {
		ttl = 15 * time.Minute
	}
	return &SharedKeyTokenProvider{
		secret:  secret,
		subject: subject,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token returns a valid signed token, minting a new one when needed.
func (p *SharedKeyTokenProvider) Token(ctx context.Context) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != nil && !p.cached.Expired(now, refreshLeeway) {
		return p.cached, nil
	}

	expires := now.Add(p.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: sign token: %v", ErrTokenUnavailable, err)
	}

	p.cached = &Token{Value: signed, Type: "Bearer", ExpiresAt: expires}
	return p.cached, nil
}
