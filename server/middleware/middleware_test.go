package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/metadata"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := V1RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = metadata.RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"kept", "client-1234", true},
		{"control characters", "bad\nid", false},
		{"too long", string(make([]byte, 200)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(metadata.RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("expected a request id in the context")
			}
			if got := rec.Header().Get(metadata.RequestIDHeader); got != seen {
				t.Errorf("response header %q differs from context %q", got, seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("expected incoming id to be kept, got %q", seen)
			}
			if !tt.keep && seen == tt.incoming {
				t.Errorf("expected invalid id %q to be replaced", tt.incoming)
			}
		})
	}
}

type stubAuthenticator map[string]string

func (s stubAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if user, ok := s[token]; ok {
		return user, nil
	}
	return "", errors.New("unknown token")
}

func TestAuthMiddleware(t *testing.T) {
	var principal string
	h := V1AuthMiddleware(stubAuthenticator{"Bearer good": "alice"}, zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal = metadata.PrincipalFromContext(r.Context())
		}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/entries/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && principal != "alice" {
				t.Errorf("principal = %q, want alice", principal)
			}
			if tt.status != http.StatusOK && principal != "" {
				t.Error("handler must not run on failed authentication")
			}
		})
	}
}

func TestClientLimiters(t *testing.T) {
	limiters := NewClientLimiters(1, 2)
	now := time.Unix(0, 0)
	limiters.now = func() time.Time { return now }

	if !limiters.Allow("a") || !limiters.Allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if limiters.Allow("a") {
		t.Error("third request within the burst window should be refused")
	}
	if !limiters.Allow("b") {
		t.Error("clients must not share a bucket")
	}

	now = now.Add(idleLimiterTTL + time.Minute)
	limiters.Allow("c")
	if _, ok := limiters.limiters["a"]; ok {
		t.Error("idle limiter should have been swept")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := V1RateLimitMiddleware(NewClientLimiters(0.001, 1), zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(metadata.WithPrincipal(req.Context(), user))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("alice"); got != http.StatusOK {
		t.Fatalf("first request = %d", got)
	}
	if got := send("alice"); got != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", got)
	}
	if got := send("bob"); got != http.StatusOK {
		t.Errorf("other user = %d, want 200", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := V1SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, header := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options", "Cache-Control"} {
		if rec.Header().Get(header) == "" {
			t.Errorf("missing %s", header)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must only be sent over TLS")
	}
}

var _ auth.Authenticator = stubAuthenticator{}
