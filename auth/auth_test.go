package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ebogdum/hnsfs/metadata"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator([]string{"secret-key", "alice:alice-key", "", "bob:"})

	tests := []struct {
		name     string
		token    string
		wantUser string
		wantErr  bool
	}{
		{name: "bare key", token: "secret-key", wantUser: "root"},
		{name: "bearer prefix", token: "Bearer secret-key", wantUser: "root"},
		{name: "user key", token: "alice-key", wantUser: "alice"},
		{name: "unknown", token: "nope", wantErr: true},
		{name: "empty", token: "", wantErr: true},
		{name: "empty key entry ignored", token: "bob:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := a.Authenticate(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, metadata.ErrUnauthorized) {
					t.Fatalf("expected unauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user != tt.wantUser {
				t.Errorf("user = %q, want %q", user, tt.wantUser)
			}
		})
	}
}

func TestSharedKeyTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef")
	provider, err := NewSharedKeyTokenProvider(secret, "alice", "hnsfs", time.Minute)
	if err != nil {
		t.Fatalf("NewSharedKeyTokenProvider: %v", err)
	}

	tok, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.Header() != "Bearer "+tok.Value {
		t.Errorf("unexpected header %q", tok.Header())
	}

	again, _ := provider.Token(context.Background())
	if again.Value != tok.Value {
		t.Error("expected cached token to be reused")
	}

	user, err := NewJWTAuthenticator(secret, "hnsfs").Authenticate(context.Background(), tok.Header())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "alice" {
		t.Errorf("user = %q, want alice", user)
	}

	if _, err := NewJWTAuthenticator([]byte("another-secret!!"), "").Authenticate(context.Background(), tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong key, got %v", err)
	}
	if _, err := NewJWTAuthenticator(secret, "other-issuer").Authenticate(context.Background(), tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestSharedKeyTokenRefreshesNearExpiry(t *testing.T) {
	provider, err := NewSharedKeyTokenProvider([]byte("k"), "alice", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	provider.now = func() time.Time { return now }

	first, _ := provider.Token(context.Background())
	now = now.Add(45 * time.Second)
	second, _ := provider.Token(context.Background())
	if first.Value == second.Value {
		t.Error("expected a new token inside the refresh window")
	}
}

func TestStaticTokenProvider(t *testing.T) {
	tok, err := NewStaticTokenProvider("key").Token(context.Background())
	if err != nil || tok.Value != "key" {
		t.Fatalf("unexpected result %v, %v", tok, err)
	}
	if _, err := NewStaticTokenProvider("").Token(context.Background()); !errors.Is(err, metadata.ErrUnauthorized) {
		t.Errorf("expected unauthorized for empty key, got %v", err)
	}
}

func TestClientCredentialsProvider(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "cc-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	provider, err := NewClientCredentialsProvider(context.Background(), ClientCredentialsConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClientCredentialsProvider: %v", err)
	}

	for i := 0; i < 2; i++ {
		tok, err := provider.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok.Header() != "Bearer cc-token" {
			t.Errorf("unexpected header %q", tok.Header())
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected one token request, got %d", got)
	}
}

func TestClientCredentialsProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider, err := NewClientCredentialsProvider(context.Background(), ClientCredentialsConfig{ClientID: "id", TokenURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.Token(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("expected ErrTokenUnavailable, got %v", err)
	}
}

func TestChainAuthenticator(t *testing.T) {
	secret := []byte("chain-secret")
	provider, _ := NewSharedKeyTokenProvider(secret, "carol", "", time.Minute)
	tok, _ := provider.Token(context.Background())

	chain := NewChainAuthenticator(NewAPIKeyAuthenticator([]string{"k"}), nil, NewJWTAuthenticator(secret, ""))

	if user, err := chain.Authenticate(context.Background(), "k"); err != nil || user != "root" {
		t.Errorf("api key: got %q, %v", user, err)
	}
	if user, err := chain.Authenticate(context.Background(), tok.Value); err != nil || user != "carol" {
		t.Errorf("jwt: got %q, %v", user, err)
	}
	if _, err := chain.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}

type fakeLookup map[string]*metadata.Entry

func (f fakeLookup) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	if e, ok := f[path]; ok {
		return e, nil
	}
	return nil, metadata.ErrNotFound
}

func TestPermissionAuthorizer(t *testing.T) {
	lookup := fakeLookup{
		"/":            {Path: "/", Type: metadata.TypeDirectory, Owner: "root", Permission: "0755"},
		"/home":        {Path: "/home", Type: metadata.TypeDirectory, Owner: "alice", Permission: "0755"},
		"/home/a.txt":  {Path: "/home/a.txt", Type: metadata.TypeFile, Owner: "alice", Permission: "0640"},
		"/home/pub":    {Path: "/home/pub", Type: metadata.TypeFile, Owner: "alice", Permission: "744"},
		"/shared":      {Path: "/shared", Type: metadata.TypeDirectory, Owner: "root", Permission: "0777"},
		"/broken.perm": {Path: "/broken.perm", Type: metadata.TypeFile, Owner: "alice", Permission: "xyz"},
	}
	a := NewPermissionAuthorizer(lookup)

	tests := []struct {
		name    string
		user    string
		path    string
		perm    PermissionType
		wantErr bool
	}{
		{"root bypasses", "root", "/home/a.txt", WritePerm, false},
		{"owner reads", "alice", "/home/a.txt", ReadPerm, false},
		{"owner writes", "alice", "/home/a.txt", WritePerm, false},
		{"other cannot read 0640", "bob", "/home/a.txt", ReadPerm, true},
		{"other reads 744", "bob", "/home/pub", ReadPerm, false},
		{"other cannot write 744", "bob", "/home/pub", WritePerm, true},
		{"missing read allowed", "bob", "/home/missing", ReadPerm, false},
		{"create under owned dir", "alice", "/home/new/deep.txt", WritePerm, false},
		{"create under foreign dir", "bob", "/home/new.txt", WritePerm, true},
		{"create under open dir", "bob", "/shared/x/y.txt", WritePerm, false},
		{"delete needs parent write", "bob", "/home/pub", DeletePerm, true},
		{"owner deletes", "alice", "/home/pub", DeletePerm, false},
		{"delete root denied", "alice", "/", DeletePerm, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(context.Background(), tt.user, tt.path, tt.perm)
			if tt.wantErr {
				if !errors.Is(err, ErrPermissionDenied) || !errors.Is(err, metadata.ErrForbidden) {
					t.Fatalf("expected permission denied, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if err := a.Authorize(context.Background(), "alice", "/broken.perm", ReadPerm); err == nil {
		t.Error("expected an error for a malformed permission")
	}
}

func TestTokenContext(t *testing.T) {
	if _, ok := TokenFromContext(context.Background()); ok {
		t.Error("expected no token on a bare context")
	}
	ctx := WithToken(context.Background(), &Token{Value: "v"})
	tok, ok := TokenFromContext(ctx)
	if !ok || tok.Value != "v" {
		t.Errorf("unexpected token %v", tok)
	}
}
