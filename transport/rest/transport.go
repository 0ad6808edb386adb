// Package rest implements client.Transport over the hnsfs HTTP API.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
)

// DefaultUserAgent identifies the transport to the server.
const DefaultUserAgent = "hnsfs-client/1"

// Config configures the HTTP transport.
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	SkipTLSVerify bool
	UserAgent     string
}

// Transport sends store operations to an hnsfs server. Each call carries the
// token and request id found in its context.
type Transport struct {
	client    *http.Client
	endpoint  string
	userAgent string
	logger    *zap.Logger
}

// errorBody is the JSON error document the server returns.
type errorBody struct {
	Code      string `json:"code"`
	Exception string `json:"exception"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// New creates a Transport for cfg.Endpoint.
func New(cfg Config, logger *zap.Logger) (*Transport, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, metadata.Errorf(metadata.ErrInvalidArgument, "invalid endpoint %q", cfg.Endpoint)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Transport{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// escapePath escapes each segment of a namespace path for use in a URL.
func escapePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (t *Transport) url(resource, path string, query url.Values) string {
	u := t.endpoint + "/v1/" + resource
	if path != "" {
		u += "/" + escapePath(path)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends one request and returns the response when its status is 2xx.
// Anything else is decoded into a RemoteError.
func (t *Transport) do(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	requestID := metadata.RequestIDFromContext(ctx)
	if requestID != "" {
		req.Header.Set(metadata.RequestIDHeader, requestID)
	}
	if token, ok := auth.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", token.Header())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &metadata.RemoteError{
			Message:                fmt.Sprintf("%s %s failed", method, req.URL.Path),
			RemoteExceptionMessage: err.Error(),
			RequestID:              requestID,
			Kind:                   metadata.KindOther,
			Err:                    err,
		}
	}

	t.logger.Debug("Store request",
		zap.String("method", method),
		log.PathField("url_path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp, requestID)
}

// decodeError turns a non-2xx response into a RemoteError.
func decodeError(resp *http.Response, requestID string) error {
	if id := resp.Header.Get(metadata.RequestIDHeader); id != "" {
		requestID = id
	}

	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil {
		body = errorBody{Message: strings.TrimSpace(string(raw))}
	}
	if body.RequestID != "" {
		requestID = body.RequestID
	}

	kind := metadata.KindFromCode(body.Code)
	if body.Code == "" {
		kind = kindFromStatus(resp.StatusCode)
	}
	exception := body.Exception
	if exception == "" {
		exception = kind.ExceptionName()
	}

	return &metadata.RemoteError{
		Message:                fmt.Sprintf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status),
		StatusCode:             resp.StatusCode,
		RemoteExceptionName:    exception,
		RemoteExceptionMessage: body.Message,
		RequestID:              requestID,
		Kind:                   kind,
	}
}

func kindFromStatus(status int) metadata.Kind {
	switch status {
	case http.StatusBadRequest:
		return metadata.KindInvalidArgument
	case http.StatusUnauthorized:
		return metadata.KindUnauthorized
	case http.StatusForbidden:
		return metadata.KindForbidden
	case http.StatusNotFound:
		return metadata.KindNotFound
	case http.StatusConflict:
		return metadata.KindAlreadyExists
	default:
		return metadata.KindOther
	}
}

func (t *Transport) exec(ctx context.Context, method, target string, body io.Reader, contentType string) error {
	resp, err := t.do(ctx, method, target, body, contentType)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (t *Transport) sendJSON(ctx context.Context, method, target string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return t.exec(ctx, method, target, bytes.NewReader(data), "application/json")
}

func (t *Transport) getJSON(ctx context.Context, target string, out any) error {
	resp, err := t.do(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListDirectory lists the children of a directory
func (t *Transport) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	var entries []*metadata.Entry
	if err := t.getJSON(ctx, t.url("directories", path, nil), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateDirectory creates a directory and its missing ancestors
func (t *Transport) CreateDirectory(ctx context.Context, path string) error {
	return t.exec(ctx, http.MethodPut, t.url("directories", path, nil), nil, "")
}

// Create uploads a file
func (t *Transport) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	query := url.Values{"overwrite": {strconv.FormatBool(overwrite)}}
	return t.exec(ctx, http.MethodPut, t.url("files", path, query), reader, "application/octet-stream")
}

// Append adds content to the end of a file
func (t *Transport) Append(ctx context.Context, path string, reader io.Reader) error {
	return t.exec(ctx, http.MethodPost, t.url("files", path, nil), reader, "application/octet-stream")
}

// Open streams a file. The body is read lazily from the connection.
func (t *Transport) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := t.do(ctx, http.MethodGet, t.url("files", path, nil), nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Stat returns the entry of one node
func (t *Transport) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	var entry metadata.Entry
	if err := t.getJSON(ctx, t.url("entries", path, nil), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetPermission changes the permission string of a node
func (t *Transport) SetPermission(ctx context.Context, path string, permission string) error {
	return t.sendJSON(ctx, http.MethodPatch, t.url("entries", path, nil), map[string]string{"permission": permission})
}

// Concat joins sources into target
func (t *Transport) Concat(ctx context.Context, target string, sources []string) error {
	return t.sendJSON(ctx, http.MethodPost, t.url("concat", "", nil), map[string]any{
		"target":  target,
		"sources": sources,
	})
}

// Rename moves a node
func (t *Transport) Rename(ctx context.Context, source, destination string) error {
	return t.sendJSON(ctx, http.MethodPost, t.url("rename", "", nil), map[string]string{
		"source":      source,
		"destination": destination,
	})
}

// Delete removes a node
func (t *Transport) Delete(ctx context.Context, path string, recursive bool) error {
	query := url.Values{"recursive": {strconv.FormatBool(recursive)}}
	return t.exec(ctx, http.MethodDelete, t.url("entries", path, query), nil, "")
}
