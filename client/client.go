// Package client implements StoreClient, a façade over a hierarchical-namespace
// store. Every operation is one logical exchange with the store through a
// Transport; credentials come from an injected auth.TokenProvider.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// DefaultWriteBufferSize is the amount a write stream buffers before flushing.
const DefaultWriteBufferSize = 4 << 20

// Transport reaches the store. backends.Storage satisfies it, so any backend
// can be used in-process; transport/rest reaches a remote server.
//
// The call's token and request id travel in the context (auth.TokenFromContext,
// metadata.RequestIDFromContext).
type Transport interface {
	ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error)
	CreateDirectory(ctx context.Context, path string) error
	Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error
	Append(ctx context.Context, path string, reader io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (*metadata.Entry, error)
	SetPermission(ctx context.Context, path string, permission string) error
	Concat(ctx context.Context, target string, sources []string) error
	Rename(ctx context.Context, source, destination string) error
	Delete(ctx context.Context, path string, recursive bool) error
}

// Config holds the per-client settings.
type Config struct {
	// Endpoint identifies the store in logs.
	Endpoint string
	// WriteBufferSize bounds the bytes a write stream holds before flushing.
	WriteBufferSize int
}

// StoreClient exposes file-system primitives against the store. It holds no
// mutable state and is safe for concurrent use.
type StoreClient struct {
	cfg       Config
	transport Transport
	tokens    auth.TokenProvider
	logger    *zap.Logger
}

// New creates a StoreClient.
func New(cfg Config, transport Transport, tokens auth.TokenProvider, logger *zap.Logger) (*StoreClient, error) {
	if transport == nil {
		return nil, metadata.Errorf(metadata.ErrInvalidArgument, "transport is required")
	}
	if tokens == nil {
		return nil, metadata.Errorf(metadata.ErrInvalidArgument, "token provider is required")
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = DefaultWriteBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreClient{
		cfg:       cfg,
		transport: transport,
		tokens:    tokens,
		logger:    logger.With(zap.String("endpoint", cfg.Endpoint)),
	}, nil
}

// ListDirectory returns the immediate children of path, sorted by name.
func (c *StoreClient) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	if err := pathutil.Validate(path); err != nil {
		return nil, err
	}
	var entries []*metadata.Entry
	err := c.invoke(ctx, "list_directory", path, func(ctx context.Context) error {
		var err error
		entries, err = c.transport.ListDirectory(ctx, path)
		return err
	})
	return entries, err
}

// CreateDirectory creates path and any missing ancestors. It succeeds if the
// directory already exists.
func (c *StoreClient) CreateDirectory(ctx context.Context, path string) error {
	if err := pathutil.Validate(path); err != nil {
		return err
	}
	return c.invoke(ctx, "create_directory", path, func(ctx context.Context) error {
		return c.transport.CreateDirectory(ctx, path)
	})
}

// CreateFile opens path for writing under policy. Nothing is visible at path
// until the returned stream is closed, which the caller must do on every
// path. The Fail policy is checked here and again when the stream publishes.
func (c *StoreClient) CreateFile(ctx context.Context, path string, policy metadata.IfExists) (*WriteStream, error) {
	if err := pathutil.Validate(path); err != nil {
		return nil, err
	}
	if path == pathutil.Root {
		return nil, metadata.Errorf(metadata.ErrInvalidArgument, "cannot create a file at the root")
	}
	if policy != metadata.Overwrite && policy != metadata.Fail {
		return nil, metadata.Errorf(metadata.ErrInvalidArgument, "unknown create policy %d", policy)
	}

	var existing *metadata.Entry
	err := c.invoke(ctx, "create_file", path, func(ctx context.Context) error {
		var err error
		existing, err = c.transport.Stat(ctx, path)
		return err
	})
	switch {
	case errors.Is(err, metadata.ErrNotFound):
	case err != nil:
		return nil, err
	case policy == metadata.Fail:
		return nil, metadata.Errorf(metadata.ErrAlreadyExists, "%s already exists", path)
	case existing.IsDir():
		return nil, metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", path)
	}
	return c.newCreateStream(ctx, path, policy == metadata.Overwrite), nil
}

// AppendStream opens an existing file for append. Writes land after the
// current end of file; concurrent appenders are not ordered.
func (c *StoreClient) AppendStream(ctx context.Context, path string) (*WriteStream, error) {
	entry, err := c.GetEntry(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}
	return c.newWriteStream(ctx, path), nil
}

// ReadStream opens an existing file for sequential reading from offset 0.
func (c *StoreClient) ReadStream(ctx context.Context, path string) (*ReadStream, error) {
	if err := pathutil.Validate(path); err != nil {
		return nil, err
	}
	var (
		body      io.ReadCloser
		requestID string
	)
	err := c.invoke(ctx, "read_stream", path, func(ctx context.Context) error {
		requestID = metadata.RequestIDFromContext(ctx)
		var err error
		body, err = c.transport.Open(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ReadStream{path: path, body: body, requestID: requestID}, nil
}

// GetEntry returns the entry for exactly one node.
func (c *StoreClient) GetEntry(ctx context.Context, path string) (*metadata.Entry, error) {
	if err := pathutil.Validate(path); err != nil {
		return nil, err
	}
	var entry *metadata.Entry
	err := c.invoke(ctx, "get_entry", path, func(ctx context.Context) error {
		var err error
		entry, err = c.transport.Stat(ctx, path)
		return err
	})
	return entry, err
}

// Exists reports whether a node is present at path.
func (c *StoreClient) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.GetEntry(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, metadata.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SetPermission replaces the permission string of path. A malformed
// permission fails locally.
func (c *StoreClient) SetPermission(ctx context.Context, path, permission string) error {
	if err := pathutil.Validate(path); err != nil {
		return err
	}
	if err := metadata.ValidatePermission(permission); err != nil {
		return err
	}
	return c.invoke(ctx, "set_permission", path, func(ctx context.Context) error {
		return c.transport.SetPermission(ctx, path, permission)
	})
}

// Concatenate replaces target with the sources joined in order, then the
// store removes the sources. What remains after a failure part way through is
// up to the store.
func (c *StoreClient) Concatenate(ctx context.Context, target string, sources []string) error {
	if len(sources) == 0 {
		return metadata.Errorf(metadata.ErrInvalidArgument, "concatenate needs at least one source")
	}
	if err := pathutil.Validate(target); err != nil {
		return err
	}
	for _, src := range sources {
		if err := pathutil.Validate(src); err != nil {
			return err
		}
	}
	return c.invoke(ctx, "concatenate", target, func(ctx context.Context) error {
		return c.transport.Concat(ctx, target, sources)
	})
}

// Rename moves a file or directory. An existing destination is never replaced.
func (c *StoreClient) Rename(ctx context.Context, source, destination string) error {
	if err := pathutil.Validate(source); err != nil {
		return err
	}
	if err := pathutil.Validate(destination); err != nil {
		return err
	}
	return c.invoke(ctx, "rename", source, func(ctx context.Context) error {
		return c.transport.Rename(ctx, source, destination)
	})
}

// DeleteRecursive removes path and, for a directory, all its descendants.
// A missing path fails with NotFound.
func (c *StoreClient) DeleteRecursive(ctx context.Context, path string) error {
	return c.delete(ctx, "delete_recursive", path, true)
}

// Delete removes a file or an empty directory.
func (c *StoreClient) Delete(ctx context.Context, path string) error {
	return c.delete(ctx, "delete", path, false)
}

func (c *StoreClient) delete(ctx context.Context, op, path string, recursive bool) error {
	if err := pathutil.Validate(path); err != nil {
		return err
	}
	return c.invoke(ctx, op, path, func(ctx context.Context) error {
		return c.transport.Delete(ctx, path, recursive)
	})
}

// invoke runs one exchange with the store: it tags the call with a fresh
// request id, attaches a token and converts any failure into a RemoteError.
func (c *StoreClient) invoke(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = metadata.WithRequestID(ctx, requestID)

	var err error
	token, tokenErr := c.tokens.Token(ctx)
	if tokenErr != nil {
		err = &metadata.RemoteError{
			Message:                "failed to acquire token",
			RemoteExceptionName:    metadata.KindUnauthorized.ExceptionName(),
			RemoteExceptionMessage: tokenErr.Error(),
			RequestID:              requestID,
			Kind:                   metadata.KindUnauthorized,
			Err:                    tokenErr,
		}
	} else {
		err = toRemoteError(op, requestID, fn(auth.WithToken(ctx, token)))
	}

	result := "ok"
	if err != nil {
		result = metadata.KindOf(err).Code()
	}
	metrics.ClientOpsTotal.WithLabelValues(op, result).Inc()
	metrics.ClientOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	c.logger.Debug("Store operation",
		zap.String("operation", op),
		log.PathField("path", path),
		zap.String("request_id", requestID),
		zap.String("result", result),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

// toRemoteError keeps a RemoteError produced by the transport, filling in the
// request id if the store did not return one.
func toRemoteError(op, requestID string, err error) error {
	if err == nil {
		return nil
	}

	var re *metadata.RemoteError
	if errors.As(err, &re) {
		if re.RequestID != "" {
			return err
		}
		copied := *re
		copied.RequestID = requestID
		return &copied
	}

	kind := metadata.KindOf(err)
	return &metadata.RemoteError{
		Message:                fmt.Sprintf("%s failed", op),
		RemoteExceptionName:    kind.ExceptionName(),
		RemoteExceptionMessage: err.Error(),
		RequestID:              requestID,
		Kind:                   kind,
		Err:                    err,
	}
}
