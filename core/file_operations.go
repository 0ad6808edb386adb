package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// Open opens a file for reading. Reads take no lock; backends hand out
// readers that stay consistent with one version of the file.
func (e *Engine) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	defer metrics.ObserveBackendOp(e.backendType, "open", time.Now())
	return e.storage.Open(ctx, path)
}

// Stat returns the entry for path, from the cache when possible
func (e *Engine) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	if e.cache != nil {
		if entry, ok := e.cache.Get(path); ok {
			return entry, nil
		}
	}

	defer metrics.ObserveBackendOp(e.backendType, "stat", time.Now())
	var generation uint64
	if e.cache != nil {
		generation = e.cache.Generation()
	}
	entry, err := e.storage.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetIfCurrent(generation, entry)
	}
	return entry, nil
}

// Create writes a new file or replaces an existing one when overwrite is set
func (e *Engine) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	body, err := spool(reader)
	if err != nil {
		return err
	}
	defer body.Close()

	err = e.mutate(ctx, "create", []string{path}, func() error {
		return e.storage.Create(ctx, path, body, overwrite)
	})
	if err == nil {
		e.logger.Debug("File created",
			log.PathField("path", path),
			zap.Bool("overwrite", overwrite),
			zap.Int64("size", log.SanitizeSize(body.size)))
	}
	return err
}

// Append adds content after the end of an existing file
func (e *Engine) Append(ctx context.Context, path string, reader io.Reader) error {
	body, err := spool(reader)
	if err != nil {
		return err
	}
	defer body.Close()

	err = e.mutate(ctx, "append", []string{path}, func() error {
		return e.storage.Append(ctx, path, body)
	})
	if err == nil {
		e.logger.Debug("File appended",
			log.PathField("path", path),
			zap.Int64("size", log.SanitizeSize(body.size)))
	}
	return err
}

// SetPermission replaces the permission string of a node
func (e *Engine) SetPermission(ctx context.Context, path string, permission string) error {
	return e.mutate(ctx, "set_permission", []string{path}, func() error {
		return e.storage.SetPermission(ctx, path, permission)
	})
}

// Concat replaces target with the sources in order and removes the sources
func (e *Engine) Concat(ctx context.Context, target string, sources []string) error {
	paths := append([]string{target}, sources...)
	err := e.mutate(ctx, "concat", paths, func() error {
		return e.storage.Concat(ctx, target, sources)
	})
	if err == nil {
		e.logger.Info("Files concatenated",
			log.PathField("target", target),
			zap.Int("sources", len(sources)))
	}
	return err
}

// spoolMemoryLimit is the largest body kept in memory before spooling to disk.
const spoolMemoryLimit = 8 << 20

// spooledBody is a request body read to its end before any path is locked,
// so a slow sender never holds a lock.
type spooledBody struct {
	io.Reader
	size int64
	file *os.File
}

func spool(r io.Reader) (*spooledBody, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, spoolMemoryLimit+1)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if n <= spoolMemoryLimit {
		return &spooledBody{Reader: bytes.NewReader(buf.Bytes()), size: n}, nil
	}

	f, err := os.CreateTemp("", "hnsfs-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	body := &spooledBody{Reader: f, file: f}
	if _, err := buf.WriteTo(f); err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to spool content: %w", err)
	}
	rest, err := io.Copy(f, r)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to spool content: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	body.size = n + rest
	return body, nil
}

// Close removes the spool file, if any.
func (b *spooledBody) Close() error {
	if b.file == nil {
		return nil
	}
	b.file.Close()
	return os.Remove(b.file.Name())
}
