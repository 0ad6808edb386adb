package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// ListDirectory lists directory contents and refreshes the cache with them
func (e *Engine) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	defer metrics.ObserveBackendOp(e.backendType, "list_directory", time.Now())

	var generation uint64
	if e.cache != nil {
		generation = e.cache.Generation()
	}
	children, err := e.storage.ListDirectory(ctx, path)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetIfCurrent(generation, children...)
	}
	return children, nil
}

// CreateDirectory creates a directory and any missing ancestors
func (e *Engine) CreateDirectory(ctx context.Context, path string) error {
	return e.mutate(ctx, "create_directory", []string{path}, func() error {
		return e.storage.CreateDirectory(ctx, path)
	})
}

// Rename moves a file or directory
func (e *Engine) Rename(ctx context.Context, source, destination string) error {
	err := e.mutate(ctx, "rename", []string{source, destination}, func() error {
		return e.storage.Rename(ctx, source, destination)
	})
	if err == nil {
		e.logger.Info("Path renamed",
			log.PathField("source", source),
			log.PathField("destination", destination))
	}
	return err
}

// Delete removes a node, with its descendants when recursive is set
func (e *Engine) Delete(ctx context.Context, path string, recursive bool) error {
	err := e.mutate(ctx, "delete", []string{path}, func() error {
		return e.storage.Delete(ctx, path, recursive)
	})
	if err == nil {
		e.logger.Info("Path deleted",
			log.PathField("path", path),
			zap.Bool("recursive", recursive))
	}
	return err
}
