// Package core orchestrates namespace operations on the server: it serializes
// mutations through the lock manager, caches entries and records backend metrics.
package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/backends"
	"github.com/ebogdum/hnsfs/locks"
	"github.com/ebogdum/hnsfs/metrics"
)

const defaultCacheSize = 10000

// Engine represents the core hnsfs engine that orchestrates operations
type Engine struct {
	storage     backends.Storage
	backendType string
	lockManager locks.Manager
	lockRetry   locks.RetryPolicy
	cache       *EntryCache // nil when caching is disabled
	logger      *zap.Logger
}

// Options tunes an Engine.
type Options struct {
	// CacheTTL enables the entry cache when positive.
	CacheTTL time.Duration
	// LockRetry bounds the wait for a busy path. Zero uses locks.DefaultRetryPolicy.
	LockRetry locks.RetryPolicy
}

// NewEngine creates a new core engine instance
func NewEngine(storage backends.Storage, backendType string, lockManager locks.Manager, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockRetry.Attempts == 0 {
		opts.LockRetry = locks.DefaultRetryPolicy
	}

	e := &Engine{
		storage:     storage,
		backendType: backendType,
		lockManager: lockManager,
		lockRetry:   opts.LockRetry,
		logger:      logger,
	}
	if opts.CacheTTL > 0 {
		e.cache = NewEntryCache(opts.CacheTTL, defaultCacheSize)
	}
	return e
}

// BackendType names the storage behind the engine
func (e *Engine) BackendType() string {
	return e.backendType
}

// Close stops the cache and closes the lock manager and the storage
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	return errors.Join(e.lockManager.Close(), e.storage.Close())
}

// mutate runs fn with every path locked and drops the cached entries it may change
func (e *Engine) mutate(ctx context.Context, op string, paths []string, fn func() error) error {
	start := time.Now()
	defer metrics.ObserveBackendOp(e.backendType, op, start)

	release, err := locks.AcquireAll(ctx, e.lockManager, e.lockRetry, paths...)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("engine", "lock").Inc()
		e.logger.Warn("Failed to lock paths",
			zap.String("operation", op),
			zap.Int("paths", len(paths)),
			zap.Error(err))
		return err
	}
	defer release()

	err = fn()
	if e.cache != nil {
		for _, p := range paths {
			e.cache.InvalidateTree(p)
		}
	}
	return err
}
