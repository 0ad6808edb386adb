// Package locks serializes mutations of namespace paths, in-process or across
// server instances sharing one backend.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metrics"
)

// ErrLockBusy is returned when a lock is still held after every retry.
var ErrLockBusy = errors.New("lock busy")

// Manager defines the interface for distributed locking operations
type Manager interface {
	// Acquire attempts to acquire a lock for the given key.
	// Returns true if the lock was acquired, false if it is held elsewhere.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release releases a previously acquired lock for the given key.
	// Only the holder that acquired the lock can release it.
	Release(ctx context.Context, key string) error

	// Close closes the lock manager and releases any resources
	Close() error
}

// RetryPolicy bounds how long AcquireAll waits for a busy lock.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy waits up to about a second for a busy path.
var DefaultRetryPolicy = RetryPolicy{Attempts: 20, Delay: 50 * time.Millisecond}

// AcquireAll locks every path in lexical order so two callers locking
// overlapping sets cannot deadlock. The returned func releases them all.
func AcquireAll(ctx context.Context, m Manager, policy RetryPolicy, paths ...string) (func(), error) {
	keys := pathutil.SortedUnique(paths...)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			start := time.Now()
			status := "success"
			if err := m.Release(context.Background(), held[i]); err != nil {
				status = "failure"
			}
			metrics.LockOperationsTotal.WithLabelValues("release", status).Inc()
			metrics.LockOperationDuration.WithLabelValues("release").Observe(time.Since(start).Seconds())
			metrics.ActiveLocks.Dec()
		}
	}

	for _, key := range keys {
		if err := acquire(ctx, m, policy, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
		metrics.ActiveLocks.Inc()
	}
	return release, nil
}

func acquire(ctx context.Context, m Manager, policy RetryPolicy, key string) error {
	attempts := max(policy.Attempts, 1)
	start := time.Now()
	defer func() {
		metrics.LockOperationDuration.WithLabelValues("acquire").Observe(time.Since(start).Seconds())
	}()

	for i := 0; i < attempts; i++ {
		ok, err := m.Acquire(ctx, key)
		if err != nil {
			metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
			return fmt.Errorf("failed to acquire lock for %s: %w", key, err)
		}
		if ok {
			metrics.LockOperationsTotal.WithLabelValues("acquire", "success").Inc()
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
			return ctx.Err()
		case <-time.After(policy.Delay):
		}
	}

	metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
	return fmt.Errorf("%w: %s", ErrLockBusy, key)
}
