package core

import (
	"sync"
	"time"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// cacheEntry represents a cached entry with expiration
type cacheEntry struct {
	entry     *metadata.Entry
	expiresAt time.Time
}

// EntryCache keeps Stat results for a short TTL. Entries are copied on the way
// in and out so callers never share a record.
//
// Every invalidation advances a generation. A reader that fetched an entry
// outside the path lock stores it with SetIfCurrent, which refuses the entry
// when an invalidation happened since the reader took the generation.
type EntryCache struct {
	mu         sync.RWMutex
	cache      map[string]*cacheEntry
	generation uint64
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEntryCache creates a cache with the given TTL and maximum size and starts
// its cleanup loop. Close stops the loop.
func NewEntryCache(ttl time.Duration, maxSize int) *EntryCache {
	c := &EntryCache{
		cache:    make(map[string]*cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go c.cleanupExpiredEntries()
	return c
}

// Get returns a cached entry for path
func (c *EntryCache) Get(path string) (*metadata.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.cache[path]
	if !ok || c.now().After(e.expiresAt) {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return e.entry.Clone(), true
}

// Set stores an entry for its path
func (c *EntryCache) Set(entry *metadata.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(entry)
}

// Generation returns the current invalidation generation.
func (c *EntryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// SetIfCurrent stores entries only if no invalidation happened since
// generation was read. It reports whether they were stored.
func (c *EntryCache) SetIfCurrent(generation uint64, entries ...*metadata.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation {
		return false
	}
	for _, entry := range entries {
		c.set(entry)
	}
	return true
}

// set stores one entry (caller must hold lock)
func (c *EntryCache) set(entry *metadata.Entry) {
	if _, exists := c.cache[entry.Path]; !exists && len(c.cache) >= c.maxSize {
		c.evictOneEntry()
	}
	c.cache[entry.Path] = &cacheEntry{
		entry:     entry.Clone(),
		expiresAt: c.now().Add(c.ttl),
	}
}

// InvalidateTree removes path, everything beneath it and its parent
func (c *EntryCache) InvalidateTree(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	delete(c.cache, pathutil.Parent(path))
	for p := range c.cache {
		if pathutil.IsWithin(p, path) {
			delete(c.cache, p)
		}
	}
}

// Len returns the number of cached entries, expired or not
func (c *EntryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close stops the cleanup loop
func (c *EntryCache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// evictOneEntry removes one entry to make space (caller must hold lock)
func (c *EntryCache) evictOneEntry() {
	now := c.now()
	for path, e := range c.cache {
		if now.After(e.expiresAt) {
			delete(c.cache, path)
			return
		}
	}
	for path := range c.cache {
		delete(c.cache, path)
		return
	}
}

func (c *EntryCache) cleanupExpiredEntries() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performCleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *EntryCache) performCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for path, e := range c.cache {
		if now.After(e.expiresAt) {
			delete(c.cache, path)
		}
	}
}
