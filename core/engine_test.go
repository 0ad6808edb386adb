package core

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ebogdum/hnsfs/backends"
	"github.com/ebogdum/hnsfs/backends/backendtest"
	"github.com/ebogdum/hnsfs/backends/memory"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/locks"
	"github.com/ebogdum/hnsfs/metadata"
)

func newTestEngine(t *testing.T, cacheTTL time.Duration) (*Engine, *locks.LocalManager) {
	t.Helper()
	lm := locks.NewLocalManager()
	e := NewEngine(memory.New(), BackendMemory, lm, Options{
		CacheTTL:  cacheTTL,
		LockRetry: locks.RetryPolicy{Attempts: 2, Delay: time.Millisecond},
	}, nil)
	return e, lm
}

func TestEngineConformance(t *testing.T) {
	for _, ttl := range []time.Duration{0, time.Minute} {
		t.Run("cache_ttl="+ttl.String(), func(t *testing.T) {
			backendtest.Run(t, func(t *testing.T) backends.Storage {
				e, _ := newTestEngine(t, ttl)
				return e
			})
		})
	}
}

func TestEngineReleasesLocks(t *testing.T) {
	e, lm := newTestEngine(t, 0)
	defer e.Close()
	ctx := context.Background()

	if err := e.Create(ctx, "/a", strings.NewReader("A"), true); err != nil {
		t.Fatal(err)
	}
	if err := e.Create(ctx, "/a", strings.NewReader("A"), false); !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := e.Rename(ctx, "/a", "/b"); err != nil {
		t.Fatal(err)
	}
	if got := lm.Held(); got != 0 {
		t.Errorf("expected no locks held after operations, got %d", got)
	}
}

func TestEngineReportsBusyPath(t *testing.T) {
	e, lm := newTestEngine(t, 0)
	defer e.Close()
	ctx := context.Background()

	if ok, _ := lm.Acquire(ctx, "/b"); !ok {
		t.Fatal("setup acquire failed")
	}
	err := e.Concat(ctx, "/t", []string{"/a", "/b"})
	if !errors.Is(err, locks.ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}
	if got := lm.Held(); got != 1 {
		t.Errorf("engine must release what it acquired, %d locks held", got)
	}
}

func TestEngineCacheInvalidation(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	defer e.Close()
	ctx := context.Background()

	if err := e.Create(ctx, "/d/f", strings.NewReader("abc"), true); err != nil {
		t.Fatal(err)
	}
	entry, err := e.Stat(ctx, "/d/f")
	if err != nil || entry.Length != 3 {
		t.Fatalf("Stat = %+v, %v", entry, err)
	}

	if err := e.Append(ctx, "/d/f", strings.NewReader("de")); err != nil {
		t.Fatal(err)
	}
	entry, err = e.Stat(ctx, "/d/f")
	if err != nil || entry.Length != 5 {
		t.Errorf("cached length not refreshed after append: %+v, %v", entry, err)
	}

	if err := e.Delete(ctx, "/d", true); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Stat(ctx, "/d/f"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("deleted entry still served from cache: %v", err)
	}
}

// pausingStorage holds a Stat after it has read the backend until resumed.
type pausingStorage struct {
	backends.Storage
	armed   atomic.Bool
	reached chan struct{}
	resume  chan struct{}
}

func (p *pausingStorage) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	entry, err := p.Storage.Stat(ctx, path)
	if p.armed.CompareAndSwap(true, false) {
		close(p.reached)
		<-p.resume
	}
	return entry, err
}

func TestStatRacingDeleteLeavesNoStaleEntry(t *testing.T) {
	store := &pausingStorage{Storage: memory.New(), reached: make(chan struct{}), resume: make(chan struct{})}
	e := NewEngine(store, BackendMemory, locks.NewLocalManager(), Options{CacheTTL: time.Minute}, nil)
	defer e.Close()
	ctx := context.Background()

	if err := e.Create(ctx, "/f", strings.NewReader("x"), false); err != nil {
		t.Fatal(err)
	}

	store.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := e.Stat(ctx, "/f")
		done <- err
	}()
	<-store.reached

	if err := e.Delete(ctx, "/f", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(store.resume)
	if err := <-done; err != nil {
		t.Fatalf("in-flight Stat: %v", err)
	}

	if _, err := e.Stat(ctx, "/f"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// gatedReader blocks its first Read until the gate opens.
type gatedReader struct {
	started chan struct{}
	gate    chan struct{}
	r       io.Reader
	once    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.gate
	})
	return g.r.Read(p)
}

func TestSlowUploadHoldsNoLock(t *testing.T) {
	e, lm := newTestEngine(t, 0)
	defer e.Close()
	ctx := context.Background()

	if err := e.Create(ctx, "/log", strings.NewReader("a"), false); err != nil {
		t.Fatal(err)
	}

	slow := &gatedReader{started: make(chan struct{}), gate: make(chan struct{}), r: strings.NewReader("c")}
	done := make(chan error, 1)
	go func() { done <- e.Append(ctx, "/log", slow) }()
	<-slow.started

	if got := lm.Held(); got != 0 {
		t.Errorf("expected no lock while the body is still arriving, %d held", got)
	}
	if err := e.Append(ctx, "/log", strings.NewReader("b")); err != nil {
		t.Fatalf("concurrent append blocked by a slow upload: %v", err)
	}

	close(slow.gate)
	if err := <-done; err != nil {
		t.Fatalf("slow append: %v", err)
	}

	r, err := e.Open(ctx, "/log")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "abc" {
		t.Errorf("content = %q, want abc", data)
	}
}

func TestSpoolLargeBodyToDisk(t *testing.T) {
	content := strings.Repeat("z", spoolMemoryLimit+10)
	body, err := spool(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if body.file == nil {
		t.Fatal("expected a body past the memory limit to be spooled to a file")
	}
	name := body.file.Name()
	data, _ := io.ReadAll(body)
	if len(data) != len(content) || body.size != int64(len(content)) {
		t.Errorf("spooled %d bytes (size %d), want %d", len(data), body.size, len(content))
	}
	if err := body.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("spool file not removed: %v", err)
	}
}

func TestEntryCacheRefusesStaleFill(t *testing.T) {
	c := NewEntryCache(time.Minute, 100)
	defer c.Close()

	generation := c.Generation()
	c.InvalidateTree("/a")
	if c.SetIfCurrent(generation, &metadata.Entry{Path: "/a"}) {
		t.Error("fill from before an invalidation must be refused")
	}
	if _, ok := c.Get("/a"); ok {
		t.Error("refused entry was cached")
	}

	if !c.SetIfCurrent(c.Generation(), &metadata.Entry{Path: "/a"}, &metadata.Entry{Path: "/b"}) {
		t.Fatal("current fill refused")
	}
	if c.Len() != 2 {
		t.Errorf("expected both entries cached, have %d", c.Len())
	}
}

func TestEntryCache(t *testing.T) {
	c := NewEntryCache(time.Second, 2)
	defer c.Close()

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set(&metadata.Entry{Path: "/a", Name: "a"})
	got, ok := c.Get("/a")
	if !ok || got.Name != "a" {
		t.Fatalf("Get(/a) = %+v, %v", got, ok)
	}

	got.Name = "mutated"
	if again, _ := c.Get("/a"); again.Name != "a" {
		t.Error("cache must hand out copies")
	}

	c.Set(&metadata.Entry{Path: "/b"})
	c.Set(&metadata.Entry{Path: "/c"})
	if c.Len() != 2 {
		t.Errorf("cache should stay within its size, has %d", c.Len())
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("/c"); ok {
		t.Error("expired entry should miss")
	}
	c.performCleanup()
	if c.Len() != 0 {
		t.Errorf("cleanup should drop expired entries, %d left", c.Len())
	}
}

func TestEntryCacheInvalidateTree(t *testing.T) {
	c := NewEntryCache(time.Minute, 100)
	defer c.Close()

	for _, p := range []string{"/", "/a", "/a/b", "/a/b/c", "/ab", "/x"} {
		c.Set(&metadata.Entry{Path: p})
	}
	c.InvalidateTree("/a")

	for p, want := range map[string]bool{"/": false, "/a": false, "/a/b": false, "/a/b/c": false, "/ab": true, "/x": true} {
		if _, ok := c.Get(p); ok != want {
			t.Errorf("Get(%s) present = %v, want %v", p, ok, want)
		}
	}
}

func TestOpenStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BackendConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.BackendConfig{Type: BackendMemory}},
		{name: "localfs", cfg: config.BackendConfig{Type: BackendLocalFS, LocalFSRootPath: t.TempDir() + "/root"}},
		{name: "sqlite", cfg: config.BackendConfig{Type: BackendSQLite, SQLitePath: t.TempDir() + "/ns.db"}},
		{name: "unknown", cfg: config.BackendConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenStorage(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStorage: %v", err)
			}
			defer s.Close()
			if _, err := s.Stat(context.Background(), "/"); err != nil {
				t.Errorf("root should exist: %v", err)
			}
		})
	}
}

func TestNewLockManager(t *testing.T) {
	m, err := NewLockManager(config.DLMConfig{Type: "local"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*locks.LocalManager); !ok {
		t.Errorf("expected a LocalManager, got %T", m)
	}
	if _, err := NewLockManager(config.DLMConfig{Type: "zookeeper"}, nil); err == nil {
		t.Error("expected an error for an unknown type")
	}
}
