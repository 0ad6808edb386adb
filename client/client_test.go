package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/backends/memory"
	"github.com/ebogdum/hnsfs/metadata"
)

// countingTransport records the calls that reach the store.
type countingTransport struct {
	Transport

	mu     sync.Mutex
	calls  map[string]int
	tokens []string
}

func newCountingTransport() *countingTransport {
	return &countingTransport{Transport: memory.New(), calls: make(map[string]int)}
}

func (c *countingTransport) record(ctx context.Context, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if token, ok := auth.TokenFromContext(ctx); ok {
		c.tokens = append(c.tokens, token.Value)
	}
}

func (c *countingTransport) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingTransport) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *countingTransport) Create(ctx context.Context, path string, r io.Reader, overwrite bool) error {
	c.record(ctx, "create")
	return c.Transport.Create(ctx, path, r, overwrite)
}

func (c *countingTransport) Append(ctx context.Context, path string, r io.Reader) error {
	c.record(ctx, "append")
	return c.Transport.Append(ctx, path, r)
}

func (c *countingTransport) SetPermission(ctx context.Context, path, permission string) error {
	c.record(ctx, "set_permission")
	return c.Transport.SetPermission(ctx, path, permission)
}

func (c *countingTransport) Concat(ctx context.Context, target string, sources []string) error {
	c.record(ctx, "concat")
	return c.Transport.Concat(ctx, target, sources)
}

func (c *countingTransport) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	c.record(ctx, "stat")
	return c.Transport.Stat(ctx, path)
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (*auth.Token, error) {
	return nil, auth.ErrTokenUnavailable
}

func newTestClient(t *testing.T, bufferSize int) (*StoreClient, *countingTransport) {
	t.Helper()
	transport := newCountingTransport()
	c, err := New(Config{Endpoint: "memory", WriteBufferSize: bufferSize}, transport, auth.NewStaticTokenProvider("test-key"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, transport
}

func writeFile(t *testing.T, c *StoreClient, path, content string) {
	t.Helper()
	w, err := c.CreateFile(context.Background(), path, metadata.Overwrite)
	if err != nil {
		t.Fatalf("CreateFile(%s): %v", path, err)
	}
	defer w.Close()
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func readFile(t *testing.T, c *StoreClient, path string) string {
	t.Helper()
	r, err := c.ReadStream(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadStream(%s): %v", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, nil, auth.NewStaticTokenProvider("k"), nil); !errors.Is(err, metadata.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument without transport, got %v", err)
	}
	if _, err := New(Config{}, memory.New(), nil, nil); !errors.Is(err, metadata.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument without token provider, got %v", err)
	}
}

func TestCreateDirectoryIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.CreateDirectory(ctx, "/a/b/w"); err != nil {
			t.Fatalf("CreateDirectory attempt %d: %v", i, err)
		}
	}

	writeFile(t, c, "/a/file", "x")
	err := c.CreateDirectory(ctx, "/a/file")
	if !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists over a file, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"text", []byte("sample content\n")},
		{"binary", []byte{0, 1, 2, 0xff, 0xfe, '\n', 0}},
		{"larger than buffer", bytes.Repeat([]byte("0123456789"), 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, 64)
			writeFile(t, c, "/a/b/c.txt", string(tt.content))
			if got := readFile(t, c, "/a/b/c.txt"); got != string(tt.content) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.content))
			}
		})
	}
}

func TestCreateFilePolicies(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/x.txt", "first")

	_, err := c.CreateFile(ctx, "/x.txt", metadata.Fail)
	if !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists with Fail policy, got %v", err)
	}
	if got := readFile(t, c, "/x.txt"); got != "first" {
		t.Errorf("Fail policy modified the file: %q", got)
	}

	w, err := c.CreateFile(ctx, "/x.txt", metadata.Overwrite)
	if err != nil {
		t.Fatalf("CreateFile overwrite: %v", err)
	}
	defer w.Close()
	if got := readFile(t, c, "/x.txt"); got != "first" {
		t.Errorf("overwrite must not touch the file before close, got %q", got)
	}
	io.WriteString(w, "second")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readFile(t, c, "/x.txt"); got != "second" {
		t.Errorf("got %q, want second", got)
	}

	c.CreateDirectory(ctx, "/dir")
	if _, err := c.CreateFile(ctx, "/dir", metadata.Overwrite); !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists over a directory, got %v", err)
	}
}

func listNames(t *testing.T, c *StoreClient, dir string) string {
	t.Helper()
	entries, err := c.ListDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ListDirectory(%s): %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return strings.Join(names, ",")
}

func TestCreateStreamSpillsToStagingUntilClose(t *testing.T) {
	c, transport := newTestClient(t, 4)
	ctx := context.Background()

	w, err := c.CreateFile(ctx, "/buf.txt", metadata.Fail)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	if transport.count("create") != 0 || transport.count("append") != 0 {
		t.Fatalf("a partial buffer must not reach the store")
	}

	if _, err := w.Write([]byte("cdefghij")); err != nil {
		t.Fatal(err)
	}
	if transport.count("create") != 1 || transport.count("append") != 1 {
		t.Fatalf("expected two full buffers staged, got %d creates and %d appends",
			transport.count("create"), transport.count("append"))
	}
	if ok, _ := c.Exists(ctx, "/buf.txt"); ok {
		t.Fatal("staged content must not appear at the target before close")
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := transport.count("append"); got != 2 {
		t.Errorf("expected the remainder to be staged on close, got %d appends", got)
	}
	if got := transport.count("concat"); got != 1 {
		t.Errorf("expected one publishing concat, got %d", got)
	}
	if got := readFile(t, c, "/buf.txt"); got != "abcdefghij" {
		t.Errorf("got %q", got)
	}
	if got := listNames(t, c, "/"); got != "buf.txt" {
		t.Errorf("staging file left behind: %q", got)
	}
}

func TestOverwriteKeepsOldContentUntilClose(t *testing.T) {
	c, _ := newTestClient(t, 4)
	ctx := context.Background()

	writeFile(t, c, "/f", "OLD-CONTENT")

	w, err := c.CreateFile(ctx, "/f", metadata.Overwrite)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer w.Close()
	if _, err := io.WriteString(w, "new-partial"); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, c, "/f"); got != "OLD-CONTENT" {
		t.Errorf("before close got %q, want OLD-CONTENT", got)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, c, "/f"); got != "new-partial" {
		t.Errorf("after close got %q, want new-partial", got)
	}
	if got := listNames(t, c, "/"); got != "f" {
		t.Errorf("staging file left behind: %q", got)
	}
}

func TestFailPolicyRecheckedOnClose(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"buffered", "ab"},
		{"staged", "abcdefghij"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, 4)
			ctx := context.Background()

			w, err := c.CreateFile(ctx, "/d/r", metadata.Fail)
			if err != nil {
				t.Fatalf("CreateFile: %v", err)
			}
			defer w.Close()
			io.WriteString(w, tt.content)

			writeFile(t, c, "/d/r", "other")
			if err := w.Close(); !errors.Is(err, metadata.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
			if got := readFile(t, c, "/d/r"); got != "other" {
				t.Errorf("losing writer replaced the file: %q", got)
			}
			if got := listNames(t, c, "/d"); got != "r" {
				t.Errorf("staging file left behind: %q", got)
			}
		})
	}
}

func TestAppendStream(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/log.txt", "one,")
	w, err := c.AppendStream(ctx, "/log.txt")
	if err != nil {
		t.Fatalf("AppendStream: %v", err)
	}
	defer w.Close()
	io.WriteString(w, "two,")
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	io.WriteString(w, "three")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, c, "/log.txt"); got != "one,two,three" {
		t.Errorf("got %q", got)
	}

	if _, err := c.AppendStream(ctx, "/missing"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing file, got %v", err)
	}
	c.CreateDirectory(ctx, "/dir")
	if _, err := c.AppendStream(ctx, "/dir"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a directory, got %v", err)
	}
}

func TestStreamsAfterClose(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	w, err := c.CreateFile(ctx, "/s.txt", metadata.Overwrite)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "data")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, metadata.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on write after close, got %v", err)
	}
	if err := w.Flush(); !errors.Is(err, metadata.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on flush after close, got %v", err)
	}

	r, err := c.ReadStream(ctx, "/s.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, metadata.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on read after close, got %v", err)
	}
}

func TestReadStreamMissing(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	if _, err := c.ReadStream(ctx, "/missing"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	c.CreateDirectory(ctx, "/dir")
	if _, err := c.ReadStream(ctx, "/dir"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a directory, got %v", err)
	}
}

func TestGetEntryAndExists(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := metadata.WithPrincipal(context.Background(), "alice")

	w, err := c.CreateFile(ctx, "/a/b/c.txt", metadata.Overwrite)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "hello")
	w.Close()

	e, err := c.GetEntry(ctx, "/a/b/c.txt")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if e.Name != "c.txt" || e.Length != 5 || e.Type != metadata.TypeFile || e.Owner != "alice" {
		t.Errorf("unexpected entry %+v", e)
	}

	if _, err := c.GetEntry(ctx, "/nope"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ok, err := c.Exists(ctx, "/a/b")
	if err != nil || !ok {
		t.Errorf("Exists(/a/b) = %v, %v", ok, err)
	}
	ok, err = c.Exists(ctx, "/a/z")
	if err != nil || ok {
		t.Errorf("Exists(/a/z) = %v, %v", ok, err)
	}
}

func TestLocalValidationSkipsTransport(t *testing.T) {
	c, transport := newTestClient(t, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"bad permission", func() error { return c.SetPermission(ctx, "/f", "abc") }},
		{"empty concat", func() error { return c.Concatenate(ctx, "/t", nil) }},
		{"relative path", func() error { return c.CreateDirectory(ctx, "a/b") }},
		{"trailing separator", func() error { _, err := c.GetEntry(ctx, "/a/"); return err }},
		{"bad concat source", func() error { return c.Concatenate(ctx, "/t", []string{"/a", "b"}) }},
		{"bad rename destination", func() error { return c.Rename(ctx, "/a", "/a/../b") }},
		{"file at root", func() error { _, err := c.CreateFile(ctx, "/", metadata.Fail); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, metadata.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			var re *metadata.RemoteError
			if errors.As(err, &re) {
				t.Errorf("local validation must not produce a RemoteError: %v", err)
			}
		})
	}
	if n := transport.total(); n != 0 {
		t.Errorf("expected no transport calls, got %d", n)
	}
}

func TestSetPermission(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/f.txt", "x")
	if err := c.SetPermission(ctx, "/f.txt", "744"); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	e, err := c.GetEntry(ctx, "/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Permission != "744" {
		t.Errorf("permission = %q", e.Permission)
	}
}

func TestConcatenate(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/a", "AAA")
	writeFile(t, c, "/b", "BBB")
	if err := c.Concatenate(ctx, "/t", []string{"/a", "/b"}); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	if got := readFile(t, c, "/t"); got != "AAABBB" {
		t.Errorf("got %q, want AAABBB", got)
	}
	if _, err := c.GetEntry(ctx, "/a"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected source /a to be removed, got %v", err)
	}

	err := c.Concatenate(ctx, "/t2", []string{"/t", "/missing"})
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing source, got %v", err)
	}
}

func TestRenameOntoExisting(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/x", "X")
	writeFile(t, c, "/y", "Y")
	if err := c.Rename(ctx, "/x", "/y"); !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if readFile(t, c, "/x") != "X" || readFile(t, c, "/y") != "Y" {
		t.Error("failed rename must leave both files unchanged")
	}

	if err := c.Rename(ctx, "/x", "/z"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := readFile(t, c, "/z"); got != "X" {
		t.Errorf("got %q", got)
	}
}

func TestDeleteRecursive(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/d/sub/f.txt", "f")
	if err := c.Delete(ctx, "/d"); !errors.Is(err, metadata.ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty for a non-recursive delete, got %v", err)
	}
	if err := c.DeleteRecursive(ctx, "/d"); err != nil {
		t.Fatalf("DeleteRecursive: %v", err)
	}
	for _, p := range []string{"/d", "/d/sub", "/d/sub/f.txt"} {
		if _, err := c.GetEntry(ctx, p); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("expected %s to be gone, got %v", p, err)
		}
	}
	if err := c.DeleteRecursive(ctx, "/d"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("second delete should fail with ErrNotFound, got %v", err)
	}
}

func TestListDirectory(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	writeFile(t, c, "/d/b.txt", "b")
	writeFile(t, c, "/d/a.txt", "a")
	entries, err := c.ListDirectory(ctx, "/d")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != "a.txt,b.txt" {
		t.Errorf("unexpected listing %q", got)
	}

	if _, err := c.ListDirectory(ctx, "/d/a.txt"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected ErrNotFound listing a file, got %v", err)
	}
}

func TestRemoteErrorCarriesRequestID(t *testing.T) {
	c, _ := newTestClient(t, 0)

	_, err := c.GetEntry(context.Background(), "/missing")
	var re *metadata.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %T", err)
	}
	if re.RequestID == "" {
		t.Error("RemoteError must carry a request id")
	}
	if re.Kind != metadata.KindNotFound || re.RemoteExceptionName != metadata.KindNotFound.ExceptionName() {
		t.Errorf("unexpected classification %+v", re)
	}
}

func TestTokenIsAttachedToEveryCall(t *testing.T) {
	c, transport := newTestClient(t, 0)

	writeFile(t, c, "/f", "x")
	if len(transport.tokens) == 0 {
		t.Fatal("expected calls to reach the transport")
	}
	for _, token := range transport.tokens {
		if token != "test-key" {
			t.Errorf("unexpected token %q", token)
		}
	}
}

func TestTokenFailureIsUnauthorized(t *testing.T) {
	transport := newCountingTransport()
	c, err := New(Config{}, transport, failingTokens{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = c.CreateDirectory(context.Background(), "/a")
	var re *metadata.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if re.Kind != metadata.KindUnauthorized || !errors.Is(err, metadata.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %+v", re)
	}
	if re.RequestID == "" {
		t.Error("expected a request id")
	}
	if transport.total() != 0 {
		t.Error("no call may reach the store without a token")
	}
}

func TestToRemoteErrorKeepsRemoteRequestID(t *testing.T) {
	remote := &metadata.RemoteError{Message: "boom", Kind: metadata.KindOther, RequestID: "server-id"}
	err := toRemoteError("op", "client-id", remote)
	var re *metadata.RemoteError
	if !errors.As(err, &re) || re.RequestID != "server-id" {
		t.Errorf("expected the server request id to survive, got %v", err)
	}

	err = toRemoteError("op", "client-id", &metadata.RemoteError{Message: "boom"})
	if !errors.As(err, &re) || re.RequestID != "client-id" {
		t.Errorf("expected the client request id to be filled in, got %v", err)
	}
}
