// Package backendtest holds the behavioural checks every backends.Storage
// implementation must pass.
package backendtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ebogdum/hnsfs/backends"
	"github.com/ebogdum/hnsfs/metadata"
)

// Factory returns a fresh, empty storage for one subtest.
type Factory func(t *testing.T) backends.Storage

// Run executes the conformance suite against storages produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s backends.Storage)
	}{
		{"CreateDirectoryIsIdempotent", testCreateDirectory},
		{"CreateDirectoryOverFile", testCreateDirectoryOverFile},
		{"ListDirectorySorted", testListDirectory},
		{"ListDirectoryMissing", testListDirectoryMissing},
		{"CreateOverwriteAndFail", testCreatePolicies},
		{"CreateMakesParents", testCreateMakesParents},
		{"AppendAfterEnd", testAppend},
		{"AppendMissing", testAppendMissing},
		{"OpenDirectory", testOpenDirectory},
		{"StatEntry", testStat},
		{"SetPermission", testSetPermission},
		{"Concat", testConcat},
		{"ConcatErrors", testConcatErrors},
		{"RenameFile", testRenameFile},
		{"RenameDirectory", testRenameDirectory},
		{"RenameOntoExisting", testRenameOntoExisting},
		{"DeleteRecursive", testDeleteRecursive},
		{"DeleteNonEmpty", testDeleteNonEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { s.Close() })
			tc.fn(t, s)
		})
	}
}

func ctx() context.Context {
	return context.Background()
}

func mustCreate(t *testing.T, s backends.Storage, path, content string) {
	t.Helper()
	if err := s.Create(ctx(), path, strings.NewReader(content), true); err != nil {
		t.Fatalf("Create(%s): %v", path, err)
	}
}

func readAll(t *testing.T, s backends.Storage, path string) string {
	t.Helper()
	rc, err := s.Open(ctx(), path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func testCreateDirectory(t *testing.T, s backends.Storage) {
	for i := 0; i < 2; i++ {
		if err := s.CreateDirectory(ctx(), "/a/b/w"); err != nil {
			t.Fatalf("CreateDirectory attempt %d: %v", i, err)
		}
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/w"} {
		e, err := s.Stat(ctx(), p)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p, err)
		}
		if !e.IsDir() {
			t.Errorf("%s should be a directory", p)
		}
	}
}

func testCreateDirectoryOverFile(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/a/file", "x")
	expectErr(t, s.CreateDirectory(ctx(), "/a/file"), metadata.ErrAlreadyExists)
	expectErr(t, s.CreateDirectory(ctx(), "/a/file/sub"), metadata.ErrAlreadyExists)
}

func testListDirectory(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/d/zeta.txt", "z")
	mustCreate(t, s, "/d/alpha.txt", "a")
	if err := s.CreateDirectory(ctx(), "/d/mid"); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, s, "/d/mid/nested.txt", "n")

	entries, err := s.ListDirectory(ctx(), "/d")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != "alpha.txt,mid,zeta.txt" {
		t.Fatalf("unexpected listing %q", got)
	}
	if entries[0].Path != "/d/alpha.txt" || entries[0].Length != 1 || entries[0].Type != metadata.TypeFile {
		t.Errorf("unexpected entry %+v", entries[0])
	}
	if !entries[1].IsDir() {
		t.Errorf("expected %s to be a directory", entries[1].Path)
	}

	root, err := s.ListDirectory(ctx(), "/")
	if err != nil {
		t.Fatalf("ListDirectory(/): %v", err)
	}
	if len(root) != 1 || root[0].Name != "d" {
		t.Errorf("unexpected root listing %+v", root)
	}
}

func testListDirectoryMissing(t *testing.T, s backends.Storage) {
	_, err := s.ListDirectory(ctx(), "/nope")
	expectErr(t, err, metadata.ErrNotFound)

	mustCreate(t, s, "/f", "x")
	_, err = s.ListDirectory(ctx(), "/f")
	expectErr(t, err, metadata.ErrNotFound)
}

func testCreatePolicies(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/x.txt", "first")
	expectErr(t, s.Create(ctx(), "/x.txt", strings.NewReader("second"), false), metadata.ErrAlreadyExists)
	if got := readAll(t, s, "/x.txt"); got != "first" {
		t.Fatalf("fail policy must not modify the file, got %q", got)
	}

	mustCreate(t, s, "/x.txt", "hi")
	if got := readAll(t, s, "/x.txt"); got != "hi" {
		t.Fatalf("overwrite should replace content, got %q", got)
	}

	if err := s.CreateDirectory(ctx(), "/dir"); err != nil {
		t.Fatal(err)
	}
	expectErr(t, s.Create(ctx(), "/dir", strings.NewReader(""), true), metadata.ErrAlreadyExists)
}

func testCreateMakesParents(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/p/q/r.txt", "r")
	e, err := s.Stat(ctx(), "/p/q")
	if err != nil || !e.IsDir() {
		t.Fatalf("expected parent directory, got %+v, %v", e, err)
	}
}

func testAppend(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/log.txt", "ab")
	if err := s.Append(ctx(), "/log.txt", strings.NewReader("cd")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx(), "/log.txt", strings.NewReader("")); err != nil {
		t.Fatalf("empty Append: %v", err)
	}
	if got := readAll(t, s, "/log.txt"); got != "abcd" {
		t.Fatalf("got %q, want abcd", got)
	}
	e, err := s.Stat(ctx(), "/log.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Length != 4 {
		t.Errorf("length = %d, want 4", e.Length)
	}
}

func testAppendMissing(t *testing.T, s backends.Storage) {
	expectErr(t, s.Append(ctx(), "/missing", strings.NewReader("x")), metadata.ErrNotFound)
	if err := s.CreateDirectory(ctx(), "/dir"); err != nil {
		t.Fatal(err)
	}
	expectErr(t, s.Append(ctx(), "/dir", strings.NewReader("x")), metadata.ErrNotFound)
}

func testOpenDirectory(t *testing.T, s backends.Storage) {
	if err := s.CreateDirectory(ctx(), "/dir"); err != nil {
		t.Fatal(err)
	}
	_, err := s.Open(ctx(), "/dir")
	expectErr(t, err, metadata.ErrNotFound)
	_, err = s.Open(ctx(), "/missing")
	expectErr(t, err, metadata.ErrNotFound)
	_, err = s.Open(ctx(), "/")
	expectErr(t, err, metadata.ErrNotFound)
}

func testStat(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/a/b/c.txt", "hello")
	e, err := s.Stat(ctx(), "/a/b/c.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.Name != "c.txt" || e.Path != "/a/b/c.txt" || e.Length != 5 || e.Type != metadata.TypeFile {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Owner == "" || e.Permission == "" || e.ModTime.IsZero() {
		t.Errorf("entry is missing attributes: %+v", e)
	}
	_, err = s.Stat(ctx(), "/a/b/none")
	expectErr(t, err, metadata.ErrNotFound)

	root, err := s.Stat(ctx(), "/")
	if err != nil || !root.IsDir() {
		t.Errorf("root should stat as a directory: %+v, %v", root, err)
	}
}

func testSetPermission(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/f.txt", "x")
	if err := s.SetPermission(ctx(), "/f.txt", "744"); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	e, err := s.Stat(ctx(), "/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Permission != "744" && e.Permission != "0744" {
		t.Errorf("permission = %q, want 744", e.Permission)
	}
	expectErr(t, s.SetPermission(ctx(), "/missing", "744"), metadata.ErrNotFound)
	expectErr(t, s.SetPermission(ctx(), "/f.txt", "abc"), metadata.ErrInvalidArgument)
}

func testConcat(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/c/a", "AAA")
	mustCreate(t, s, "/c/b", "BBB")
	if err := s.Concat(ctx(), "/c/t", []string{"/c/a", "/c/b"}); err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if got := readAll(t, s, "/c/t"); got != "AAABBB" {
		t.Fatalf("got %q, want AAABBB", got)
	}
	for _, p := range []string{"/c/a", "/c/b"} {
		_, err := s.Stat(ctx(), p)
		expectErr(t, err, metadata.ErrNotFound)
	}

	mustCreate(t, s, "/c/d", "DDD")
	if err := s.Concat(ctx(), "/c/t", []string{"/c/d"}); err != nil {
		t.Fatalf("Concat over existing target: %v", err)
	}
	if got := readAll(t, s, "/c/t"); got != "DDD" {
		t.Fatalf("existing target should be overwritten, got %q", got)
	}
}

func testConcatErrors(t *testing.T, s backends.Storage) {
	expectErr(t, s.Concat(ctx(), "/t", nil), metadata.ErrInvalidArgument)

	mustCreate(t, s, "/a", "A")
	expectErr(t, s.Concat(ctx(), "/t", []string{"/a", "/missing"}), metadata.ErrNotFound)
	if got := readAll(t, s, "/a"); got != "A" {
		t.Errorf("failed concat must not remove sources, got %q", got)
	}
	if _, err := s.Stat(ctx(), "/t"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("failed concat must not create the target, got %v", err)
	}
}

func testRenameFile(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/a/b/f.txt", "content")
	if err := s.Rename(ctx(), "/a/b/f.txt", "/a/b/g.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := readAll(t, s, "/a/b/g.txt"); got != "content" {
		t.Fatalf("got %q", got)
	}
	_, err := s.Stat(ctx(), "/a/b/f.txt")
	expectErr(t, err, metadata.ErrNotFound)
	expectErr(t, s.Rename(ctx(), "/a/b/f.txt", "/a/b/h.txt"), metadata.ErrNotFound)
}

func testRenameDirectory(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/src/x/1.txt", "one")
	mustCreate(t, s, "/src/2.txt", "two")
	if err := s.Rename(ctx(), "/src", "/dst"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := readAll(t, s, "/dst/x/1.txt"); got != "one" {
		t.Errorf("got %q", got)
	}
	if got := readAll(t, s, "/dst/2.txt"); got != "two" {
		t.Errorf("got %q", got)
	}
	_, err := s.Stat(ctx(), "/src")
	expectErr(t, err, metadata.ErrNotFound)
	e, err := s.Stat(ctx(), "/dst/x")
	if err != nil || e.Path != "/dst/x" {
		t.Errorf("unexpected moved entry %+v, %v", e, err)
	}
}

func testRenameOntoExisting(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/x", "X")
	mustCreate(t, s, "/y", "Y")
	expectErr(t, s.Rename(ctx(), "/x", "/y"), metadata.ErrAlreadyExists)
	if readAll(t, s, "/x") != "X" || readAll(t, s, "/y") != "Y" {
		t.Error("failed rename must leave both files unchanged")
	}

	expectErr(t, s.Rename(ctx(), "/x", "/x"), metadata.ErrAlreadyExists)
	if readAll(t, s, "/x") != "X" {
		t.Error("renaming a file onto itself must leave it unchanged")
	}
	expectErr(t, s.Rename(ctx(), "/none", "/none"), metadata.ErrNotFound)
}

func testDeleteRecursive(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/a/b/c.txt", "c")
	if err := s.Delete(ctx(), "/a", true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/c.txt"} {
		_, err := s.Stat(ctx(), p)
		expectErr(t, err, metadata.ErrNotFound)
	}
	expectErr(t, s.Delete(ctx(), "/a", true), metadata.ErrNotFound)
}

func testDeleteNonEmpty(t *testing.T, s backends.Storage) {
	mustCreate(t, s, "/d/f", "f")
	expectErr(t, s.Delete(ctx(), "/d", false), metadata.ErrNotEmpty)
	if err := s.Delete(ctx(), "/d/f", false); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if err := s.Delete(ctx(), "/d", false); err != nil {
		t.Fatalf("delete empty dir: %v", err)
	}
}
