// Package memory implements an in-process namespace store. Nodes are kept in a
// flat map keyed by absolute path, so every lookup is a single map access and
// subtree operations scan by prefix.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

type node struct {
	entry metadata.Entry
	data  []byte
}

// Store implements backends.Storage in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*node
	now   func() time.Time
}

// New creates an empty store containing only the root directory.
func New() *Store {
	s := &Store{
		nodes: make(map[string]*node),
		now:   time.Now,
	}
	s.nodes[pathutil.Root] = s.newDir(context.Background(), pathutil.Root)
	return s
}

func (s *Store) newDir(ctx context.Context, path string) *node {
	now := s.now()
	return &node{entry: metadata.Entry{
		Name:       pathutil.Base(path),
		Path:       path,
		Type:       metadata.TypeDirectory,
		Owner:      metadata.PrincipalFromContext(ctx),
		Group:      metadata.DefaultGroup,
		Permission: metadata.DefaultDirPermission,
		ModTime:    now,
		AccessTime: now,
	}}
}

// ListDirectory returns the immediate children of a directory, sorted by name
func (s *Store) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, ok := s.nodes[path]
	if !ok || !dir.entry.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "directory %s", path)
	}

	var children []*metadata.Entry
	for p, n := range s.nodes {
		if p != pathutil.Root && pathutil.Parent(p) == path {
			children = append(children, n.entry.Clone())
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

// CreateDirectory creates a directory and any missing ancestors
func (s *Store) CreateDirectory(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mkdirAll(ctx, path)
}

// mkdirAll must be called with the write lock held.
func (s *Store) mkdirAll(ctx context.Context, path string) error {
	chain := append(pathutil.Ancestors(path), path)
	for _, p := range chain {
		if n, ok := s.nodes[p]; ok {
			if !n.entry.IsDir() {
				return metadata.Errorf(metadata.ErrAlreadyExists, "%s exists and is a file", p)
			}
		}
	}
	for _, p := range chain {
		if _, ok := s.nodes[p]; !ok {
			s.nodes[p] = s.newDir(ctx, p)
		}
	}
	return nil
}

// Create writes a new file, creating missing parent directories
func (s *Store) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[path]; ok {
		if existing.entry.IsDir() {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", path)
		}
		if !overwrite {
			return metadata.Errorf(metadata.ErrAlreadyExists, "file %s", path)
		}
		s.setData(existing, data)
		return nil
	}

	if err := s.mkdirAll(ctx, pathutil.Parent(path)); err != nil {
		return err
	}

	now := s.now()
	s.nodes[path] = &node{
		entry: metadata.Entry{
			Name:       pathutil.Base(path),
			Path:       path,
			Length:     int64(len(data)),
			Type:       metadata.TypeFile,
			Owner:      metadata.PrincipalFromContext(ctx),
			Group:      metadata.DefaultGroup,
			Permission: metadata.DefaultFilePermission,
			ModTime:    now,
			AccessTime: now,
		},
		data: data,
	}
	return nil
}

func (s *Store) setData(n *node, data []byte) {
	n.data = data
	n.entry.Length = int64(len(data))
	n.entry.ModTime = s.now()
}

// Append adds content after the current end of an existing file
func (s *Store) Append(ctx context.Context, path string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.file(path)
	if err != nil {
		return err
	}
	s.setData(n, append(n.data[:len(n.data):len(n.data)], data...))
	return nil
}

// file must be called with a lock held.
func (s *Store) file(path string) (*node, error) {
	n, ok := s.nodes[path]
	if !ok {
		return nil, metadata.Errorf(metadata.ErrNotFound, "file %s", path)
	}
	if n.entry.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}
	return n, nil
}

// Open opens a file for sequential reading
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.file(path)
	if err != nil {
		return nil, err
	}
	n.entry.AccessTime = s.now()
	// Appends always reallocate past len, so this slice stays a stable snapshot.
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

// Stat returns the entry for a file or directory
func (s *Store) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, metadata.Errorf(metadata.ErrNotFound, "%s", path)
	}
	return n.entry.Clone(), nil
}

// SetPermission replaces the octal permission string of a node
func (s *Store) SetPermission(ctx context.Context, path string, permission string) error {
	if err := metadata.ValidatePermission(permission); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return metadata.Errorf(metadata.ErrNotFound, "%s", path)
	}
	n.entry.Permission = permission
	return nil
}

// Concat replaces target with the contents of sources in order and removes the sources
func (s *Store) Concat(ctx context.Context, target string, sources []string) error {
	if len(sources) == 0 {
		return metadata.Errorf(metadata.ErrInvalidArgument, "no sources to concatenate into %s", target)
	}
	if len(pathutil.SortedUnique(sources...)) != len(sources) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "duplicate concat sources")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, src := range sources {
		n, err := s.file(src)
		if err != nil {
			return err
		}
		buf.Write(n.data)
	}

	if existing, ok := s.nodes[target]; ok && existing.entry.IsDir() {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", target)
	}
	if err := s.mkdirAll(ctx, pathutil.Parent(target)); err != nil {
		return err
	}

	for _, src := range sources {
		if src != target {
			delete(s.nodes, src)
		}
	}

	if existing, ok := s.nodes[target]; ok {
		s.setData(existing, buf.Bytes())
		return nil
	}
	now := s.now()
	s.nodes[target] = &node{
		entry: metadata.Entry{
			Name:       pathutil.Base(target),
			Path:       target,
			Length:     int64(buf.Len()),
			Type:       metadata.TypeFile,
			Owner:      metadata.PrincipalFromContext(ctx),
			Group:      metadata.DefaultGroup,
			Permission: metadata.DefaultFilePermission,
			ModTime:    now,
			AccessTime: now,
		},
		data: buf.Bytes(),
	}
	return nil
}

// Rename moves a file or directory together with its subtree
func (s *Store) Rename(ctx context.Context, source, destination string) error {
	if source == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot rename the root directory")
	}
	// Renaming onto itself falls through to the existing-destination check.
	if destination != source && pathutil.IsWithin(destination, source) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot move %s beneath itself", source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[source]; !ok {
		return metadata.Errorf(metadata.ErrNotFound, "%s", source)
	}
	if _, ok := s.nodes[destination]; ok {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s", destination)
	}
	parent, ok := s.nodes[pathutil.Parent(destination)]
	if !ok || !parent.entry.IsDir() {
		return metadata.Errorf(metadata.ErrNotFound, "destination parent %s", pathutil.Parent(destination))
	}

	moved := make(map[string]*node)
	for p, n := range s.nodes {
		if pathutil.IsWithin(p, source) {
			moved[pathutil.Rebase(p, source, destination)] = n
			delete(s.nodes, p)
		}
	}
	now := s.now()
	for p, n := range moved {
		n.entry.Path = p
		n.entry.Name = pathutil.Base(p)
		if p == destination {
			n.entry.ModTime = now
		}
		s.nodes[p] = n
	}
	return nil
}

// Delete removes a node. Non-empty directories require recursive.
func (s *Store) Delete(ctx context.Context, path string, recursive bool) error {
	if path == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot delete the root directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return metadata.Errorf(metadata.ErrNotFound, "%s", path)
	}

	if n.entry.IsDir() {
		var descendants []string
		for p := range s.nodes {
			if p != path && pathutil.IsWithin(p, path) {
				descendants = append(descendants, p)
			}
		}
		if len(descendants) > 0 && !recursive {
			return metadata.Errorf(metadata.ErrNotEmpty, "%s", path)
		}
		for _, p := range descendants {
			delete(s.nodes, p)
		}
	}
	delete(s.nodes, path)
	return nil
}

// Close is a no-op for the memory store
func (s *Store) Close() error {
	return nil
}
