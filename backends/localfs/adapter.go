// Package localfs stores the namespace as a directory tree on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

// tmpPrefix marks in-progress writes; such files are hidden from listings.
const tmpPrefix = ".hnsfs-tmp-"

// LocalFSAdapter implements the backends.Storage interface for local filesystem
type LocalFSAdapter struct {
	rootPath string
}

// NewLocalFSAdapter creates a new local filesystem adapter
func NewLocalFSAdapter(rootPath string) (*LocalFSAdapter, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root path %s: %w", rootPath, err)
	}

	if _, err := os.Stat(rootPath); err != nil {
		return nil, fmt.Errorf("root path %s is not accessible: %w", rootPath, err)
	}

	return &LocalFSAdapter{
		rootPath: rootPath,
	}, nil
}

type attributes struct {
	permission string
	owner      string
	group      string
	atime      time.Time
}

func defaultAttributes(info os.FileInfo) attributes {
	return attributes{
		permission: fmt.Sprintf("0%o", info.Mode().Perm()),
		owner:      metadata.DefaultOwner,
		group:      metadata.DefaultGroup,
		atime:      info.ModTime(),
	}
}

var (
	userNames  sync.Map
	groupNames sync.Map
)

// lookupUser resolves a numeric uid to a user name, falling back to the number.
func lookupUser(uid string) string {
	if name, ok := userNames.Load(uid); ok {
		return name.(string)
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	}
	userNames.Store(uid, name)
	return name
}

// lookupGroup resolves a numeric gid to a group name, falling back to the number.
func lookupGroup(gid string) string {
	if name, ok := groupNames.Load(gid); ok {
		return name.(string)
	}
	name := gid
	if g, err := user.LookupGroupId(gid); err == nil {
		name = g.Name
	}
	groupNames.Store(gid, name)
	return name
}

func (a *LocalFSAdapter) resolve(path string) (string, error) {
	fullPath, err := pathutil.SafeJoin(a.rootPath, strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", metadata.Errorf(metadata.ErrForbidden, "%s escapes the storage root", path)
	}
	return fullPath, nil
}

func notExist(err error, format string, args ...any) error {
	if errors.Is(err, os.ErrNotExist) {
		return metadata.Errorf(metadata.ErrNotFound, format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// statFile resolves path and requires it to be a regular file.
func (a *LocalFSAdapter) statFile(path string) (string, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", notExist(err, "file %s", path)
	}
	if info.IsDir() {
		return "", metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}
	return fullPath, nil
}

// Open opens a file for reading
func (a *LocalFSAdapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.statFile(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, notExist(err, "failed to open file %s", path)
	}
	return file, nil
}

// mkdirAll creates path and its ancestors, refusing to descend through files.
func (a *LocalFSAdapter) mkdirAll(path string) error {
	for _, p := range append(pathutil.Ancestors(path), path) {
		fullPath, err := a.resolve(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(fullPath)
		if err == nil {
			if !info.IsDir() {
				return metadata.Errorf(metadata.ErrAlreadyExists, "%s exists and is a file", p)
			}
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if err := os.Mkdir(fullPath, 0755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create directory %s: %w", p, err)
		}
	}
	return nil
}

// writeTemp streams reader into a hidden file next to fullPath and returns its name.
func writeTemp(fullPath string, readers ...io.Reader) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	for _, r := range readers {
		if _, err := io.Copy(tmp, r); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("failed to write file content: %w", err)
		}
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temporary file: %w", err)
	}
	return tmp.Name(), nil
}

// Create creates a new file with content from the reader. Overwrites replace
// the file through a rename, so readers never observe partial content.
func (a *LocalFSAdapter) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	fullPath, err := a.resolve(path)
	if err != nil {
		return err
	}

	if info, err := os.Stat(fullPath); err == nil && info.IsDir() {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", path)
	}

	if err := a.mkdirAll(pathutil.Parent(path)); err != nil {
		return err
	}

	if overwrite {
		tmpName, err := writeTemp(fullPath, reader)
		if err != nil {
			return err
		}
		if err := os.Rename(tmpName, fullPath); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
		return nil
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return metadata.Errorf(metadata.ErrAlreadyExists, "file %s", path)
		}
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		// Clean up partially created file
		os.Remove(fullPath)
		return fmt.Errorf("failed to write file content: %w", err)
	}
	return nil
}

// Append adds content after the current end of an existing file
func (a *LocalFSAdapter) Append(ctx context.Context, path string, reader io.Reader) error {
	fullPath, err := a.statFile(path)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return notExist(err, "failed to open file for append %s", path)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to append file content: %w", err)
	}
	return nil
}

// Delete removes a file or directory. Non-empty directories require recursive.
func (a *LocalFSAdapter) Delete(ctx context.Context, path string, recursive bool) error {
	if path == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot delete the root directory")
	}

	fullPath, err := a.resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return notExist(err, "%s", path)
	}

	if info.IsDir() {
		children, err := os.ReadDir(fullPath)
		if err != nil {
			return fmt.Errorf("failed to read directory %s: %w", path, err)
		}
		if len(children) > 0 {
			if !recursive {
				return metadata.Errorf(metadata.ErrNotEmpty, "%s", path)
			}
			if err := os.RemoveAll(fullPath); err != nil {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
			return nil
		}
	}

	if err := os.Remove(fullPath); err != nil {
		return notExist(err, "failed to delete %s", path)
	}
	return nil
}

// Stat returns the entry for a file or directory
func (a *LocalFSAdapter) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, notExist(err, "%s", path)
	}
	return toEntry(path, info), nil
}

func toEntry(path string, info os.FileInfo) *metadata.Entry {
	attrs := fileAttributes(info)
	e := &metadata.Entry{
		Name:       pathutil.Base(path),
		Path:       path,
		Type:       metadata.TypeFile,
		Length:     info.Size(),
		Owner:      attrs.owner,
		Group:      attrs.group,
		Permission: attrs.permission,
		ModTime:    info.ModTime(),
		AccessTime: attrs.atime,
	}
	if info.IsDir() {
		e.Type = metadata.TypeDirectory
		e.Length = 0
	}
	return e
}

// ListDirectory returns the entries of all children of a directory
func (a *LocalFSAdapter) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, notExist(err, "directory %s", path)
	}
	if !info.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "directory %s", path)
	}

	// os.ReadDir returns entries sorted by filename
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, notExist(err, "failed to read directory %s", path)
	}

	children := make([]*metadata.Entry, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}
		childInfo, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		children = append(children, toEntry(pathutil.Join(path, entry.Name()), childInfo))
	}
	return children, nil
}

// CreateDirectory creates a directory and any missing ancestors
func (a *LocalFSAdapter) CreateDirectory(ctx context.Context, path string) error {
	return a.mkdirAll(path)
}

// SetPermission applies an octal permission string with chmod
func (a *LocalFSAdapter) SetPermission(ctx context.Context, path string, permission string) error {
	if err := metadata.ValidatePermission(permission); err != nil {
		return err
	}
	bits, err := strconv.ParseUint(permission, 8, 32)
	if err != nil {
		return metadata.Errorf(metadata.ErrInvalidArgument, "permission %q", permission)
	}

	fullPath, err := a.resolve(path)
	if err != nil {
		return err
	}

	mode := os.FileMode(bits & 0777)
	if bits&01000 != 0 {
		mode |= os.ModeSticky
	}
	if bits&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if bits&04000 != 0 {
		mode |= os.ModeSetuid
	}

	if err := os.Chmod(fullPath, mode); err != nil {
		return notExist(err, "failed to chmod %s", path)
	}
	return nil
}

// Concat writes the sources into target through a temporary file, then removes the sources
func (a *LocalFSAdapter) Concat(ctx context.Context, target string, sources []string) error {
	if len(sources) == 0 {
		return metadata.Errorf(metadata.ErrInvalidArgument, "no sources to concatenate into %s", target)
	}
	if len(pathutil.SortedUnique(sources...)) != len(sources) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "duplicate concat sources")
	}

	sourcePaths := make([]string, 0, len(sources))
	for _, src := range sources {
		fullPath, err := a.statFile(src)
		if err != nil {
			return err
		}
		sourcePaths = append(sourcePaths, fullPath)
	}

	targetPath, err := a.resolve(target)
	if err != nil {
		return err
	}
	if info, err := os.Stat(targetPath); err == nil && info.IsDir() {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", target)
	}
	if err := a.mkdirAll(pathutil.Parent(target)); err != nil {
		return err
	}

	files := make([]*os.File, 0, len(sourcePaths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	readers := make([]io.Reader, 0, len(sourcePaths))
	for i, p := range sourcePaths {
		f, err := os.Open(p)
		if err != nil {
			return notExist(err, "file %s", sources[i])
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	tmpName, err := writeTemp(targetPath, readers...)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, targetPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	for i, p := range sourcePaths {
		if sources[i] == target {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove source %s: %w", sources[i], err)
		}
	}
	return nil
}

// Rename moves a file or directory. The destination must not exist.
func (a *LocalFSAdapter) Rename(ctx context.Context, source, destination string) error {
	if source == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot rename the root directory")
	}
	// Renaming onto itself falls through to the existing-destination check.
	if destination != source && pathutil.IsWithin(destination, source) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot move %s beneath itself", source)
	}

	srcPath, err := a.resolve(source)
	if err != nil {
		return err
	}
	dstPath, err := a.resolve(destination)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(srcPath); err != nil {
		return notExist(err, "%s", source)
	}
	if _, err := os.Lstat(dstPath); err == nil {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s", destination)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", destination, err)
	}
	if info, err := os.Stat(filepath.Dir(dstPath)); err != nil || !info.IsDir() {
		return metadata.Errorf(metadata.ErrNotFound, "destination parent %s", pathutil.Parent(destination))
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", source, err)
	}
	return nil
}

// Close closes any resources used by the storage backend
func (a *LocalFSAdapter) Close() error {
	// No resources to close for local filesystem
	return nil
}
