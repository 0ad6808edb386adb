// Package pathutil provides path validation and manipulation for the hnsfs namespace
// and secure joining of namespace paths onto local directories.
package pathutil

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ebogdum/hnsfs/metadata"
)

// Root is the namespace root.
const Root = "/"

// Validate checks that p is a well-formed namespace path: a single leading
// separator, no trailing separator except for the root, no empty, "." or ".."
// segments and no control characters.
func Validate(p string) error {
	if p == "" {
		return metadata.Errorf(metadata.ErrInvalidArgument, "path is empty")
	}
	if !strings.HasPrefix(p, "/") {
		return metadata.Errorf(metadata.ErrInvalidArgument, "path %q is not absolute", p)
	}
	if p == Root {
		return nil
	}
	if strings.HasSuffix(p, "/") {
		return metadata.Errorf(metadata.ErrInvalidArgument, "path %q has a trailing separator", p)
	}

	for _, char := range p {
		if char < 32 || char == 0x7f {
			return metadata.Errorf(metadata.ErrInvalidArgument, "path contains control characters")
		}
	}

	for _, segment := range strings.Split(p[1:], "/") {
		switch segment {
		case "":
			return metadata.Errorf(metadata.ErrInvalidArgument, "path %q has an empty segment", p)
		case ".", "..":
			return metadata.Errorf(metadata.ErrInvalidArgument, "path %q contains a relative segment", p)
		}
	}
	return nil
}

// Parent returns the parent of a validated path. The parent of the root is the root.
func Parent(p string) string {
	if p == Root {
		return Root
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

// Base returns the last segment of a validated path, "/" for the root.
func Base(p string) string {
	if p == Root {
		return Root
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// Join constructs a child path from parent + name.
func Join(parent, name string) string {
	if parent == Root {
		return Root + name
	}
	return parent + "/" + name
}

// Ancestors returns every proper ancestor of p from the root down, excluding p itself.
func Ancestors(p string) []string {
	var out []string
	for cur := Parent(p); ; cur = Parent(cur) {
		out = append(out, cur)
		if cur == Root {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// IsWithin reports whether p equals ancestor or lies beneath it.
func IsWithin(p, ancestor string) bool {
	if ancestor == Root || p == ancestor {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Rebase moves p from under oldPrefix to under newPrefix. p must be within
// oldPrefix and neither prefix may be the root.
func Rebase(p, oldPrefix, newPrefix string) string {
	if p == oldPrefix {
		return newPrefix
	}
	return newPrefix + p[len(oldPrefix):]
}

// SortedUnique returns the distinct paths in lexical order. Lock managers take
// multi-path locks in this order.
func SortedUnique(paths ...string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clean sanitizes a relative path to prevent directory traversal.
// The result always starts with "/" and never climbs above it.
func Clean(path string) (string, error) {
	if path == "" {
		return "/", nil
	}

	// Reject absolute paths that might escape root
	if filepath.IsAbs(path) && path != "/" {
		return "", metadata.ErrForbidden
	}

	cleaned := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	if !strings.HasPrefix(cleaned, "/") {
		return "", metadata.ErrForbidden
	}
	if cleaned == "/" {
		return cleaned, nil
	}

	// Simulate resolution so "a/../../x" is rejected rather than clamped to "/x"
	depth := 0
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			depth--
			if depth < 0 {
				return "", metadata.ErrForbidden
			}
		} else {
			depth++
		}
	}

	return cleaned, nil
}

// SafeJoin joins a root directory with a relative path, ensuring the result
// (after resolving symlinks where possible) stays within root.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)

	cleanRel, err := Clean(rel)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(cleanRoot, strings.TrimPrefix(cleanRel, "/"))

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// The target may not exist yet; check the deepest directory that does.
		dir := filepath.Dir(joined)
		if dir != cleanRoot {
			if resolvedDir, dirErr := filepath.EvalSymlinks(dir); dirErr == nil {
				if !within(cleanRoot, resolvedDir) {
					return "", metadata.ErrForbidden
				}
			}
		}
		if !within(cleanRoot, joined) {
			return "", metadata.ErrForbidden
		}
		return joined, nil
	}

	if !within(cleanRoot, resolved) {
		return "", metadata.ErrForbidden
	}
	return joined, nil
}

func within(root, target string) bool {
	candidates := []string{root}
	if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil && resolvedRoot != root {
		candidates = append(candidates, resolvedRoot)
	}
	for _, base := range candidates {
		rel, err := filepath.Rel(base, target)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return true
		}
	}
	return false
}
