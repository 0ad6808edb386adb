package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

// RootUser bypasses every permission check.
const RootUser = "root"

// EntryLookup resolves the entry a permission check applies to.
type EntryLookup interface {
	Stat(ctx context.Context, path string) (*metadata.Entry, error)
}

// PermissionAuthorizer checks the owner and other bits of an entry's octal
// permission string. There is no group membership model, so group bits are
// never consulted.
type PermissionAuthorizer struct {
	lookup EntryLookup
}

// NewPermissionAuthorizer creates an authorizer backed by lookup.
func NewPermissionAuthorizer(lookup EntryLookup) *PermissionAuthorizer {
	return &PermissionAuthorizer{lookup: lookup}
}

// Authorize checks if a user has the specified permission for a path.
// Reads of missing paths are allowed so the operation itself reports not
// found; writes to missing paths need write access on the nearest existing
// ancestor; deletes need write access on the parent directory.
func (a *PermissionAuthorizer) Authorize(ctx context.Context, userID string, path string, perm PermissionType) error {
	if userID == RootUser {
		return nil
	}

	if perm == DeletePerm {
		if path == pathutil.Root {
			return ErrPermissionDenied
		}
		return a.authorizeExisting(ctx, userID, pathutil.Parent(path), WritePerm)
	}

	entry, err := a.lookup.Stat(ctx, path)
	if err != nil {
		if !errors.Is(err, metadata.ErrNotFound) {
			return fmt.Errorf("failed to get entry for authorization: %w", err)
		}
		if perm == ReadPerm {
			return nil
		}
		return a.authorizeExisting(ctx, userID, pathutil.Parent(path), perm)
	}

	return checkBits(entry, userID, perm)
}

// authorizeExisting walks up from path to the first entry that exists and checks it.
func (a *PermissionAuthorizer) authorizeExisting(ctx context.Context, userID, path string, perm PermissionType) error {
	for {
		entry, err := a.lookup.Stat(ctx, path)
		if err == nil {
			return checkBits(entry, userID, perm)
		}
		if !errors.Is(err, metadata.ErrNotFound) {
			return fmt.Errorf("failed to get parent entry for authorization: %w", err)
		}
		if path == pathutil.Root {
			// An empty namespace has no root entry to consult.
			return nil
		}
		path = pathutil.Parent(path)
	}
}

func checkBits(entry *metadata.Entry, userID string, perm PermissionType) error {
	mode, err := strconv.ParseUint(entry.Permission, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid permission format %q on %s", entry.Permission, entry.Path)
	}

	bits := mode & 7
	if entry.Owner == userID {
		bits = mode >> 6 & 7
	}

	var want uint64
	switch perm {
	case ReadPerm:
		want = 4
	default:
		want = 2
	}

	if bits&want == 0 {
		return ErrPermissionDenied
	}
	return nil
}
