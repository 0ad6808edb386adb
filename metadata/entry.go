// Package metadata defines the value types shared by the hnsfs client, transports,
// backends and server: namespace entries, create policies and the error kinds every
// layer reports.
package metadata

import (
	"regexp"
	"time"
)

// EntryType distinguishes files from directories.
type EntryType string

const (
	TypeFile      EntryType = "FILE"
	TypeDirectory EntryType = "DIRECTORY"
)

// Entry is a point-in-time snapshot of one namespace node.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Length     int64     `json:"length"` // 0 for directories
	Type       EntryType `json:"type"`
	Owner      string    `json:"owner"`
	Group      string    `json:"group"`
	Permission string    `json:"permission"` // octal, e.g. "0755" or "744"
	ModTime    time.Time `json:"mtime"`
	AccessTime time.Time `json:"atime"`
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

// Clone returns a copy so callers can never mutate a backend's record.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// IfExists governs file creation when the target already exists.
type IfExists int

const (
	// Overwrite discards any existing content at the path.
	Overwrite IfExists = iota
	// Fail rejects the create with ErrAlreadyExists.
	Fail
)

func (p IfExists) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Default attributes for nodes created without an explicit principal.
const (
	DefaultOwner          = "hnsfs"
	DefaultGroup          = "hnsfs"
	DefaultFilePermission = "0644"
	DefaultDirPermission  = "0755"
)

var permissionPattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// ValidatePermission checks an octal permission string such as "744" or "0644".
func ValidatePermission(permission string) error {
	if !permissionPattern.MatchString(permission) {
		return Errorf(ErrInvalidArgument, "permission %q is not a 3-4 digit octal string", permission)
	}
	return nil
}
