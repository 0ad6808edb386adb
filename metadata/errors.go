package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors. Backends return these directly; the client wraps transport
// failures in *RemoteError, which still matches them through errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("access forbidden")
	ErrNotEmpty        = errors.New("directory not empty")
)

// Kind classifies a failure so callers can branch on it.
type Kind int

const (
	KindOther Kind = iota
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindInvalidState
	KindUnauthorized
	KindForbidden
	KindNotEmpty
)

var kindInfo = map[Kind]struct {
	sentinel  error
	code      string
	exception string
}{
	KindOther:           {nil, "INTERNAL_ERROR", "RuntimeException"},
	KindInvalidArgument: {ErrInvalidArgument, "INVALID_ARGUMENT", "IllegalArgumentException"},
	KindNotFound:        {ErrNotFound, "FILE_NOT_FOUND", "FileNotFoundException"},
	KindAlreadyExists:   {ErrAlreadyExists, "FILE_ALREADY_EXISTS", "FileAlreadyExistsException"},
	KindInvalidState:    {ErrInvalidState, "INVALID_STATE", "IllegalStateException"},
	KindUnauthorized:    {ErrUnauthorized, "AUTHENTICATION_FAILED", "AuthenticationException"},
	KindForbidden:       {ErrForbidden, "PERMISSION_DENIED", "AccessControlException"},
	KindNotEmpty:        {ErrNotEmpty, "DIRECTORY_NOT_EMPTY", "PathIsNotEmptyDirectoryException"},
}

func (k Kind) String() string {
	return strings.ToLower(strings.ReplaceAll(k.Code(), "_", " "))
}

// Code is the machine-readable error code used on the wire.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[KindOther].code
}

// ExceptionName is the remote exception classification reported for the kind.
func (k Kind) ExceptionName() string {
	if info, ok := kindInfo[k]; ok {
		return info.exception
	}
	return kindInfo[KindOther].exception
}

// Sentinel returns the error value matching the kind, nil for KindOther.
func (k Kind) Sentinel() error {
	return kindInfo[k].sentinel
}

// KindFromCode is the inverse of Kind.Code. Unknown codes map to KindOther.
func KindFromCode(code string) Kind {
	for k, info := range kindInfo {
		if info.code == code {
			return k
		}
	}
	return KindOther
}

// KindOf classifies err. A *RemoteError reports its own kind; anything else is
// matched against the sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	for _, k := range []Kind{
		KindInvalidArgument, KindNotFound, KindAlreadyExists, KindInvalidState,
		KindUnauthorized, KindForbidden, KindNotEmpty,
	} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return KindOther
}

// Errorf formats a message and wraps sentinel so errors.Is keeps working.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// RemoteError describes a failed exchange with the store.
type RemoteError struct {
	Message                string
	StatusCode             int
	RemoteExceptionName    string
	RemoteExceptionMessage string
	RequestID              string
	Kind                   Kind
	Err                    error
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Message)
	fmt.Fprintf(&b, " (kind=%s", e.Kind.Code())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.RemoteExceptionName != "" {
		fmt.Fprintf(&b, " exception=%s", e.RemoteExceptionName)
	}
	fmt.Fprintf(&b, " request_id=%s)", e.RequestID)
	if e.RemoteExceptionMessage != "" {
		b.WriteString(": ")
		b.WriteString(e.RemoteExceptionMessage)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) succeed for a RemoteError of KindNotFound
// even when the remote failure arrived without a Go cause.
func (e *RemoteError) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}
