// Package syncerr defines the typed filesystem errors produced while
// reconciling a replica tree. Every failure carries a Kind so callers can
// tell a full disk from a permission problem without string matching.
package syncerr

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Kind classifies a filesystem failure.
type Kind int

// Failure kinds.
const (
	IO Kind = iota
	NotADirectory
	AccessDenied
	FileUnreadable
	AlreadyExists
	NotFound
	NotEmpty
	NoSpace
	CouldNotDelete
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case NotADirectory:
		return "not a directory"
	case AccessDenied:
		return "access denied"
	case FileUnreadable:
		return "file unreadable"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	case NotEmpty:
		return "directory not empty"
	case NoSpace:
		return "no space left"
	case CouldNotDelete:
		return "could not delete"
	default:
		return "i/o error"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrIO             = &Error{Kind: IO}
	ErrNotADirectory  = &Error{Kind: NotADirectory}
	ErrAccessDenied   = &Error{Kind: AccessDenied}
	ErrFileUnreadable = &Error{Kind: FileUnreadable}
	ErrAlreadyExists  = &Error{Kind: AlreadyExists}
	ErrNotFound       = &Error{Kind: NotFound}
	ErrNotEmpty       = &Error{Kind: NotEmpty}
	ErrNoSpace        = &Error{Kind: NoSpace}
	ErrCouldNotDelete = &Error{Kind: CouldNotDelete}
)

// Error is a filesystem failure on a single path.
type Error struct {
	// Op is the operation that failed (list, hash, mkdir, copy, remove...).
	Op string

	// Path is the path the operation was applied to.
	Path string

	// Kind classifies the failure.
	Kind Kind

	// Cause is the underlying classification for CouldNotDelete errors.
	Cause Kind

	// Err is the wrapped error.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == CouldNotDelete && e.Cause != IO {
		msg = fmt.Sprintf("%s (%s)", msg, e.Cause)
	}
	if e.Op != "" && e.Path != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind. A CouldNotDelete
// error also matches the sentinel of its cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Path != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == CouldNotDelete && t.Kind == e.Cause
}

// New wraps err for op on path, classifying it from the error value.
// A nil err returns nil.
func New(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, Path: path, Kind: Classify(err), Err: err}
}

// As wraps err with an explicit kind, ignoring the classification of err.
func As(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// Deletion wraps a failed removal as CouldNotDelete, keeping the
// classified cause.
func Deletion(op, path string, err error) error {
	if err == nil {
		return nil
	}
	cause := KindOf(err)
	return &Error{Op: op, Path: path, Kind: CouldNotDelete, Cause: cause, Err: err}
}

// KindOf returns the kind carried by err, classifying plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Classify maps an OS error to a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return IO
	case errors.Is(err, unix.ENOTDIR):
		return NotADirectory
	// ENOTEMPTY also satisfies fs.ErrExist, so it is checked first.
	case errors.Is(err, unix.ENOTEMPTY):
		return NotEmpty
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EDQUOT):
		return NoSpace
	case errors.Is(err, fs.ErrPermission):
		return AccessDenied
	case errors.Is(err, fs.ErrExist):
		return AlreadyExists
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	default:
		return IO
	}
}
