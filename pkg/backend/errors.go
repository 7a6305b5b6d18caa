package backend

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"
)

// Sentinel failures. Implementations wrap these so callers can test with
// errors.Is and map them to protocol status codes.
var (
	ErrNotExist     = errors.New("no such file or directory")
	ErrPermission   = errors.New("permission denied")
	ErrExist        = errors.New("file exists")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNoSpace      = errors.New("no space left on device")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrInvalid      = errors.New("invalid argument")
	ErrNameTooLong  = errors.New("file name too long")
	ErrReadOnly     = errors.New("read-only file system")
	ErrTooBig       = errors.New("file too large")
	ErrCrossDevice  = errors.New("cross-device link")
	ErrTooManyLinks = errors.New("too many links")
	ErrNotSupported = errors.New("operation not supported")
	ErrIO           = errors.New("input/output error")
)

// Error records a failed backend operation. It unwraps to both the
// sentinel kind and the underlying cause.
type Error struct {
	Op    string
	Path  string
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause != e.Kind {
		return e.Op + " " + e.Path + ": " + e.Kind.Error() + ": " + e.Cause.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// NewError builds an *Error of the given kind.
func NewError(op, path string, kind error) error {
	return &Error{Op: op, Path: path, Kind: kind}
}

// FromOS translates an os, io/fs or syscall error into an *Error with the
// matching sentinel kind. nil stays nil; errors already carrying a kind
// are returned unchanged.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Op: op, Path: path, Kind: Kind(err), Cause: err}
}

// Kind classifies err into one of the sentinel failures.
func Kind(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return ErrNotExist
		case syscall.EACCES, syscall.EPERM:
			return ErrPermission
		case syscall.EEXIST:
			return ErrExist
		case syscall.ENOTEMPTY:
			return ErrNotEmpty
		case syscall.ENOSPC, syscall.EDQUOT:
			return ErrNoSpace
		case syscall.ENOTDIR:
			return ErrNotDir
		case syscall.EISDIR:
			return ErrIsDir
		case syscall.EINVAL:
			return ErrInvalid
		case syscall.ENAMETOOLONG:
			return ErrNameTooLong
		case syscall.EROFS:
			return ErrReadOnly
		case syscall.EFBIG:
			return ErrTooBig
		case syscall.EXDEV:
			return ErrCrossDevice
		case syscall.EMLINK:
			return ErrTooManyLinks
		case syscall.ENOSYS, syscall.EOPNOTSUPP:
			return ErrNotSupported
		}
		return ErrIO
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotExist
	case errors.Is(err, fs.ErrInvalid):
		return ErrInvalid
	case errors.Is(err, fs.ErrExist):
		return ErrExist
	case strings.Contains(err.Error(), "not empty"):
		return ErrNotEmpty
	}
	return ErrIO
}
