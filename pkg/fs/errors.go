package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// Kind classifies a filesystem failure independently of the backend that
// produced it.
//
// Both [Mem] and [Real] report failures as [*Error] values carrying a Kind,
// so callers can branch on the kind without knowing which backend they run
// against:
//
//	err := fsys.RemoveDir("/a")
//	if errors.Is(err, fs.ErrDirectoryNotEmpty) {
//	    err = fsys.RemoveDirAll("/a")
//	}
type Kind uint8

const (
	// KindOther is used for failures outside the taxonomy (for example EIO
	// from the OS, or any error not produced by this package).
	KindOther Kind = iota
	// KindNotFound: the path does not resolve to an existing node.
	KindNotFound
	// KindAlreadyExists: a create-type operation targets an existing path.
	KindAlreadyExists
	// KindNotADirectory: a directory was required but something else was found.
	KindNotADirectory
	// KindNotAFile: a file was required but something else was found.
	KindNotAFile
	// KindDirectoryNotEmpty: non-recursive removal of a populated directory.
	KindDirectoryNotEmpty
	// KindPermissionDenied: mutation of a readonly target (or read of an
	// unreadable file).
	KindPermissionDenied
	// KindInvalidPath: malformed path, including symlink cycles.
	KindInvalidPath
	// KindTypeMismatch: rename across incompatible node kinds.
	KindTypeMismatch
)

var kindNames = [...]string{
	KindOther:             "other",
	KindNotFound:          "not found",
	KindAlreadyExists:     "already exists",
	KindNotADirectory:     "not a directory",
	KindNotAFile:          "not a file",
	KindDirectoryNotEmpty: "directory not empty",
	KindPermissionDenied:  "permission denied",
	KindInvalidPath:       "invalid path",
	KindTypeMismatch:      "type mismatch",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinel errors, one per [Kind]. Use them with [errors.Is]:
//
//	if errors.Is(err, fs.ErrNotFound) { ... }
//
// An [*Error] matches the sentinel of its Kind.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrNotAFile          = errors.New("not a file")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidPath       = errors.New("invalid path")
	ErrTypeMismatch      = errors.New("type mismatch")
)

var kindSentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindAlreadyExists:     ErrAlreadyExists,
	KindNotADirectory:     ErrNotADirectory,
	KindNotAFile:          ErrNotAFile,
	KindDirectoryNotEmpty: ErrDirectoryNotEmpty,
	KindPermissionDenied:  ErrPermissionDenied,
	KindInvalidPath:       ErrInvalidPath,
	KindTypeMismatch:      ErrTypeMismatch,
}

// Error is the uniform error type returned by every [FS] operation of [Mem]
// and [Real].
//
// Err holds the low-level cause: the [syscall.Errno] the kernel reports (or,
// for [Mem], would report) for the failure. Since [syscall.Errno] implements
// Is for the io/fs sentinels, both of these work:
//
//	errors.Is(err, fs.ErrNotFound)
//	errors.Is(err, iofs.ErrNotExist)
//
// Use [errors.As] to get at the operation and path:
//
//	var fsErr *fs.Error
//	if errors.As(err, &fsErr) {
//	    fmt.Println(fsErr.Op, fsErr.Path, fsErr.Kind)
//	}
type Error struct {
	// Op is the operation name, e.g. "createdir" or "rename".
	Op string
	// Path is the (first) path the operation was called with.
	Path string
	// Dest is the second path for two-path operations (rename, copy, symlink).
	Dest string
	// Kind classifies the failure.
	Kind Kind
	// Err is the underlying cause.
	Err error
}

// Error formats as "<op> <path>[ -> <dest>]: <cause>".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	target := e.Path
	if e.Dest != "" {
		target = e.Path + " -> " + e.Dest
	}

	cause := e.Kind.String()
	if e.Err != nil {
		cause = e.Err.Error()
	}

	return e.Op + " " + target + ": " + cause
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	sentinel, ok := kindSentinels[e.Kind]

	return ok && target == sentinel
}

// KindOf returns the [Kind] of err, or [KindOther] if err is not (and does
// not wrap) an [*Error]. KindOf(nil) is KindOther.
func KindOf(err error) Kind {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Kind
	}

	return KindOther
}

// newError builds an [*Error] whose cause is the errno a kernel reports for
// that kind of failure.
func newError(op, path string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: errno}
}

// withDest sets the destination path and returns e.
func (e *Error) withDest(dest string) *Error {
	e.Dest = dest

	return e
}

// Constructors for the common cases. Each one pairs a [Kind] with the errno a
// Unix kernel returns for the same situation.
func errNotFound(op, path string) *Error {
	return newError(op, path, KindNotFound, unix.ENOENT)
}

func errExist(op, path string) *Error {
	return newError(op, path, KindAlreadyExists, unix.EEXIST)
}

func errNotDir(op, path string) *Error {
	return newError(op, path, KindNotADirectory, unix.ENOTDIR)
}

func errIsDir(op, path string) *Error {
	return newError(op, path, KindNotAFile, unix.EISDIR)
}

func errNotEmpty(op, path string) *Error {
	return newError(op, path, KindDirectoryNotEmpty, unix.ENOTEMPTY)
}

func errPerm(op, path string) *Error {
	return newError(op, path, KindPermissionDenied, unix.EACCES)
}

func errInvalid(op, path string) *Error {
	return newError(op, path, KindInvalidPath, unix.EINVAL)
}

func errLoop(op, path string) *Error {
	return newError(op, path, KindInvalidPath, unix.ELOOP)
}

// decodeText returns data as a string, or an EILSEQ error when data is not
// valid UTF-8.
func decodeText(op, path string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", newError(op, path, KindOther, unix.EILSEQ)
	}

	return string(data), nil
}

// kindForErrno maps an OS errno onto the taxonomy.
func kindForErrno(errno syscall.Errno) Kind {
	switch errno {
	case unix.ENOENT:
		return KindNotFound
	case unix.EEXIST:
		return KindAlreadyExists
	case unix.ENOTDIR:
		return KindNotADirectory
	case unix.EISDIR:
		return KindNotAFile
	case unix.ENOTEMPTY:
		return KindDirectoryNotEmpty
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return KindPermissionDenied
	case unix.ELOOP, unix.EINVAL, unix.ENAMETOOLONG, unix.EBUSY:
		return KindInvalidPath
	default:
		return KindOther
	}
}

// translate converts an error returned by the os package into an [*Error].
//
// The original error is kept as the cause so nothing is lost. translate(nil)
// returns nil.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var fsErr *Error
	if errors.As(err, &fsErr) {
		return err
	}

	kind := KindOther

	var errno syscall.Errno

	switch {
	case errors.As(err, &errno):
		kind = kindForErrno(errno)
	case errors.Is(err, os.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, os.ErrExist):
		kind = KindAlreadyExists
	case errors.Is(err, os.ErrPermission):
		kind = KindPermissionDenied
	case errors.Is(err, os.ErrInvalid):
		kind = KindInvalidPath
	}

	return &Error{Op: op, Path: path, Kind: kind, Err: unwrapPathError(err)}
}

// unwrapPathError strips the *os.PathError / *os.LinkError shell so the
// message is not prefixed twice.
func unwrapPathError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err
	}

	return err
}
