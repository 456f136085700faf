// Package fs provides a filesystem contract with interchangeable backends.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [Real]: production implementation using the [os] package
//   - [Mem]: in-memory implementation for deterministic, side-effect-free tests
//   - [Chaos]: testing wrapper that injects random failures
//   - [Traced]: wrapper that records a bounded trace of operations
//   - [TempDir]: guard that removes a temporary directory when closed
//
// Code written against [FS] runs unmodified on every backend. Failures are
// always reported as [*Error] values classified by [Kind], regardless of the
// backend:
//
//	fsys := fs.NewMem(fs.Options{})
//	if err := fsys.CreateDirAll("/project/src"); err != nil {
//	    return err
//	}
//
//	err := fsys.CreateFile("/project/src/main.go", []byte("package main\n"))
//	if errors.Is(err, fs.ErrAlreadyExists) {
//	    // ...
//	}
package fs

import (
	"io"
	iofs "io/fs"

	"github.com/rs/zerolog"
)

// Default permissions for new nodes. The OS applies the process umask on top
// of these for [Real].
const (
	dirPerm  iofs.FileMode = 0o755
	filePerm iofs.FileMode = 0o644

	// writeBits are the bits that make a node writable. A node without any of
	// them is readonly.
	writeBits iofs.FileMode = 0o222
	// readBits are the bits that make a file readable.
	readBits iofs.FileMode = 0o444
)

// FS defines the filesystem operations shared by every backend.
//
// Implementations in this package include:
//   - [Real]: production use, wraps [os]
//   - [Mem]: testing use, simulated tree in memory
//   - [Chaos]: testing use, injects random failures into another FS
//   - [Traced]: records operations of another FS
//
// Relative paths are resolved against [FS.CurrentDir]. Paths use forward
// slashes.
//
// Operations that act on "the path" follow a trailing symlink unless the
// method doc says otherwise. Methods that fail return an [*Error].
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Each call is atomic with respect to other calls on the same [Mem]; [Real]
// inherits whatever the OS guarantees.
type FS interface {
	// CurrentDir returns the working directory used for relative paths.
	CurrentDir() (string, error)

	// SetCurrentDir changes the working directory. The path must resolve to
	// an existing directory.
	SetCurrentDir(path string) error

	// IsDir reports whether path resolves (following symlinks) to a
	// directory. Missing paths report false.
	IsDir(path string) bool

	// IsFile reports whether path resolves (following symlinks) to a regular
	// file. Missing paths report false.
	IsFile(path string) bool

	// CreateDir creates a single directory. The parent must exist and the
	// path must not.
	CreateDir(path string) error

	// CreateDirAll creates a directory and all missing parents. No error if
	// the directory already exists.
	CreateDirAll(path string) error

	// CreateFile creates a new file with the given content. Fails with
	// [ErrAlreadyExists] if the path exists.
	CreateFile(path string, data []byte) error

	// WriteFile creates or truncates a file and writes data to it.
	WriteFile(path string, data []byte) error

	// OverwriteFile replaces the content of an existing file. Fails with
	// [ErrNotFound] if it does not exist.
	OverwriteFile(path string, data []byte) error

	// ReadFile returns the content of a file.
	ReadFile(path string) ([]byte, error)

	// ReadFileToString returns the content of a file as a string. Content
	// that is not valid UTF-8 fails with EILSEQ; use ReadFile for binary data.
	ReadFileToString(path string) (string, error)

	// ReadFileInto copies the content of a file to w and returns the number
	// of bytes written.
	ReadFileInto(path string, w io.Writer) (int64, error)

	// RemoveFile removes a file or a symlink (the link itself, never its
	// target). Directories are rejected with [ErrNotAFile].
	RemoveFile(path string) error

	// RemoveDir removes an empty directory.
	RemoveDir(path string) error

	// RemoveDirAll removes a directory and everything below it. Unlike
	// [os.RemoveAll] a missing path is an error.
	RemoveDirAll(path string) error

	// Rename moves from to to, replacing to if allowed. Symlinks are renamed
	// themselves, not their targets.
	Rename(from, to string) error

	// Copy copies the content and mode of the file from to to.
	Copy(from, to string) error

	// Symlink creates a symlink at link pointing to target. The target is
	// stored verbatim and is not required to exist.
	Symlink(target, link string) error

	// Readlink returns the target stored in the symlink at path.
	Readlink(path string) (string, error)

	// ReadDir returns a reader over the entries of a directory.
	ReadDir(path string) (DirReader, error)

	// Len returns the size of a file in bytes, or 0 for anything that is not
	// an existing file.
	Len(path string) int64

	// Mode returns the permission bits.
	Mode(path string) (iofs.FileMode, error)

	// SetMode replaces the permission bits.
	SetMode(path string, perm iofs.FileMode) error

	// Readonly reports whether no write bit is set.
	Readonly(path string) (bool, error)

	// SetReadonly clears (readonly=true) or sets (readonly=false) all write
	// bits.
	SetReadonly(path string, readonly bool) error

	// TempDir creates a uniquely named directory and returns a guard that
	// removes it on [TempDir.Close].
	TempDir(prefix string) (*TempDir, error)
}

// Options configures [NewMem] and [NewReal].
//
// The zero value is usable.
type Options struct {
	// Logger receives diagnostics (for example a failed temp dir cleanup).
	// Defaults to a disabled logger.
	Logger *zerolog.Logger

	// TempRoot is the directory under which [FS.TempDir] creates
	// directories. Defaults to "/tmp" for [Mem] and [os.TempDir] for [Real].
	TempRoot string
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}

	return *o.Logger
}

// readonlyPerm reports whether perm has no write bit set.
func readonlyPerm(perm iofs.FileMode) bool {
	return perm&writeBits == 0
}

// withReadonly returns perm with all write bits cleared or set.
func withReadonly(perm iofs.FileMode, readonly bool) iofs.FileMode {
	if readonly {
		return perm &^ writeBits
	}

	return perm | writeBits
}
