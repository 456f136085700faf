package fs

import (
	"bytes"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// Most methods forward to the [os] package and translate the native error
// into an [*Error]. Where the OS and [Mem] would disagree, Real adds a
// pre-check so callers see the same [Kind] on both backends:
//   - readonly targets are rejected before writing, removing or renaming,
//     even when the process could bypass permissions (e.g. as root)
//   - [Real.RemoveFile] never removes directories
//   - [Real.RemoveDirAll] fails for missing paths
//   - [Real.Rename] reports [ErrTypeMismatch] for dir/file mixes
//
// Relative paths resolve against the process working directory, which
// [Real.SetCurrentDir] changes for the whole process.
type Real struct {
	tempRoot string
	log      zerolog.Logger
}

// NewReal returns a new [Real] filesystem.
func NewReal(opts Options) *Real {
	return &Real{
		tempRoot: opts.TempRoot,
		log:      opts.logger().With().Str("fs", "real").Logger(),
	}
}

func (r *Real) CurrentDir() (string, error) {
	dir, err := os.Getwd()

	return dir, translate("currentdir", ".", err)
}

func (r *Real) SetCurrentDir(path string) error {
	return translate("setcurrentdir", path, os.Chdir(path))
}

func (r *Real) IsDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

func (r *Real) IsFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

func (r *Real) CreateDir(path string) error {
	return translate("createdir", path, os.Mkdir(path, dirPerm))
}

// CreateDirAll wraps [os.MkdirAll]. Unlike [Mem.CreateDirAll], directories
// created before a failure are left in place.
func (r *Real) CreateDirAll(path string) error {
	return translate("createdirall", path, os.MkdirAll(path, dirPerm))
}

func (r *Real) CreateFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return translate("createfile", path, err)
	}

	_, err = f.Write(data)

	return translate("createfile", path, errors.Join(err, f.Close()))
}

func (r *Real) WriteFile(path string, data []byte) error {
	if err := r.checkWritableFile("writefile", path, false); err != nil {
		return err
	}

	return translate("writefile", path, os.WriteFile(path, data, filePerm))
}

func (r *Real) OverwriteFile(path string, data []byte) error {
	if err := r.checkWritableFile("overwritefile", path, true); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return translate("overwritefile", path, err)
	}

	_, err = f.Write(data)

	return translate("overwritefile", path, errors.Join(err, f.Close()))
}

// checkWritableFile fails when path (followed) is a directory or a readonly
// file, or when it is missing and either mustExist is set or the parent is
// readonly.
func (r *Real) checkWritableFile(op, path string, mustExist bool) error {
	info, err := os.Stat(path)

	switch {
	case errors.Is(err, iofs.ErrNotExist):
		if mustExist {
			return errNotFound(op, path)
		}

		if parentReadonly(path) {
			return errPerm(op, path)
		}

		return nil
	case err != nil:
		return translate(op, path, err)
	case info.IsDir():
		return errIsDir(op, path)
	case readonlyPerm(info.Mode()):
		return errPerm(op, path)
	}

	return nil
}

// checkReadableFile fails unless path (followed) is a file with a read bit.
func (r *Real) checkReadableFile(op, path string) (iofs.FileInfo, error) {
	info, err := os.Stat(path)

	switch {
	case err != nil:
		return nil, translate(op, path, err)
	case info.IsDir():
		return nil, errIsDir(op, path)
	case info.Mode().Perm()&readBits == 0:
		return nil, errPerm(op, path)
	}

	return info, nil
}

func (r *Real) ReadFile(path string) ([]byte, error) {
	if _, err := r.checkReadableFile("readfile", path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)

	return data, translate("readfile", path, err)
}

func (r *Real) ReadFileToString(path string) (string, error) {
	data, err := r.ReadFile(path)
	if err != nil {
		return "", err
	}

	return decodeText("readfile", path, data)
}

func (r *Real) ReadFileInto(path string, w io.Writer) (int64, error) {
	if _, err := r.checkReadableFile("readfile", path); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, translate("readfile", path, err)
	}

	defer func() { _ = f.Close() }()

	return io.Copy(w, f)
}

// RemoveFile unlinks path with [unix.Unlink], so a directory is never
// removed.
func (r *Real) RemoveFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return translate("removefile", path, err)
	}

	switch {
	case info.IsDir():
		return errIsDir("removefile", path)
	case parentReadonly(path):
		return errPerm("removefile", path)
	case info.Mode().IsRegular() && readonlyPerm(info.Mode()):
		return errPerm("removefile", path)
	}

	return translate("removefile", path, unix.Unlink(path))
}

func (r *Real) RemoveDir(path string) error {
	if parentReadonly(path) {
		if _, err := os.Lstat(path); err != nil {
			return translate("removedir", path, err)
		}

		return errPerm("removedir", path)
	}

	return translate("removedir", path, unix.Rmdir(path))
}

// RemoveDirAll removes the directory at path and its content. The parent and
// every directory in the subtree must be writable, otherwise nothing is
// removed.
func (r *Real) RemoveDirAll(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return translate("removedirall", path, err)
	}

	if !info.IsDir() {
		return errNotDir("removedirall", path)
	}

	if filepath.Clean(path) == "/" {
		return newError("removedirall", path, KindInvalidPath, unix.EBUSY)
	}

	if parentReadonly(path) {
		return errPerm("removedirall", path)
	}

	if err := readonlyDirBelow("removedirall", path); err != nil {
		return err
	}

	return translate("removedirall", path, os.RemoveAll(path))
}

// Rename wraps rename(2). A destination directory is moved aside before the
// source takes its place and is only removed once the rename succeeded, so
// a failed rename leaves both trees as they were.
func (r *Real) Rename(from, to string) error {
	err := r.rename(from, to)
	if err != nil {
		return withPaths(err, from, to)
	}

	return nil
}

func (r *Real) rename(from, to string) error {
	const op = "rename"

	src, err := os.Lstat(from)
	if err != nil {
		return translate(op, from, err)
	}

	dst, err := os.Lstat(to)

	switch {
	case errors.Is(err, iofs.ErrNotExist):
		dst = nil
	case err != nil:
		return translate(op, to, err)
	}

	if dst != nil && os.SameFile(src, dst) {
		return nil
	}

	if src.IsDir() && isSubpath(from, to) {
		return errInvalid(op, from)
	}

	if dst == nil {
		if parentReadonly(from) || parentReadonly(to) {
			return errPerm(op, from)
		}

		return translate(op, from, unix.Rename(from, to))
	}

	switch {
	case src.IsDir() && !dst.IsDir():
		return newError(op, from, KindTypeMismatch, unix.ENOTDIR)
	case !src.IsDir() && dst.IsDir():
		return newError(op, from, KindTypeMismatch, unix.EISDIR)
	case dst.Mode()&iofs.ModeSymlink == 0 && readonlyPerm(dst.Mode()):
		return errPerm(op, from)
	}

	// Replacing an ancestor of the source would take the source with it.
	if dst.IsDir() && isSubpath(to, from) {
		return errInvalid(op, from)
	}

	if parentReadonly(from) || parentReadonly(to) {
		return errPerm(op, from)
	}

	if !dst.IsDir() {
		return translate(op, from, unix.Rename(from, to))
	}

	if err := readonlyDirBelow(op, to); err != nil {
		return err
	}

	return replaceDir(op, from, to)
}

// replaceDir renames the directory from onto the existing directory to.
// The old destination is parked next to it under a unique name and restored
// if the rename fails.
func replaceDir(op, from, to string) error {
	to = filepath.Clean(to)
	aside := filepath.Join(filepath.Dir(to), "."+filepath.Base(to)+".replaced-"+uuid.NewString())

	if err := unix.Rename(to, aside); err != nil {
		return translate(op, to, err)
	}

	if err := unix.Rename(from, to); err != nil {
		if restoreErr := unix.Rename(aside, to); restoreErr != nil {
			return translate(op, from, errors.Join(err, restoreErr))
		}

		return translate(op, from, err)
	}

	return translate(op, to, os.RemoveAll(aside))
}

// readonlyDirBelow returns a permission error for the first directory at or
// below path that has no write bit set.
func readonlyDirBelow(op, path string) error {
	err := filepath.WalkDir(path, func(p string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		if readonlyPerm(info.Mode()) {
			return errPerm(op, p)
		}

		return nil
	})
	if err != nil {
		return translate(op, path, err)
	}

	return nil
}

// Copy copies the content of the file at from to to. The destination is
// written atomically through a temporary file and then given the source
// mode. Symlinks are followed on both sides.
func (r *Real) Copy(from, to string) error {
	err := r.copyFile(from, to)
	if err != nil {
		return withPaths(err, from, to)
	}

	return nil
}

func (r *Real) copyFile(from, to string) error {
	const op = "copy"

	src, err := r.checkReadableFile(op, from)
	if err != nil {
		return err
	}

	dest := to
	if resolved, evalErr := filepath.EvalSymlinks(to); evalErr == nil {
		dest = resolved
	} else if target, linkErr := os.Readlink(to); linkErr == nil {
		// Dangling link: write to its target like WriteFile would.
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(to), target)
		}

		dest = target
	}

	if dst, statErr := os.Stat(dest); statErr == nil && os.SameFile(src, dst) {
		return nil
	}

	err = r.checkWritableFile(op, dest, false)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(from)
	if err != nil {
		return translate(op, from, err)
	}

	err = atomic.WriteFile(dest, bytes.NewReader(data))
	if err != nil {
		return translate(op, to, err)
	}

	return translate(op, to, os.Chmod(dest, src.Mode().Perm()))
}

func (r *Real) Symlink(target, link string) error {
	if target == "" {
		return errInvalid("symlink", link).withDest(target)
	}

	return withPaths(translate("symlink", link, os.Symlink(target, link)), link, target)
}

func (r *Real) Readlink(path string) (string, error) {
	target, err := os.Readlink(path)

	return target, translate("readlink", path, err)
}

func (r *Real) ReadDir(path string) (DirReader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, translate("readdir", path, err)
	}

	if !info.IsDir() {
		return nil, errNotDir("readdir", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, translate("readdir", path, err)
	}

	return &realDirReader{f: f, dir: path}, nil
}

func (r *Real) Len(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}

	return info.Size()
}

func (r *Real) Mode(path string) (iofs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, translate("mode", path, err)
	}

	return info.Mode().Perm(), nil
}

func (r *Real) SetMode(path string, perm iofs.FileMode) error {
	return translate("setmode", path, os.Chmod(path, perm&iofs.ModePerm))
}

func (r *Real) Readonly(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, translate("readonly", path, err)
	}

	return readonlyPerm(info.Mode()), nil
}

func (r *Real) SetReadonly(path string, readonly bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return translate("setreadonly", path, err)
	}

	perm := withReadonly(info.Mode().Perm(), readonly)

	return translate("setreadonly", path, os.Chmod(path, perm))
}

// TempDir wraps [os.MkdirTemp]. The directory is created below
// [Options.TempRoot], or [os.TempDir] when unset.
func (r *Real) TempDir(prefix string) (*TempDir, error) {
	if strings.ContainsRune(prefix, '/') {
		return nil, errInvalid("tempdir", prefix)
	}

	if prefix == "" {
		prefix = "tmp"
	}

	dir, err := os.MkdirTemp(r.tempRoot, prefix+"-")
	if err != nil {
		return nil, translate("tempdir", prefix, err)
	}

	r.log.Debug().Str("path", dir).Msg("temp dir created")

	return newTempDir(r, dir, r.log), nil
}

// parentReadonly reports whether the directory containing path exists and
// has no write bit set.
func parentReadonly(path string) bool {
	info, err := os.Stat(filepath.Dir(filepath.Clean(path)))

	return err == nil && readonlyPerm(info.Mode())
}

// isSubpath reports whether sub is parent or lies below it, lexically.
func isSubpath(parent, sub string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(sub))

	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

// realDirReader reads entries from an open directory in small batches.
type realDirReader struct {
	f       *os.File
	dir     string
	pending []os.DirEntry
	done    bool
}

const readDirBatch = 64

func (d *realDirReader) Next() (DirEntry, error) {
	for len(d.pending) == 0 {
		if d.done || d.f == nil {
			return DirEntry{}, io.EOF
		}

		batch, err := d.f.ReadDir(readDirBatch)
		if errors.Is(err, io.EOF) {
			d.done = true

			return DirEntry{}, io.EOF
		}

		if err != nil {
			return DirEntry{}, translate("readdir", d.dir, err)
		}

		d.pending = batch
	}

	entry := d.pending[0]
	d.pending = d.pending[1:]

	kind := EntryFile

	switch {
	case entry.Type()&iofs.ModeSymlink != 0:
		kind = EntrySymlink
	case entry.IsDir():
		kind = EntryDir
	}

	return DirEntry{Name: entry.Name(), Path: joinEntry(d.dir, entry.Name()), Kind: kind}, nil
}

func (d *realDirReader) Close() error {
	if d.f == nil {
		return nil
	}

	err := d.f.Close()
	d.f = nil
	d.pending = nil

	return translate("readdir", d.dir, err)
}

var _ FS = (*Real)(nil)
