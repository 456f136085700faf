package fs

import (
	"errors"
	"io"
	iofs "io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Mem implements [FS] as a tree held entirely in memory.
//
// Nothing touches the host filesystem, so tests using Mem are deterministic
// and leave no state behind. The tree starts with an empty root directory and
// the current directory set to "/".
//
// A single mutex guards the tree. Every method takes it exactly once, so each
// call is atomic with respect to every other call: no caller ever observes a
// half-applied rename or a partially removed subtree.
//
// Permission bits are simulated coarsely: a node is readonly when none of its
// write bits are set, and a file is unreadable when none of its read bits are
// set. There are no owners or groups.
type Mem struct {
	mu       sync.Mutex
	root     *node
	cwd      string
	tempRoot string
	log      zerolog.Logger
}

// NewMem returns an empty in-memory filesystem.
func NewMem(opts Options) *Mem {
	tempRoot := opts.TempRoot
	if tempRoot == "" {
		tempRoot = "/tmp"
	}

	return &Mem{
		root:     newDir(dirPerm),
		cwd:      "/",
		tempRoot: path.Join("/", tempRoot),
		log:      opts.logger().With().Str("fs", "mem").Logger(),
	}
}

// resolve locates p. The caller must hold m.mu.
func (m *Mem) resolve(op, p string, follow bool) (location, error) {
	if p == "" {
		return location{}, errNotFound(op, p)
	}

	if strings.IndexByte(p, 0) >= 0 {
		return location{}, errInvalid(op, p)
	}

	// A trailing slash names a directory, through a final symlink if needed.
	dirOnly := len(p) > 1 && strings.HasSuffix(p, "/")
	if dirOnly {
		follow = true
	}

	w := newWalker(m.root, op, p)
	start := []step{{n: m.root}}

	if !strings.HasPrefix(p, "/") {
		cwd, err := w.walk(start, m.cwd, true)
		if err != nil || cwd.node == nil || !cwd.node.isDir() {
			return location{}, errNotFound(op, p)
		}

		start = cwd.stack()
	}

	loc, err := w.walk(start, p, follow)
	if err != nil {
		return location{}, err
	}

	loc.dirOnly = dirOnly

	return loc, nil
}

// existing resolves p and fails with NotFound when nothing is there.
func (m *Mem) existing(op, p string, follow bool) (location, error) {
	loc, err := m.resolve(op, p, follow)
	if err != nil {
		return location{}, err
	}

	if loc.node == nil {
		return location{}, errNotFound(op, p)
	}

	if loc.dirOnly && !loc.node.isDir() {
		return location{}, errNotDir(op, p)
	}

	return loc, nil
}

// CurrentDir returns the working directory. It fails with [ErrNotFound] when
// the directory has been removed since it was set.
func (m *Mem) CurrentDir() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := newWalker(m.root, "currentdir", m.cwd).walk([]step{{n: m.root}}, m.cwd, true)
	if err != nil || loc.node == nil || !loc.node.isDir() {
		return "", errNotFound("currentdir", m.cwd)
	}

	return m.cwd, nil
}

// SetCurrentDir changes the working directory. The canonical path (symlinks
// resolved) is stored.
func (m *Mem) SetCurrentDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("setcurrentdir", p, true)
	if err != nil {
		return err
	}

	if !loc.node.isDir() {
		return errNotDir("setcurrentdir", p)
	}

	m.cwd = loc.path()

	return nil
}

func (m *Mem) IsDir(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.resolve("isdir", p, true)

	return err == nil && loc.node != nil && loc.node.isDir()
}

func (m *Mem) IsFile(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.resolve("isfile", p, true)

	return err == nil && !loc.dirOnly && loc.node != nil && loc.node.isFile()
}

func (m *Mem) CreateDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createDir("createdir", p)
}

func (m *Mem) createDir(op, p string) error {
	loc, err := m.resolve(op, p, false)
	if err != nil {
		return err
	}

	if loc.node != nil {
		return errExist(op, p)
	}

	if loc.parent().readonly() {
		return errPerm(op, p)
	}

	loc.parent().attach(loc.name, newDir(dirPerm))

	return nil
}

// CreateDirAll creates p and any missing parents. If it fails, directories it
// already created are removed again.
func (m *Mem) CreateDirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createDirAll("createdirall", p)
}

func (m *Mem) createDirAll(op, p string) error {
	var created []location

	err := m.mkdirAll(op, p, &created)
	if err != nil {
		for _, loc := range slices.Backward(created) {
			loc.parent().detach(loc.name)
		}

		return withPaths(err, p, "")
	}

	return nil
}

func (m *Mem) mkdirAll(op, p string, created *[]location) error {
	loc, err := m.resolve(op, p, true)
	if KindOf(err) == KindNotFound {
		parent := lexicalParent(p)
		if parent == p {
			return err
		}

		if parentErr := m.mkdirAll(op, parent, created); parentErr != nil {
			return parentErr
		}

		loc, err = m.resolve(op, p, true)
	}

	if err != nil {
		return err
	}

	if loc.node != nil {
		if loc.node.isDir() {
			return nil
		}

		return errNotDir(op, p)
	}

	if loc.parent().readonly() {
		return errPerm(op, p)
	}

	loc.parent().attach(loc.name, newDir(dirPerm))
	*created = append(*created, loc)

	return nil
}

func (m *Mem) CreateFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.resolve("createfile", p, false)
	if err != nil {
		return err
	}

	if loc.dirOnly {
		return errIsDir("createfile", p)
	}

	if loc.node != nil {
		return errExist("createfile", p)
	}

	if loc.parent().readonly() {
		return errPerm("createfile", p)
	}

	loc.parent().attach(loc.name, newFile(data, filePerm))

	return nil
}

func (m *Mem) WriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.writeFile("writefile", p, data, false)

	return err
}

func (m *Mem) OverwriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.writeFile("overwritefile", p, data, true)

	return err
}

// writeFile replaces the content of the file at p, creating it unless
// mustExist is set. It returns the written node.
func (m *Mem) writeFile(op, p string, data []byte, mustExist bool) (*node, error) {
	loc, err := m.resolve(op, p, true)
	if err != nil {
		return nil, err
	}

	if loc.dirOnly && loc.node != nil && !loc.node.isDir() {
		return nil, errNotDir(op, p)
	}

	if loc.node == nil {
		if mustExist {
			return nil, errNotFound(op, p)
		}

		if loc.dirOnly {
			return nil, errIsDir(op, p)
		}

		if loc.parent().readonly() {
			return nil, errPerm(op, p)
		}

		file := newFile(data, filePerm)
		loc.parent().attach(loc.name, file)

		return file, nil
	}

	if loc.node.isDir() {
		return nil, errIsDir(op, p)
	}

	if loc.node.readonly() {
		return nil, errPerm(op, p)
	}

	loc.node.data = slices.Clone(data)

	return loc.node, nil
}

// readFile returns the readable file node at p. The caller must hold m.mu
// and must copy the content before releasing it.
func (m *Mem) readFile(op, p string) (*node, error) {
	loc, err := m.existing(op, p, true)
	if err != nil {
		return nil, err
	}

	if loc.node.isDir() {
		return nil, errIsDir(op, p)
	}

	if loc.node.perm&readBits == 0 {
		return nil, errPerm(op, p)
	}

	return loc.node, nil
}

func (m *Mem) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := m.readFile("readfile", p)
	if err != nil {
		return nil, err
	}

	return slices.Clone(file.data), nil
}

func (m *Mem) ReadFileToString(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := m.readFile("readfile", p)
	if err != nil {
		return "", err
	}

	return decodeText("readfile", p, file.data)
}

// ReadFileInto writes the content of the file at p to w. The content is
// copied out under the lock; w is called after the lock is released.
func (m *Mem) ReadFileInto(p string, w io.Writer) (int64, error) {
	m.mu.Lock()

	file, err := m.readFile("readfile", p)
	if err != nil {
		m.mu.Unlock()

		return 0, err
	}

	data := slices.Clone(file.data)

	m.mu.Unlock()

	n, err := w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}

	return int64(n), err
}

func (m *Mem) RemoveFile(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("removefile", p, false)
	if err != nil {
		return err
	}

	if loc.node.isDir() {
		return errIsDir("removefile", p)
	}

	if loc.parent().readonly() || (loc.node.isFile() && loc.node.readonly()) {
		return errPerm("removefile", p)
	}

	loc.parent().detach(loc.name)

	return nil
}

func (m *Mem) RemoveDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("removedir", p, false)
	if err != nil {
		return err
	}

	switch {
	case loc.isRoot():
		return newError("removedir", p, KindInvalidPath, unix.EBUSY)
	case !loc.node.isDir():
		return errNotDir("removedir", p)
	case !loc.node.empty():
		return errNotEmpty("removedir", p)
	case loc.parent().readonly():
		return errPerm("removedir", p)
	}

	loc.parent().detach(loc.name)

	return nil
}

// RemoveDirAll removes the directory at p with everything below it. Nothing
// is removed unless the parent and every directory in the subtree are
// writable.
func (m *Mem) RemoveDirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("removedirall", p, false)
	if err != nil {
		return err
	}

	switch {
	case loc.isRoot():
		return newError("removedirall", p, KindInvalidPath, unix.EBUSY)
	case !loc.node.isDir():
		return errNotDir("removedirall", p)
	case loc.parent().readonly():
		return errPerm("removedirall", p)
	}

	if rel, found := loc.node.firstReadonlyDir(); found {
		if rel != "" {
			return errPerm("removedirall", joinEntry(p, rel))
		}

		return errPerm("removedirall", p)
	}

	loc.parent().detach(loc.name)

	return nil
}

// Rename moves the node at from to to. Symlinks are moved themselves.
//
// An existing destination is replaced when both are directories or both are
// not; mixing a directory with anything else fails with [ErrTypeMismatch].
// A destination directory is only replaced when nothing in it is readonly,
// and never when it contains the source. All checks run before the tree
// changes.
func (m *Mem) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.rename(from, to)
	if err != nil {
		return withPaths(err, from, to)
	}

	return nil
}

func (m *Mem) rename(from, to string) error {
	const op = "rename"

	src, err := m.existing(op, from, false)
	if err != nil {
		return err
	}

	dst, err := m.resolve(op, to, false)
	if err != nil {
		return err
	}

	if src.isRoot() || dst.isRoot() {
		return newError(op, from, KindInvalidPath, unix.EBUSY)
	}

	if dst.node == src.node {
		return nil
	}

	if dst.dirOnly && (!src.node.isDir() || dst.node != nil && !dst.node.isDir()) {
		return errNotDir(op, to)
	}

	if src.node.isDir() && src.node.contains(dst.parent()) {
		return errInvalid(op, from)
	}

	// Replacing an ancestor of the source would drop the source's siblings.
	if dst.node != nil && dst.node.contains(src.node) {
		return errInvalid(op, from)
	}

	if dst.node != nil {
		switch {
		case src.node.isDir() && !dst.node.isDir():
			return newError(op, from, KindTypeMismatch, unix.ENOTDIR)
		case !src.node.isDir() && dst.node.isDir():
			return newError(op, from, KindTypeMismatch, unix.EISDIR)
		case !dst.node.isSymlink() && dst.node.readonly():
			return errPerm(op, from)
		}

		// The replaced subtree is removed like RemoveDirAll would remove it.
		if _, found := dst.node.firstReadonlyDir(); found {
			return errPerm(op, to)
		}
	}

	if src.parent().readonly() || dst.parent().readonly() {
		return errPerm(op, from)
	}

	src.parent().detach(src.name)
	dst.parent().attach(dst.name, src.node)

	return nil
}

// withPaths rewrites the paths of an [*Error] for a two-path operation.
func withPaths(err error, from, to string) error {
	var fsErr *Error
	if !errors.As(err, &fsErr) {
		return err
	}

	fsErr.Path = from

	return fsErr.withDest(to)
}

// Copy writes the content of the file at from to to, following symlinks on
// both sides. The destination takes the mode of the source.
func (m *Mem) Copy(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.readFile("copy", from)
	if err != nil {
		return withPaths(err, from, to)
	}

	if dst, resolveErr := m.resolve("copy", to, true); resolveErr == nil && dst.node == src {
		return nil
	}

	dst, err := m.writeFile("copy", to, src.data, false)
	if err != nil {
		return withPaths(err, from, to)
	}

	dst.perm = src.perm

	return nil
}

// Symlink creates a symlink at link storing target as given.
func (m *Mem) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.symlink(target, link)
	if err != nil {
		return withPaths(err, link, target)
	}

	return nil
}

func (m *Mem) symlink(target, link string) error {
	if target == "" || strings.IndexByte(target, 0) >= 0 {
		return errInvalid("symlink", link)
	}

	loc, err := m.resolve("symlink", link, false)
	if err != nil {
		return err
	}

	if loc.node != nil {
		return errExist("symlink", link)
	}

	if loc.parent().readonly() {
		return errPerm("symlink", link)
	}

	loc.parent().attach(loc.name, newSymlink(target))

	return nil
}

// Readlink returns the stored target of the symlink at p. It fails with
// [ErrInvalidPath] if p is not a symlink.
func (m *Mem) Readlink(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("readlink", p, false)
	if err != nil {
		return "", err
	}

	if !loc.node.isSymlink() {
		return "", errInvalid("readlink", p)
	}

	return loc.node.target, nil
}

// ReadDir returns the entries of the directory at p in creation order. The
// listing is a snapshot: later changes to the directory are not reflected.
func (m *Mem) ReadDir(p string) (DirReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("readdir", p, true)
	if err != nil {
		return nil, err
	}

	if !loc.node.isDir() {
		return nil, errNotDir("readdir", p)
	}

	entries := make([]DirEntry, 0, len(loc.node.names))
	for _, name := range loc.node.names {
		entries = append(entries, DirEntry{
			Name: name,
			Path: joinEntry(p, name),
			Kind: loc.node.children[name].kind.entryKind(),
		})
	}

	return &sliceDirReader{entries: entries}, nil
}

func (m *Mem) Len(p string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.resolve("len", p, true)
	if err != nil || loc.dirOnly || loc.node == nil || !loc.node.isFile() {
		return 0
	}

	return int64(len(loc.node.data))
}

func (m *Mem) Mode(p string) (iofs.FileMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("mode", p, true)
	if err != nil {
		return 0, err
	}

	return loc.node.perm, nil
}

// SetMode replaces the permission bits. Bits outside [iofs.ModePerm] are
// ignored.
func (m *Mem) SetMode(p string, perm iofs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("setmode", p, true)
	if err != nil {
		return err
	}

	loc.node.perm = perm & iofs.ModePerm

	return nil
}

func (m *Mem) Readonly(p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("readonly", p, true)
	if err != nil {
		return false, err
	}

	return loc.node.readonly(), nil
}

func (m *Mem) SetReadonly(p string, readonly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.existing("setreadonly", p, true)
	if err != nil {
		return err
	}

	loc.node.perm = withReadonly(loc.node.perm, readonly)

	return nil
}

// TempDir creates "<prefix>-<uuid>" below the temp root, creating the temp
// root first if needed.
func (m *Mem) TempDir(prefix string) (*TempDir, error) {
	if strings.ContainsRune(prefix, '/') {
		return nil, errInvalid("tempdir", prefix)
	}

	if prefix == "" {
		prefix = "tmp"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.createDirAll("tempdir", m.tempRoot)
	if err != nil {
		return nil, err
	}

	dir := path.Join(m.tempRoot, prefix+"-"+uuid.NewString())

	err = m.createDir("tempdir", dir)
	if err != nil {
		return nil, err
	}

	m.log.Debug().Str("path", dir).Msg("temp dir created")

	return newTempDir(m, dir, m.log), nil
}

var _ FS = (*Mem)(nil)
