package fs

import (
	"errors"
	"io"
	iofs "io/fs"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection. Partially initialized configs
// only inject faults for the specified rates; unset fields default to 0.0.
//
// Fault injection is enabled by default ([ChaosModeActive]). Use
// [Chaos.SetChaosMode] with [ChaosModeNoOp] to disable injection and pass
// all operations through to the underlying filesystem.
type ChaosConfig struct {
	// ReadFailRate controls how often ReadFile, ReadFileToString and
	// ReadFileInto fail entirely. Returns EACCES, EIO, EMFILE or ENFILE.
	ReadFailRate float64

	// PartialReadRate controls how often a read returns incomplete data: a
	// truncated prefix of the content together with EIO. For ReadFileInto the
	// prefix is written to the destination before the error is returned.
	PartialReadRate float64

	// WriteFailRate controls how often CreateFile, WriteFile, OverwriteFile
	// and Copy fail. Returns EACCES, EIO, ENOSPC, EDQUOT or EROFS.
	WriteFailRate float64

	// RemoveFailRate controls how often RemoveFile, RemoveDir and
	// RemoveDirAll fail. Returns EACCES, EPERM, EBUSY, EIO or EROFS.
	RemoveFailRate float64

	// RenameFailRate controls how often Rename fails. Returns EACCES, EIO,
	// ENOSPC, EXDEV, EROFS or EPERM.
	RenameFailRate float64

	// MkdirFailRate controls how often CreateDir, CreateDirAll, Symlink and
	// TempDir fail. Returns EACCES, EIO, ENOSPC, EDQUOT or EROFS.
	MkdirFailRate float64

	// MetadataFailRate controls how often Mode, SetMode, Readonly,
	// SetReadonly, Readlink, CurrentDir and SetCurrentDir fail. Returns
	// EACCES or EIO.
	MetadataFailRate float64

	// ReadDirFailRate controls how often ReadDir fails entirely. Returns
	// EACCES, EIO, EMFILE or ENFILE.
	ReadDirFailRate float64

	// ReadDirPartialRate controls how often a [DirReader] returned by ReadDir
	// stops early with EIO after yielding a prefix of the entries.
	ReadDirPartialRate float64

	// Logger receives a debug event for every injected fault. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	ReadFails       int64
	PartialReads    int64
	WriteFails      int64
	RemoveFails     int64
	RenameFails     int64
	MkdirFails      int64
	MetadataFails   int64
	ReadDirFails    int64
	PartialReadDirs int64
}

// Total returns the sum of all counters.
func (s ChaosStats) Total() int64 {
	return s.ReadFails + s.PartialReads + s.WriteFails + s.RemoveFails + s.RenameFails +
		s.MkdirFails + s.MetadataFails + s.ReadDirFails + s.PartialReadDirs
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps the errno so errors.Is against io/fs sentinels keeps working.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected failures are [*Error] values like any other, with the [Kind]
// derived from the injected errno (EACCES becomes [KindPermissionDenied], EIO
// becomes [KindOther], ...). Use [IsChaosErr] to tell them apart from real
// failures.
//
// Faults are decided before the wrapped filesystem is called, so an injected
// failure never leaves a partial mutation behind. Partial reads are the only
// exception to "all or nothing" and they never mutate anything.
//
// Chaos never injects ENOENT: a missing path is always reported by the
// wrapped [FS]. IsDir, IsFile and Len cannot fail and are passed through.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32
	log    zerolog.Logger

	rngMu sync.Mutex

	readFails       atomic.Int64
	partialReads    atomic.Int64
	writeFails      atomic.Int64
	removeFails     atomic.Int64
	renameFails     atomic.Int64
	mkdirFails      atomic.Int64
	metadataFails   atomic.Int64
	readDirFails    atomic.Int64
	partialReadDirs atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = config.Logger.With().Str("fs", "chaos").Logger()
	}

	return &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: *config,
		log:    log,
	}
}

// SetChaosMode updates [Chaos] behavior. It is safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetChaosMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:       c.readFails.Load(),
		PartialReads:    c.partialReads.Load(),
		WriteFails:      c.writeFails.Load(),
		RemoveFails:     c.removeFails.Load(),
		RenameFails:     c.renameFails.Load(),
		MkdirFails:      c.mkdirFails.Load(),
		MetadataFails:   c.metadataFails.Load(),
		ReadDirFails:    c.readDirFails.Load(),
		PartialReadDirs: c.partialReadDirs.Load(),
	}
}

// faultKind identifies a class of operations sharing a fail rate.
type faultKind uint8

const (
	faultRead faultKind = iota
	faultWrite
	faultRemove
	faultRename
	faultMkdir
	faultMetadata
	faultReadDir
)

// faultErrnos lists the errnos injected per fault class.
//
// EACCES: permission denied
// EPERM: operation not permitted (policy/flags disallow the operation)
// EBUSY: resource busy
// EIO: I/O error (device/filesystem failure)
// ENOSPC / EDQUOT: no space left / quota exceeded
// EROFS: read-only filesystem
// EXDEV: rename across mount points
// EMFILE / ENFILE: per-process / system-wide descriptor limit
var faultErrnos = map[faultKind][]syscall.Errno{
	faultRead:     {syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE},
	faultWrite:    {syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS},
	faultRemove:   {syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO, syscall.EROFS},
	faultRename:   {syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EXDEV, syscall.EROFS, syscall.EPERM},
	faultMkdir:    {syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS},
	faultMetadata: {syscall.EACCES, syscall.EIO},
	faultReadDir:  {syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE},
}

func (c *Chaos) rate(kind faultKind) (float64, *atomic.Int64) {
	switch kind {
	case faultRead:
		return c.config.ReadFailRate, &c.readFails
	case faultWrite:
		return c.config.WriteFailRate, &c.writeFails
	case faultRemove:
		return c.config.RemoveFailRate, &c.removeFails
	case faultRename:
		return c.config.RenameFailRate, &c.renameFails
	case faultMkdir:
		return c.config.MkdirFailRate, &c.mkdirFails
	case faultMetadata:
		return c.config.MetadataFailRate, &c.metadataFails
	case faultReadDir:
		return c.config.ReadDirFailRate, &c.readDirFails
	default:
		panic("unknown fault kind")
	}
}

// introduceChaos returns an injected error for op on path, or nil.
func (c *Chaos) introduceChaos(kind faultKind, op, path string) *Error {
	rate, counter := c.rate(kind)
	if !c.should(rate) {
		return nil
	}

	counter.Add(1)

	errnos := faultErrnos[kind]

	return c.injected(op, path, errnos[c.randIntn(len(errnos))])
}

func (c *Chaos) injected(op, path string, errno syscall.Errno) *Error {
	c.log.Debug().Str("op", op).Str("path", path).Str("errno", errno.Error()).Msg("fault injected")

	return &Error{Op: op, Path: path, Kind: kindForErrno(errno), Err: &chaosError{Err: errno}}
}

// getMode returns the current ChaosMode safely.
func (c *Chaos) getMode() ChaosMode {
	v := c.mode.Load()
	if v > uint32(ChaosModeNoOp) {
		return ChaosModeActive
	}

	return ChaosMode(v)
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(rate float64) bool {
	if c.getMode() != ChaosModeActive || rate <= 0 {
		return false
	}

	return c.randFloat() < rate
}

// randFloat returns a random float64 in [0.0, 1.0) (thread-safe).
func (c *Chaos) randFloat() float64 {
	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result
}

// randIntn returns a random int in [0, n) (thread-safe).
func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.IntN(n)
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) CurrentDir() (string, error) {
	if err := c.introduceChaos(faultMetadata, "currentdir", "."); err != nil {
		return "", err
	}

	return c.fs.CurrentDir()
}

func (c *Chaos) SetCurrentDir(path string) error {
	if err := c.introduceChaos(faultMetadata, "setcurrentdir", path); err != nil {
		return err
	}

	return c.fs.SetCurrentDir(path)
}

func (c *Chaos) IsDir(path string) bool  { return c.fs.IsDir(path) }
func (c *Chaos) IsFile(path string) bool { return c.fs.IsFile(path) }
func (c *Chaos) Len(path string) int64   { return c.fs.Len(path) }

func (c *Chaos) CreateDir(path string) error {
	if err := c.introduceChaos(faultMkdir, "createdir", path); err != nil {
		return err
	}

	return c.fs.CreateDir(path)
}

func (c *Chaos) CreateDirAll(path string) error {
	if err := c.introduceChaos(faultMkdir, "createdirall", path); err != nil {
		return err
	}

	return c.fs.CreateDirAll(path)
}

func (c *Chaos) CreateFile(path string, data []byte) error {
	if err := c.introduceChaos(faultWrite, "createfile", path); err != nil {
		return err
	}

	return c.fs.CreateFile(path, data)
}

func (c *Chaos) WriteFile(path string, data []byte) error {
	if err := c.introduceChaos(faultWrite, "writefile", path); err != nil {
		return err
	}

	return c.fs.WriteFile(path, data)
}

func (c *Chaos) OverwriteFile(path string, data []byte) error {
	if err := c.introduceChaos(faultWrite, "overwritefile", path); err != nil {
		return err
	}

	return c.fs.OverwriteFile(path, data)
}

// ReadFile reads a file's contents with fault injection. A partial read
// returns a non-empty prefix of the content together with an EIO error,
// like [os.ReadFile] returning the bytes read before a later read failed.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.introduceChaos(faultRead, "readfile", path); err != nil {
		return nil, err
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) > 1 && c.should(c.config.PartialReadRate) {
		c.partialReads.Add(1)
		cutoff := c.randIntn(len(data)-1) + 1

		return data[:cutoff], c.injected("readfile", path, syscall.EIO)
	}

	return data, nil
}

func (c *Chaos) ReadFileToString(path string) (string, error) {
	data, err := c.ReadFile(path)
	if err != nil {
		return string(data), err
	}

	return decodeText("readfile", path, data)
}

func (c *Chaos) ReadFileInto(path string, w io.Writer) (int64, error) {
	data, err := c.ReadFile(path)
	if len(data) > 0 {
		n, writeErr := w.Write(data)
		if writeErr != nil {
			return int64(n), errors.Join(err, writeErr)
		}

		return int64(n), err
	}

	return 0, err
}

func (c *Chaos) RemoveFile(path string) error {
	if err := c.introduceChaos(faultRemove, "removefile", path); err != nil {
		return err
	}

	return c.fs.RemoveFile(path)
}

func (c *Chaos) RemoveDir(path string) error {
	if err := c.introduceChaos(faultRemove, "removedir", path); err != nil {
		return err
	}

	return c.fs.RemoveDir(path)
}

func (c *Chaos) RemoveDirAll(path string) error {
	if err := c.introduceChaos(faultRemove, "removedirall", path); err != nil {
		return err
	}

	return c.fs.RemoveDirAll(path)
}

func (c *Chaos) Rename(from, to string) error {
	if err := c.introduceChaos(faultRename, "rename", from); err != nil {
		return err.withDest(to)
	}

	return c.fs.Rename(from, to)
}

func (c *Chaos) Copy(from, to string) error {
	if err := c.introduceChaos(faultWrite, "copy", from); err != nil {
		return err.withDest(to)
	}

	return c.fs.Copy(from, to)
}

func (c *Chaos) Symlink(target, link string) error {
	if err := c.introduceChaos(faultMkdir, "symlink", link); err != nil {
		return err.withDest(target)
	}

	return c.fs.Symlink(target, link)
}

func (c *Chaos) Readlink(path string) (string, error) {
	if err := c.introduceChaos(faultMetadata, "readlink", path); err != nil {
		return "", err
	}

	return c.fs.Readlink(path)
}

// ReadDir returns a reader that may stop early with an injected EIO.
func (c *Chaos) ReadDir(path string) (DirReader, error) {
	if err := c.introduceChaos(faultReadDir, "readdir", path); err != nil {
		return nil, err
	}

	dr, err := c.fs.ReadDir(path)
	if err != nil {
		return nil, err
	}

	if !c.should(c.config.ReadDirPartialRate) {
		return dr, nil
	}

	c.partialReadDirs.Add(1)

	return &chaosDirReader{DirReader: dr, chaos: c, path: path, left: c.randIntn(4)}, nil
}

func (c *Chaos) Mode(path string) (iofs.FileMode, error) {
	if err := c.introduceChaos(faultMetadata, "mode", path); err != nil {
		return 0, err
	}

	return c.fs.Mode(path)
}

func (c *Chaos) SetMode(path string, perm iofs.FileMode) error {
	if err := c.introduceChaos(faultMetadata, "setmode", path); err != nil {
		return err
	}

	return c.fs.SetMode(path, perm)
}

func (c *Chaos) Readonly(path string) (bool, error) {
	if err := c.introduceChaos(faultMetadata, "readonly", path); err != nil {
		return false, err
	}

	return c.fs.Readonly(path)
}

func (c *Chaos) SetReadonly(path string, readonly bool) error {
	if err := c.introduceChaos(faultMetadata, "setreadonly", path); err != nil {
		return err
	}

	return c.fs.SetReadonly(path, readonly)
}

// TempDir creates the directory on the wrapped filesystem. The returned guard
// removes it through Chaos, so cleanup can fail when RemoveFailRate is set.
func (c *Chaos) TempDir(prefix string) (*TempDir, error) {
	if err := c.introduceChaos(faultMkdir, "tempdir", prefix); err != nil {
		return nil, err
	}

	dir, err := c.fs.TempDir(prefix)
	if err != nil {
		return nil, err
	}

	return newTempDir(c, dir.Path(), c.log), nil
}

// chaosDirReader yields up to left entries and then fails with EIO.
type chaosDirReader struct {
	DirReader
	chaos *Chaos
	path  string
	left  int
}

func (r *chaosDirReader) Next() (DirEntry, error) {
	if r.left == 0 {
		return DirEntry{}, r.chaos.injected("readdir", r.path, syscall.EIO)
	}

	r.left--

	return r.DirReader.Next()
}

var _ FS = (*Chaos)(nil)
