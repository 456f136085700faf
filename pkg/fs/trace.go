package fs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TestBuilder is the subset of [testing.T] used by [Traced.LogOnFailure].
//
// This keeps [Traced] usable from tests in other packages without depending
// on _test.go files.
type TestBuilder interface {
	// [testing.T.Helper]
	Helper()
	// [testing.T.Cleanup]
	Cleanup(func())
	// [testing.T.Failed]
	Failed() bool
	// [testing.T.Logf]
	Logf(format string, args ...any)
}

// TracedOptions configures a [Traced].
type TracedOptions struct {
	// Capacity is the max number of operations kept in the trace. Defaults
	// to 200. Negative disables tracing.
	Capacity int
	// Logger receives every traced operation at debug level. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// Traced wraps an [FS] and records a bounded trace of recent operations with
// their results.
//
// The trace is a ring buffer: once Capacity events have been recorded the
// oldest are dropped. Failures injected by [Chaos] are flagged so a trace
// shows which errors were real:
//
//	fsys := fs.NewTraced(fs.NewChaos(fs.NewMem(fs.Options{}), seed, &cfg), fs.TracedOptions{})
//	fsys.LogOnFailure(t)
type Traced struct {
	fs    FS
	trace *traceLog
	log   zerolog.Logger
}

// NewTraced creates a new [Traced] wrapping the given [FS].
// Panics if underlying is nil.
func NewTraced(underlying FS, opts TracedOptions) *Traced {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	capacity := opts.Capacity
	if capacity == 0 {
		capacity = 200
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("fs", "trace").Logger()
	}

	return &Traced{fs: underlying, trace: newTraceLog(capacity), log: log}
}

// Trace returns a formatted string of recent FS operations, one per line.
func (t *Traced) Trace() string {
	return t.trace.String()
}

// Events returns a snapshot of the trace, oldest first.
func (t *Traced) Events() []TraceEvent {
	return t.trace.snapshot()
}

// LogOnFailure logs the trace through tb when the test fails.
func (t *Traced) LogOnFailure(tb TestBuilder) {
	tb.Helper()

	tb.Cleanup(func() {
		if tb.Failed() {
			if trace := t.Trace(); trace != "" {
				tb.Logf("fs trace:\n%s", trace)
			}
		}
	})
}

func (t *Traced) record(op, path string, err error, attrs ...TraceAttr) {
	event := t.trace.add(op, path, err, attrs...)

	t.log.Debug().Str("op", op).Str("path", path).Err(err).Bool("injected", event.Injected).Msg("fs op")
}

func (t *Traced) CurrentDir() (string, error) {
	dir, err := t.fs.CurrentDir()
	t.record("currentdir", dir, err)

	return dir, err
}

func (t *Traced) SetCurrentDir(path string) error {
	err := t.fs.SetCurrentDir(path)
	t.record("setcurrentdir", path, err)

	return err
}

func (t *Traced) IsDir(path string) bool {
	ok := t.fs.IsDir(path)
	t.record("isdir", path, nil, attr("result", strconv.FormatBool(ok)))

	return ok
}

func (t *Traced) IsFile(path string) bool {
	ok := t.fs.IsFile(path)
	t.record("isfile", path, nil, attr("result", strconv.FormatBool(ok)))

	return ok
}

func (t *Traced) CreateDir(path string) error {
	err := t.fs.CreateDir(path)
	t.record("createdir", path, err)

	return err
}

func (t *Traced) CreateDirAll(path string) error {
	err := t.fs.CreateDirAll(path)
	t.record("createdirall", path, err)

	return err
}

func (t *Traced) CreateFile(path string, data []byte) error {
	err := t.fs.CreateFile(path, data)
	t.record("createfile", path, err, attr("n", strconv.Itoa(len(data))))

	return err
}

func (t *Traced) WriteFile(path string, data []byte) error {
	err := t.fs.WriteFile(path, data)
	t.record("writefile", path, err, attr("n", strconv.Itoa(len(data))))

	return err
}

func (t *Traced) OverwriteFile(path string, data []byte) error {
	err := t.fs.OverwriteFile(path, data)
	t.record("overwritefile", path, err, attr("n", strconv.Itoa(len(data))))

	return err
}

func (t *Traced) ReadFile(path string) ([]byte, error) {
	data, err := t.fs.ReadFile(path)
	t.record("readfile", path, err, attr("n", strconv.Itoa(len(data))))

	return data, err
}

func (t *Traced) ReadFileToString(path string) (string, error) {
	s, err := t.fs.ReadFileToString(path)
	t.record("readfile", path, err, attr("n", strconv.Itoa(len(s))))

	return s, err
}

func (t *Traced) ReadFileInto(path string, w io.Writer) (int64, error) {
	n, err := t.fs.ReadFileInto(path, w)
	t.record("readfile", path, err, attr("n", strconv.FormatInt(n, 10)))

	return n, err
}

func (t *Traced) RemoveFile(path string) error {
	err := t.fs.RemoveFile(path)
	t.record("removefile", path, err)

	return err
}

func (t *Traced) RemoveDir(path string) error {
	err := t.fs.RemoveDir(path)
	t.record("removedir", path, err)

	return err
}

func (t *Traced) RemoveDirAll(path string) error {
	err := t.fs.RemoveDirAll(path)
	t.record("removedirall", path, err)

	return err
}

func (t *Traced) Rename(from, to string) error {
	err := t.fs.Rename(from, to)
	t.record("rename", from, err, attr("to", to))

	return err
}

func (t *Traced) Copy(from, to string) error {
	err := t.fs.Copy(from, to)
	t.record("copy", from, err, attr("to", to))

	return err
}

func (t *Traced) Symlink(target, link string) error {
	err := t.fs.Symlink(target, link)
	t.record("symlink", link, err, attr("target", target))

	return err
}

func (t *Traced) Readlink(path string) (string, error) {
	target, err := t.fs.Readlink(path)
	t.record("readlink", path, err, attr("target", target))

	return target, err
}

func (t *Traced) ReadDir(path string) (DirReader, error) {
	dr, err := t.fs.ReadDir(path)
	t.record("readdir", path, err)

	if err != nil {
		return nil, err
	}

	return &tracedDirReader{DirReader: dr, traced: t, path: path}, nil
}

func (t *Traced) Len(path string) int64 {
	n := t.fs.Len(path)
	t.record("len", path, nil, attr("n", strconv.FormatInt(n, 10)))

	return n
}

func (t *Traced) Mode(path string) (iofs.FileMode, error) {
	perm, err := t.fs.Mode(path)
	t.record("mode", path, err, attr("perm", fmt.Sprintf("%#o", perm)))

	return perm, err
}

func (t *Traced) SetMode(path string, perm iofs.FileMode) error {
	err := t.fs.SetMode(path, perm)
	t.record("setmode", path, err, attr("perm", fmt.Sprintf("%#o", perm)))

	return err
}

func (t *Traced) Readonly(path string) (bool, error) {
	readonly, err := t.fs.Readonly(path)
	t.record("readonly", path, err, attr("result", strconv.FormatBool(readonly)))

	return readonly, err
}

func (t *Traced) SetReadonly(path string, readonly bool) error {
	err := t.fs.SetReadonly(path, readonly)
	t.record("setreadonly", path, err, attr("readonly", strconv.FormatBool(readonly)))

	return err
}

// TempDir creates the directory on the wrapped filesystem; the returned guard
// removes it through t, so the cleanup shows up in the trace.
func (t *Traced) TempDir(prefix string) (*TempDir, error) {
	dir, err := t.fs.TempDir(prefix)
	if err != nil {
		t.record("tempdir", prefix, err)

		return nil, err
	}

	t.record("tempdir", dir.Path(), nil)

	return newTempDir(t, dir.Path(), t.log), nil
}

// tracedDirReader records iteration errors other than the final io.EOF.
type tracedDirReader struct {
	DirReader
	traced *Traced
	path   string
	n      int
}

func (r *tracedDirReader) Next() (DirEntry, error) {
	entry, err := r.DirReader.Next()

	switch {
	case errors.Is(err, io.EOF):
		r.traced.record("readdir.next", r.path, nil, attr("n", strconv.Itoa(r.n)), attr("eof", "true"))
	case err != nil:
		r.traced.record("readdir.next", r.path, err, attr("n", strconv.Itoa(r.n)))
	default:
		r.n++
	}

	return entry, err
}

var _ FS = (*Traced)(nil)

// TraceAttr is a key-value pair for trace event context.
type TraceAttr struct {
	Key   string
	Value string
}

func attr(k, v string) TraceAttr {
	return TraceAttr{Key: k, Value: v}
}

// TraceEvent records a single operation.
type TraceEvent struct {
	// Seq is the monotonically increasing sequence number.
	Seq uint64
	// Op is the operation name (e.g. "writefile", "rename").
	Op string
	// Path is the filesystem path involved.
	Path string
	// Err is the error returned by the operation (nil for success).
	Err error
	// Injected is true if Err was injected by [Chaos].
	Injected bool
	// Attrs contains additional key-value details (e.g. "n=42", "to=/b").
	Attrs []TraceAttr
}

func (e TraceEvent) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d %s", e.Seq, e.Op)

	if e.Path != "" {
		fmt.Fprintf(&b, " path=%q", e.Path)
	}

	for _, a := range e.Attrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
	}

	if e.Err == nil {
		b.WriteString(" ok")

		return b.String()
	}

	fmt.Fprintf(&b, " err=%v injected=%t", e.Err, e.Injected)

	return b.String()
}

// traceLog is a bounded circular buffer of [TraceEvent].
type traceLog struct {
	mu       sync.Mutex
	capacity int
	events   []TraceEvent
	next     int
	full     bool
	seq      uint64
}

func newTraceLog(capacity int) *traceLog {
	capacity = max(capacity, 0)

	return &traceLog{
		capacity: capacity,
		events:   make([]TraceEvent, 0, capacity),
	}
}

func (t *traceLog) add(op, path string, err error, attrs ...TraceAttr) TraceEvent {
	event := TraceEvent{
		Op:       op,
		Path:     path,
		Err:      err,
		Injected: IsChaosErr(err),
		Attrs:    attrs,
	}

	if t.capacity == 0 {
		return event
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	event.Seq = t.seq

	if len(t.events) < t.capacity {
		t.events = append(t.events, event)

		return event
	}

	t.events[t.next] = event
	t.next = (t.next + 1) % t.capacity
	t.full = true

	return event
}

func (t *traceLog) snapshot() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]TraceEvent(nil), t.events...)
	}

	out := make([]TraceEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func (t *traceLog) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder

	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(e.String())
	}

	return b.String()
}
