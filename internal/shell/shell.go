// Package shell implements vfsh, an interactive shell over a [fs.FS].
//
// The same command set runs against the in-memory and the OS backend, which
// makes the shell a convenient way to poke at backend parity by hand.
package shell

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/calvinalkan/vfs/pkg/fs"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
)

// Options configures a [Shell].
type Options struct {
	// FS is the filesystem the commands operate on. Required.
	FS fs.FS

	// Traced, when set, backs the "trace" command. It should wrap (or be)
	// FS so the trace reflects shell activity.
	Traced *fs.Traced

	// Chaos, when set, backs the "chaos" command.
	Chaos *fs.Chaos

	// Home is where "cd" without arguments goes. Defaults to "/".
	Home string

	// Logger receives diagnostics. Defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Shell executes command lines against a filesystem. It is not safe for
// concurrent use.
type Shell struct {
	fsys   fs.FS
	traced *fs.Traced
	chaos  *fs.Chaos
	home   string
	log    zerolog.Logger
	temps  []*fs.TempDir
	exited bool
}

// New returns a shell over opts.FS. Panics if opts.FS is nil.
func New(opts Options) *Shell {
	if opts.FS == nil {
		panic("shell: FS is nil")
	}

	home := opts.Home
	if home == "" {
		home = "/"
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Shell{
		fsys:   opts.FS,
		traced: opts.Traced,
		chaos:  opts.Chaos,
		home:   home,
		log:    log,
	}
}

// Exited reports whether "exit" has been run.
func (s *Shell) Exited() bool { return s.exited }

// Exec parses and runs one command line. Returns the exit code of the
// command; blank lines and comments return 0.
func (s *Shell) Exec(ctx context.Context, o *IO, line string) int {
	words, err := shlex.Split(line)
	if err != nil {
		o.ErrPrintln("error: parse:", err)

		return 1
	}

	if len(words) == 0 {
		return 0
	}

	if err := ctx.Err(); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	cmd := s.lookup(words[0])
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", words[0], "(type 'help' for commands)")

		return 1
	}

	s.log.Debug().Str("cmd", cmd.Name()).Strs("args", words[1:]).Msg("exec")

	code := cmd.Run(ctx, o, words[1:])
	if warn := o.Finish(); warn != 0 && code == 0 {
		code = warn
	}

	return code
}

// Close releases every temp dir still held by the shell.
func (s *Shell) Close() error {
	var errs []error

	for _, dir := range slices.Backward(s.temps) {
		if err := dir.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.temps = nil

	return errors.Join(errs...)
}

func (s *Shell) lookup(name string) *Command {
	for _, c := range s.commands() {
		if c.Name() == name || slices.Contains(c.Aliases, name) {
			return c
		}
	}

	return nil
}

// Complete returns completions for a partial line: command names for the
// first word, paths for the rest.
func (s *Shell) Complete(line string) []string {
	head, last := "", line
	if i := strings.LastIndexByte(line, ' '); i >= 0 {
		head, last = line[:i+1], line[i+1:]
	}

	var candidates []string

	if strings.TrimSpace(head) == "" {
		for _, c := range s.commands() {
			candidates = append(candidates, c.Name())
			candidates = append(candidates, c.Aliases...)
		}
	} else {
		candidates = s.completePath(last)
	}

	var out []string

	for _, c := range candidates {
		if strings.HasPrefix(c, last) {
			out = append(out, head+c)
		}
	}

	slices.Sort(out)

	return out
}

func (s *Shell) completePath(prefix string) []string {
	dir, base := path.Split(prefix)

	listDir := dir
	if listDir == "" {
		listDir = "."
	}

	entries, err := fs.ReadDirAll(s.fsys, listDir)
	if err != nil {
		return nil
	}

	var out []string

	for _, e := range entries {
		if !strings.HasPrefix(e.Name, base) {
			continue
		}

		name := dir + e.Name
		if e.Kind == fs.EntryDir {
			name += "/"
		}

		out = append(out, name)
	}

	return out
}

// abs makes p absolute against the current directory of the filesystem.
func (s *Shell) abs(p string) (string, error) {
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}

	cwd, err := s.fsys.CurrentDir()
	if err != nil {
		return "", err
	}

	return path.Join(cwd, p), nil
}

// isSymlink reports whether p itself is a symlink.
func (s *Shell) isSymlink(p string) bool {
	_, err := s.fsys.Readlink(p)

	return err == nil
}

func (s *Shell) printTempDirs(o *IO) {
	if len(s.temps) == 0 {
		o.Println("(no temp dirs)")

		return
	}

	for _, d := range s.temps {
		o.Println(d.Path())
	}
}

func (s *Shell) releaseTempDir(target string) error {
	if len(s.temps) == 0 {
		return errors.New("no temp dirs held")
	}

	idx := len(s.temps) - 1

	if target != "" {
		want, err := s.abs(target)
		if err != nil {
			return err
		}

		idx = slices.IndexFunc(s.temps, func(d *fs.TempDir) bool { return d.Path() == want })
		if idx < 0 {
			return fmt.Errorf("not a temp dir held by this shell: %s", target)
		}
	}

	dir := s.temps[idx]
	s.temps = slices.Delete(s.temps, idx, idx+1)

	return dir.Close()
}
