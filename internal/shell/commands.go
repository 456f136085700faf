package shell

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/calvinalkan/vfs/internal/manifest"
	"github.com/calvinalkan/vfs/pkg/fs"

	flag "github.com/spf13/pflag"
)

var (
	errArgs          = errors.New("wrong number of arguments")
	errTraceDisabled = errors.New("tracing is disabled (set \"trace\" in the config or pass --trace)")
	errChaosDisabled = errors.New("fault injection is disabled (set \"chaos\" in the config or pass --chaos)")
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// commands returns a fresh command set. Flag values live in the returned
// FlagSets, so the set is rebuilt per line.
func (s *Shell) commands() []*Command {
	return []*Command{
		s.pwdCmd(),
		s.cdCmd(),
		s.lsCmd(),
		s.treeCmd(),
		s.mkdirCmd(),
		s.touchCmd(),
		s.writeCmd(),
		s.catCmd(),
		s.rmCmd(),
		s.rmdirCmd(),
		s.mvCmd(),
		s.cpCmd(),
		s.lnCmd(),
		s.readlinkCmd(),
		s.statCmd(),
		s.chmodCmd(),
		s.readonlyCmd("ro", true),
		s.readonlyCmd("rw", false),
		s.tmpCmd(),
		s.dumpCmd(),
		s.seedCmd(),
		s.traceCmd(),
		s.chaosCmd(),
		s.helpCmd(),
		s.exitCmd(),
	}
}

func (s *Shell) pwdCmd() *Command {
	return &Command{
		Flags: newFlags("pwd"),
		Usage: "pwd",
		Short: "Print the current directory",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return errArgs
			}

			cwd, err := s.fsys.CurrentDir()
			if err != nil {
				return err
			}

			o.Println(cwd)

			return nil
		},
	}
}

func (s *Shell) cdCmd() *Command {
	return &Command{
		Flags: newFlags("cd"),
		Usage: "cd [dir]",
		Short: "Change the current directory",
		Long:  "Change the current directory. Without an argument, go to the shell's home directory.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			switch len(args) {
			case 0:
				return s.fsys.SetCurrentDir(s.home)
			case 1:
				return s.fsys.SetCurrentDir(args[0])
			default:
				return errArgs
			}
		},
	}
}

func (s *Shell) lsCmd() *Command {
	flags := newFlags("ls")
	long := flags.BoolP("long", "l", false, "show kind, mode and size")

	return &Command{
		Flags: flags,
		Usage: "ls [-l] [path]...",
		Short: "List directory entries",
		Long: "List directory entries in insertion order (mem) or directory order (os).\n" +
			"Directories end in '/', symlinks in '@'.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}

			for i, p := range args {
				if len(args) > 1 {
					if i > 0 {
						o.Println()
					}

					o.Printf("%s:\n", p)
				}

				if err := s.list(o, p, *long); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) list(o *IO, p string, long bool) error {
	entries, err := fs.ReadDirAll(s.fsys, p)
	if fs.KindOf(err) == fs.KindNotADirectory && s.fsys.IsFile(p) {
		entries = []fs.DirEntry{{Name: p, Path: p, Kind: fs.EntryFile}}
	} else if err != nil {
		return err
	}

	for _, e := range entries {
		if !long {
			o.Println(displayName(e))

			continue
		}

		line, err := s.longLine(e)
		if err != nil {
			return err
		}

		o.Println(line)
	}

	return nil
}

func displayName(e fs.DirEntry) string {
	switch e.Kind {
	case fs.EntryDir:
		return e.Name + "/"
	case fs.EntrySymlink:
		return e.Name + "@"
	default:
		return e.Name
	}
}

func (s *Shell) longLine(e fs.DirEntry) (string, error) {
	if e.Kind == fs.EntrySymlink {
		target, err := s.fsys.Readlink(e.Path)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("l ---- %8s %s -> %s", "", e.Name, target), nil
	}

	mode, err := s.fsys.Mode(e.Path)
	if err != nil {
		return "", err
	}

	kind := "-"
	if e.Kind == fs.EntryDir {
		kind = "d"
	}

	return fmt.Sprintf("%s %04o %8d %s", kind, uint32(mode), s.fsys.Len(e.Path), displayName(e)), nil
}

func (s *Shell) treeCmd() *Command {
	return &Command{
		Flags: newFlags("tree"),
		Usage: "tree [dir]",
		Short: "Show a directory tree",
		Long:  "Show a directory tree. Symlinks are shown with their target and never descended into.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			dir := "."

			switch len(args) {
			case 0:
			case 1:
				dir = args[0]
			default:
				return errArgs
			}

			o.Println(dir)

			return s.tree(o, dir, "")
		},
	}
}

func (s *Shell) tree(o *IO, dir, indent string) error {
	entries, err := fs.ReadDirAll(s.fsys, dir)
	if err != nil {
		return err
	}

	for i, e := range entries {
		branch, next := "├── ", "│   "
		if i == len(entries)-1 {
			branch, next = "└── ", "    "
		}

		name := displayName(e)

		if e.Kind == fs.EntrySymlink {
			target, err := s.fsys.Readlink(e.Path)
			if err != nil {
				return err
			}

			name = e.Name + " -> " + target
		}

		o.Println(indent + branch + name)

		if e.Kind == fs.EntryDir {
			if err := s.tree(o, e.Path, indent+next); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Shell) mkdirCmd() *Command {
	flags := newFlags("mkdir")
	parents := flags.BoolP("parents", "p", false, "create missing parents, no error if the directory exists")

	return &Command{
		Flags: flags,
		Usage: "mkdir [-p] <dir>...",
		Short: "Create directories",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				create := s.fsys.CreateDir
				if *parents {
					create = s.fsys.CreateDirAll
				}

				if err := create(p); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) touchCmd() *Command {
	return &Command{
		Flags: newFlags("touch"),
		Usage: "touch <file>...",
		Short: "Create empty files",
		Long:  "Create empty files. Existing files are left untouched.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				err := s.fsys.CreateFile(p, nil)
				if fs.KindOf(err) == fs.KindAlreadyExists && s.fsys.IsFile(p) {
					continue
				}

				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) writeCmd() *Command {
	flags := newFlags("write")
	appendMode := flags.BoolP("append", "a", false, "append instead of replacing")
	noNewline := flags.BoolP("no-newline", "n", false, "do not add a trailing newline")
	create := flags.Bool("new", false, "fail if the file exists")
	existing := flags.Bool("existing", false, "fail if the file does not exist")

	return &Command{
		Flags: flags,
		Usage: "write [flags] <file> <text>...",
		Short: "Write text to a file",
		Long:  "Write the remaining arguments, joined by spaces, to a file.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			if *create && (*existing || *appendMode) {
				return errors.New("--new cannot be combined with --existing or --append")
			}

			p := args[0]

			text := strings.Join(args[1:], " ")
			if !*noNewline {
				text += "\n"
			}

			data := []byte(text)

			switch {
			case *create:
				return s.fsys.CreateFile(p, data)
			case *appendMode:
				old, err := s.fsys.ReadFile(p)
				if err != nil && (*existing || fs.KindOf(err) != fs.KindNotFound) {
					return err
				}

				return s.fsys.WriteFile(p, append(old, data...))
			case *existing:
				return s.fsys.OverwriteFile(p, data)
			default:
				return s.fsys.WriteFile(p, data)
			}
		},
	}
}

func (s *Shell) catCmd() *Command {
	return &Command{
		Flags: newFlags("cat"),
		Usage: "cat <file>...",
		Short: "Print file contents",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				if _, err := s.fsys.ReadFileInto(p, o.Out()); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) rmCmd() *Command {
	flags := newFlags("rm")
	recursive := flags.BoolP("recursive", "r", false, "remove directories and their contents")
	force := flags.BoolP("force", "f", false, "ignore missing paths")

	return &Command{
		Flags: flags,
		Usage: "rm [-rf] <path>...",
		Short: "Remove files and symlinks",
		Long:  "Remove files and symlinks. With -r, directories are removed with everything below them.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				var err error

				if *recursive && !s.isSymlink(p) && s.fsys.IsDir(p) {
					err = s.fsys.RemoveDirAll(p)
				} else {
					err = s.fsys.RemoveFile(p)
				}

				if *force && fs.KindOf(err) == fs.KindNotFound {
					continue
				}

				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) rmdirCmd() *Command {
	return &Command{
		Flags: newFlags("rmdir"),
		Usage: "rmdir <dir>...",
		Short: "Remove empty directories",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				if err := s.fsys.RemoveDir(p); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) mvCmd() *Command {
	return &Command{
		Flags: newFlags("mv"),
		Usage: "mv <from> <to>",
		Short: "Rename or move a path",
		Long: "Rename or move a path. An existing file destination is replaced; an existing\n" +
			"directory destination is replaced by a directory source.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) != 2 {
				return errArgs
			}

			return s.fsys.Rename(args[0], args[1])
		},
	}
}

func (s *Shell) cpCmd() *Command {
	return &Command{
		Flags: newFlags("cp"),
		Usage: "cp <from> <to>",
		Short: "Copy a file",
		Long:  "Copy the content and mode of a file. The destination is created or replaced.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) != 2 {
				return errArgs
			}

			return s.fsys.Copy(args[0], args[1])
		},
	}
}

func (s *Shell) lnCmd() *Command {
	flags := newFlags("ln")
	_ = flags.BoolP("symbolic", "s", true, "create a symlink (the only kind supported)")

	return &Command{
		Flags: flags,
		Usage: "ln [-s] <target> <link>",
		Short: "Create a symlink",
		Long:  "Create a symlink at <link> pointing to <target>. The target is stored verbatim and need not exist.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) != 2 {
				return errArgs
			}

			return s.fsys.Symlink(args[0], args[1])
		},
	}
}

func (s *Shell) readlinkCmd() *Command {
	return &Command{
		Flags: newFlags("readlink"),
		Usage: "readlink <link>",
		Short: "Print a symlink target",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errArgs
			}

			target, err := s.fsys.Readlink(args[0])
			if err != nil {
				return err
			}

			o.Println(target)

			return nil
		},
	}
}

func (s *Shell) statCmd() *Command {
	return &Command{
		Flags: newFlags("stat"),
		Usage: "stat <path>",
		Short: "Show kind, mode and size of a path",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errArgs
			}

			return s.stat(o, args[0])
		},
	}
}

func (s *Shell) stat(o *IO, p string) error {
	abs, err := s.abs(p)
	if err != nil {
		return err
	}

	if target, err := s.fsys.Readlink(p); err == nil {
		resolves := "dangling"

		switch {
		case s.fsys.IsDir(p):
			resolves = "dir"
		case s.fsys.IsFile(p):
			resolves = "file"
		}

		o.Printf("path: %s\nkind: symlink\ntarget: %s\nresolves: %s\n", abs, target, resolves)

		return nil
	}

	mode, err := s.fsys.Mode(p)
	if err != nil {
		return err
	}

	ro, err := s.fsys.Readonly(p)
	if err != nil {
		return err
	}

	kind := "file"
	if s.fsys.IsDir(p) {
		kind = "dir"
	}

	o.Printf("path: %s\nkind: %s\nmode: %04o\nreadonly: %t\nsize: %d\n", abs, kind, uint32(mode), ro, s.fsys.Len(p))

	return nil
}

func (s *Shell) chmodCmd() *Command {
	return &Command{
		Flags: newFlags("chmod"),
		Usage: "chmod <mode> <path>...",
		Short: "Set permission bits (octal)",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) < 2 {
				return errArgs
			}

			mode, err := parseMode(args[0])
			if err != nil {
				return err
			}

			for _, p := range args[1:] {
				if err := s.fsys.SetMode(p, mode); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func parseMode(s string) (iofs.FileMode, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil || n > uint64(iofs.ModePerm) {
		return 0, fmt.Errorf("invalid mode %q (want octal, e.g. 0644)", s)
	}

	return iofs.FileMode(n), nil
}

func (s *Shell) readonlyCmd(name string, readonly bool) *Command {
	short := "Make paths writable"
	if readonly {
		short = "Make paths readonly"
	}

	return &Command{
		Flags: newFlags(name),
		Usage: name + " <path>...",
		Short: short,
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) == 0 {
				return errArgs
			}

			for _, p := range args {
				if err := s.fsys.SetReadonly(p, readonly); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func (s *Shell) tmpCmd() *Command {
	return &Command{
		Flags: newFlags("tmp"),
		Usage: "tmp [prefix] | tmp ls | tmp release [dir]",
		Short: "Create, list or release temp dirs",
		Long: "Create a temp dir and print its path. The shell removes every temp dir it\n" +
			"holds on exit. 'tmp release' removes the most recent one (or the given one) now.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				switch args[0] {
				case "ls":
					s.printTempDirs(o)

					return nil
				case "release":
					if len(args) > 2 {
						return errArgs
					}

					target := ""
					if len(args) == 2 {
						target = args[1]
					}

					return s.releaseTempDir(target)
				}
			}

			if len(args) > 1 {
				return errArgs
			}

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			dir, err := s.fsys.TempDir(prefix)
			if err != nil {
				return err
			}

			s.temps = append(s.temps, dir)
			o.Println(dir.Path())

			return nil
		},
	}
}

func (s *Shell) dumpCmd() *Command {
	return &Command{
		Flags: newFlags("dump"),
		Usage: "dump [dir]",
		Short: "Print a directory as a YAML manifest",
		Long:  "Print a directory as a YAML manifest that 'seed' (or vfsh --seed) can rebuild.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			dir := "."

			switch len(args) {
			case 0:
			case 1:
				dir = args[0]
			default:
				return errArgs
			}

			root, err := s.abs(dir)
			if err != nil {
				return err
			}

			m, err := manifest.Snapshot(s.fsys, root)
			if err != nil {
				return err
			}

			data, err := manifest.Marshal(m)
			if err != nil {
				return err
			}

			o.Printf("%s", data)

			return nil
		},
	}
}

func (s *Shell) seedCmd() *Command {
	return &Command{
		Flags: newFlags("seed"),
		Usage: "seed <manifest.yaml> [dir]",
		Short: "Build a YAML manifest from the host disk into a directory",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errArgs
			}

			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}

			root, err := s.abs(dir)
			if err != nil {
				return err
			}

			return Seed(s.fsys, args[0], root)
		},
	}
}

// Seed reads a manifest from the host file at hostPath and applies it below
// root.
func Seed(fsys fs.FS, hostPath, root string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	defer func() { _ = f.Close() }()

	m, err := manifest.Parse(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", hostPath, err)
	}

	return manifest.Apply(fsys, root, m)
}

func (s *Shell) traceCmd() *Command {
	flags := newFlags("trace")
	last := flags.IntP("last", "n", 0, "only show the last N events")

	return &Command{
		Flags: flags,
		Usage: "trace [-n N]",
		Short: "Show recorded filesystem operations",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return errArgs
			}

			if s.traced == nil {
				return errTraceDisabled
			}

			events := s.traced.Events()
			if *last > 0 && *last < len(events) {
				events = events[len(events)-*last:]
			}

			for _, e := range events {
				o.Println(e.String())
			}

			return nil
		},
	}
}

func (s *Shell) chaosCmd() *Command {
	return &Command{
		Flags: newFlags("chaos"),
		Usage: "chaos [on|off|stats]",
		Short: "Toggle fault injection or show injected fault counts",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if s.chaos == nil {
				return errChaosDisabled
			}

			cmd := "stats"
			if len(args) == 1 {
				cmd = args[0]
			} else if len(args) > 1 {
				return errArgs
			}

			switch cmd {
			case "on":
				s.chaos.SetChaosMode(fs.ChaosModeActive)
			case "off":
				s.chaos.SetChaosMode(fs.ChaosModeNoOp)
			case "stats":
				st := s.chaos.Stats()
				o.Printf("read=%d partial_read=%d write=%d remove=%d rename=%d mkdir=%d metadata=%d readdir=%d partial_readdir=%d total=%d\n",
					st.ReadFails, st.PartialReads, st.WriteFails, st.RemoveFails, st.RenameFails,
					st.MkdirFails, st.MetadataFails, st.ReadDirFails, st.PartialReadDirs, st.Total())
			default:
				return fmt.Errorf("unknown chaos subcommand %q", cmd)
			}

			return nil
		},
	}
}

func (s *Shell) helpCmd() *Command {
	return &Command{
		Flags:   newFlags("help"),
		Usage:   "help [command]",
		Short:   "Show help",
		Aliases: []string{"?"},
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 1 {
				cmd := s.lookup(args[0])
				if cmd == nil {
					return fmt.Errorf("unknown command: %s", args[0])
				}

				cmd.PrintHelp(o)

				return nil
			}

			o.Println("Commands:")

			for _, c := range s.commands() {
				o.Println(c.HelpLine())
			}

			o.Println()
			o.Println("Arguments may be quoted: write notes.txt \"two  spaces\"")

			return nil
		},
	}
}

func (s *Shell) exitCmd() *Command {
	return &Command{
		Flags:   newFlags("exit"),
		Usage:   "exit",
		Short:   "Leave the shell",
		Aliases: []string{"quit", "q"},
		Exec: func(_ context.Context, _ *IO, _ []string) error {
			s.exited = true

			return nil
		},
	}
}
