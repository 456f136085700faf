package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/calvinalkan/vfs/internal/config"
	"github.com/calvinalkan/vfs/internal/logging"
	"github.com/calvinalkan/vfs/pkg/fs"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

type globalFlags struct {
	set *flag.FlagSet

	workDir    string
	configPath string
	backend    string
	root       string
	tempRoot   string
	seed       string
	logLevel   string
	trace      int
	chaos      float64
	chaosSeed  int64
	noHistory  bool
	exec       []string
}

func parseGlobalFlags(args []string) (*globalFlags, error) {
	g := &globalFlags{set: flag.NewFlagSet("vfsh", flag.ContinueOnError)}
	f := g.set

	f.SetOutput(&strings.Builder{})
	f.StringVarP(&g.workDir, "cwd", "C", "", "run as if started in `dir`")
	f.StringVarP(&g.configPath, "config", "c", "", "use the config `file`")
	f.StringVarP(&g.backend, "backend", "b", "", "filesystem backend: mem or os")
	f.StringVarP(&g.root, "root", "r", "", "starting directory inside the backend")
	f.StringVar(&g.tempRoot, "temp-root", "", "directory for 'tmp' dirs")
	f.StringVarP(&g.seed, "seed", "s", "", "YAML manifest applied to the root at startup")
	f.StringVar(&g.logLevel, "log-level", "", "debug, info, warn, error or off")
	f.IntVar(&g.trace, "trace", 0, "record the last `n` filesystem operations")
	f.Float64Var(&g.chaos, "chaos", 0, "inject faults at this `rate` (0..1)")
	f.Int64Var(&g.chaosSeed, "chaos-seed", 0, "seed for --chaos")
	f.BoolVar(&g.noHistory, "no-history", false, "do not read or write the history file")
	f.StringArrayVarP(&g.exec, "exec", "e", nil, "run a command line and exit (repeatable)")

	if err := f.Parse(args); err != nil {
		return g, err
	}

	if f.NArg() > 0 {
		return g, fmt.Errorf("unexpected argument: %s", f.Arg(0))
	}

	return g, nil
}

func (g *globalFlags) overrides() config.Config {
	cfg := config.Config{
		Backend:   g.backend,
		Root:      g.root,
		TempRoot:  g.tempRoot,
		Seed:      g.seed,
		LogLevel:  g.logLevel,
		Chaos:     g.chaos,
		ChaosSeed: g.chaosSeed,
	}

	if g.set.Changed("trace") {
		cfg.Trace = &g.trace
	}

	if g.noHistory {
		off := false
		cfg.History = &off
	}

	return cfg
}

func printUsage(w io.Writer, g *globalFlags) {
	_, _ = fmt.Fprintln(w, "vfsh - shell over an in-memory or OS filesystem")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage: vfsh [flags]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Reads commands from stdin when it is not a terminal.")
	_, _ = fmt.Fprintln(w, "Type 'help' inside the shell for the command list.")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Global flags:")
	_, _ = fmt.Fprint(w, g.set.FlagUsages())
}

// Run is the vfsh entry point. Returns the process exit code.
func Run(ctx context.Context, in io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	if len(args) > 0 {
		args = args[1:]
	}

	g, err := parseGlobalFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, g)

			return 0
		}

		_, _ = fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, g)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: g.workDir,
		ConfigPath:      g.configPath,
		Overrides:       g.overrides(),
		Env:             env,
	})
	if err != nil {
		_, _ = fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	level, _ := logging.ParseLevel(cfg.LogLevel) // validated by config.Load
	log := logging.Component(logging.New(level, errOut), "vfsh")

	sh, err := open(cfg, log)
	if err != nil {
		_, _ = fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	o := NewIO(out, errOut)
	code := sh.run(ctx, o, in, g.exec, historyFile(cfg, env))

	if err := sh.Close(); err != nil {
		o.Warn("temp dir cleanup failed", err.Error())

		if o.Finish() != 0 && code == 0 {
			code = 1
		}
	}

	return code
}

func historyFile(cfg config.Config, env map[string]string) string {
	if !cfg.HistoryEnabled() {
		return ""
	}

	return historyPath(env)
}

func (s *Shell) run(ctx context.Context, o *IO, in io.Reader, lines []string, histFile string) int {
	if len(lines) > 0 {
		for _, line := range lines {
			if code := s.Exec(ctx, o, line); code != 0 {
				return code
			}

			if s.exited {
				break
			}
		}

		return 0
	}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if err := s.interactive(ctx, o, histFile); err != nil {
			o.ErrPrintln("error:", err)

			return 1
		}

		return 0
	}

	if in == nil {
		return 0
	}

	failed, err := s.loop(ctx, o, newScriptReader(in))
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	if failed > 0 {
		return 1
	}

	return 0
}

// open builds the backend described by cfg and wraps it in the chaos and
// trace layers when enabled. The seed manifest is applied to the bare
// backend, so it is neither traced nor subject to injected faults.
func open(cfg config.Config, log zerolog.Logger) (*Shell, error) {
	fsLog := logging.Component(log, "fs")
	opts := fs.Options{Logger: &fsLog, TempRoot: cfg.TempRoot}

	var base fs.FS

	switch cfg.Backend {
	case config.BackendOS:
		base = fs.NewReal(opts)
	default:
		mem := fs.NewMem(opts)
		if err := mem.CreateDirAll(cfg.RootAbs); err != nil {
			return nil, err
		}

		base = mem
	}

	if cfg.SeedAbs != "" {
		if err := Seed(base, cfg.SeedAbs, cfg.RootAbs); err != nil {
			return nil, err
		}
	}

	if err := base.SetCurrentDir(cfg.RootAbs); err != nil {
		return nil, err
	}

	shellOpts := Options{FS: base, Home: cfg.RootAbs, Logger: &log}

	if cfg.Chaos > 0 {
		seed := cfg.ChaosSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		log.Info().Int64("seed", seed).Float64("rate", cfg.Chaos).Msg("fault injection enabled")

		shellOpts.Chaos = fs.NewChaos(shellOpts.FS, seed, &fs.ChaosConfig{
			ReadFailRate:       cfg.Chaos,
			PartialReadRate:    cfg.Chaos,
			WriteFailRate:      cfg.Chaos,
			RemoveFailRate:     cfg.Chaos,
			RenameFailRate:     cfg.Chaos,
			MkdirFailRate:      cfg.Chaos,
			MetadataFailRate:   cfg.Chaos,
			ReadDirFailRate:    cfg.Chaos,
			ReadDirPartialRate: cfg.Chaos,
			Logger:             &fsLog,
		})
		shellOpts.FS = shellOpts.Chaos
	}

	if n := cfg.TraceCapacity(); n > 0 {
		shellOpts.Traced = fs.NewTraced(shellOpts.FS, fs.TracedOptions{Capacity: n, Logger: &fsLog})
		shellOpts.FS = shellOpts.Traced
	}

	return New(shellOpts), nil
}
