// Package config loads vfsh configuration from HuJSON files and CLI overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/calvinalkan/vfs/internal/logging"
	"github.com/tailscale/hujson"
)

// Backend names accepted in the "backend" field.
const (
	BackendMem = "mem"
	BackendOS  = "os"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".vfsh.json"

var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config file")
	ErrInvalidValue = errors.New("invalid config value")
)

// Config holds all configuration options.
type Config struct {
	Backend  string `json:"backend,omitempty"`
	Root     string `json:"root,omitempty"`
	TempRoot string `json:"temp_root,omitempty"`
	Seed     string `json:"seed,omitempty"`
	History  *bool  `json:"history,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
	Trace    *int   `json:"trace,omitempty"`

	// Chaos is the fault rate applied to every operation class; 0 disables
	// fault injection. ChaosSeed makes a run reproducible; 0 picks one.
	Chaos     float64 `json:"chaos,omitempty"`
	ChaosSeed int64   `json:"chaos_seed,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd string `json:"-"`
	RootAbs      string `json:"-"` // Starting directory inside the chosen backend
	SeedAbs      string `json:"-"` // Host path of the seed manifest, empty if none

	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the default configuration.
func Default() Config {
	history := true
	trace := 0

	return Config{
		Backend:  BackendMem,
		History:  &history,
		LogLevel: logging.DefaultLevel,
		Trace:    &trace,
	}
}

// HistoryEnabled reports whether shell history should be persisted.
func (c Config) HistoryEnabled() bool {
	return c.History == nil || *c.History
}

// TraceCapacity returns the trace ring size; 0 disables tracing.
func (c Config) TraceCapacity() int {
	if c.Trace == nil {
		return 0
	}

	return *c.Trace
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd; os.Getwd() when empty
	ConfigPath      string            // -c/--config
	Overrides       Config            // CLI flags; zero fields are ignored
	Env             map[string]string // environment variables
}

// globalPath returns $XDG_CONFIG_HOME/vfsh/config.json or
// ~/.config/vfsh/config.json, or "" when neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "vfsh", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "vfsh", "config.json")
	}

	return ""
}

// Load merges configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config (.vfsh.json in the working directory, if present)
// 4. Explicit config file via ConfigPath
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if p := globalPath(input.Env); p != "" {
		globalCfg, loaded, err := loadFile(p, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = p
			cfg = merge(cfg, globalCfg)
		}
	}

	projectFile, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectFile, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectFile) {
			projectFile = filepath.Join(workDir, projectFile)
		}

		if _, err := os.Stat(projectFile); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, input.ConfigPath)
		}
	}

	projectCfg, loaded, err := loadFile(projectFile, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectFile
		cfg = merge(cfg, projectCfg)
	}

	cfg = merge(cfg, input.Overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.RootAbs = resolveRoot(cfg.Backend, cfg.Root, workDir)

	if cfg.Seed != "" {
		cfg.SeedAbs = cfg.Seed
		if !filepath.IsAbs(cfg.SeedAbs) {
			cfg.SeedAbs = filepath.Join(workDir, cfg.SeedAbs)
		}
	}

	return cfg, nil
}

// resolveRoot makes root absolute. The os backend resolves against the host
// working directory, the mem backend against its own "/".
func resolveRoot(backend, root, workDir string) string {
	if backend == BackendMem {
		return path.Join("/", root)
	}

	if root == "" {
		return workDir
	}

	if filepath.IsAbs(root) {
		return root
	}

	return filepath.Join(workDir, root)
}

// loadFile loads a config file. Missing files are only an error if mustExist.
func loadFile(p string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileRead, p)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, p, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// "backend": "" would silently fall back to the default otherwise.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, ok := raw["backend"].(string); ok && val == "" {
		return Config{}, fmt.Errorf("%w: backend cannot be empty", ErrInvalidValue)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Backend != "" {
		base.Backend = overlay.Backend
	}

	if overlay.Root != "" {
		base.Root = overlay.Root
	}

	if overlay.TempRoot != "" {
		base.TempRoot = overlay.TempRoot
	}

	if overlay.Seed != "" {
		base.Seed = overlay.Seed
	}

	if overlay.History != nil {
		base.History = overlay.History
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.Trace != nil {
		base.Trace = overlay.Trace
	}

	if overlay.Chaos != 0 {
		base.Chaos = overlay.Chaos
	}

	if overlay.ChaosSeed != 0 {
		base.ChaosSeed = overlay.ChaosSeed
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Backend != BackendMem && cfg.Backend != BackendOS {
		return fmt.Errorf("%w: backend must be %q or %q, got %q", ErrInvalidValue, BackendMem, BackendOS, cfg.Backend)
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidValue, err)
	}

	if cfg.TraceCapacity() < 0 {
		return fmt.Errorf("%w: trace must be >= 0, got %d", ErrInvalidValue, cfg.TraceCapacity())
	}

	if cfg.Chaos < 0 || cfg.Chaos > 1 {
		return fmt.Errorf("%w: chaos must be between 0 and 1, got %g", ErrInvalidValue, cfg.Chaos)
	}

	if cfg.Backend == BackendOS && cfg.TempRoot != "" && !filepath.IsAbs(cfg.TempRoot) {
		return fmt.Errorf("%w: temp_root must be absolute, got %q", ErrInvalidValue, cfg.TempRoot)
	}

	return nil
}
