// Package manifest describes a directory tree in YAML and builds or captures
// it on any [fs.FS].
//
// Example:
//
//	dirs:
//	  - path: logs
//	files:
//	  - path: etc/app.conf
//	    content: "port = 80\n"
//	    mode: "0600"
//	  - path: etc/locked
//	    readonly: true
//	symlinks:
//	  - path: current
//	    target: etc/app.conf
//
// Paths are relative to the root passed to [Apply] and [Snapshot].
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/calvinalkan/vfs/pkg/fs"

	"gopkg.in/yaml.v3"
)

// Default permissions; entries with these modes omit the mode in [Snapshot].
const (
	DefaultDirMode  Mode = 0o755
	DefaultFileMode Mode = 0o644
)

// ErrInvalidEntry is returned for entries with an empty, absolute or escaping
// path.
var ErrInvalidEntry = errors.New("invalid manifest entry")

// Manifest lists the nodes of a tree. Directories implied by file and symlink
// paths do not need their own entry.
type Manifest struct {
	Dirs     []Dir     `yaml:"dirs,omitempty"`
	Files    []File    `yaml:"files,omitempty"`
	Symlinks []Symlink `yaml:"symlinks,omitempty"`
}

type Dir struct {
	Path     string `yaml:"path"`
	Mode     Mode   `yaml:"mode,omitempty"`
	Readonly bool   `yaml:"readonly,omitempty"`
}

type File struct {
	Path     string `yaml:"path"`
	Content  string `yaml:"content,omitempty"`
	Mode     Mode   `yaml:"mode,omitempty"`
	Readonly bool   `yaml:"readonly,omitempty"`
}

type Symlink struct {
	Path   string `yaml:"path"`
	Target string `yaml:"target"`
}

// Mode is a permission mode written as an octal string ("0644").
// Zero means "backend default".
type Mode uint32

func (m Mode) Perm() iofs.FileMode { return iofs.FileMode(m) & iofs.ModePerm }

func (m Mode) String() string { return fmt.Sprintf("%04o", uint32(m)) }

func (m Mode) MarshalYAML() (any, error) {
	return m.String(), nil
}

func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: mode must be an octal string", value.Line)
	}

	n, err := strconv.ParseUint(value.Value, 8, 32)
	if err != nil || n > uint64(iofs.ModePerm) {
		return fmt.Errorf("line %d: invalid mode %q", value.Line, value.Value)
	}

	*m = Mode(n)

	return nil
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest

	err := dec.Decode(&m)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &m, nil
}

// Marshal encodes a manifest as YAML.
func Marshal(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	return buf.Bytes(), nil
}

// Apply builds m below root, creating root if needed. Existing files are
// overwritten.
//
// Modes and readonly flags are applied after all content exists, files
// first and then directories deepest first, so a readonly directory never
// blocks its own children.
func Apply(fsys fs.FS, root string, m *Manifest) error {
	if err := fsys.CreateDirAll(root); err != nil {
		return fmt.Errorf("manifest root: %w", err)
	}

	for _, d := range m.Dirs {
		p, err := entryPath(root, d.Path)
		if err != nil {
			return err
		}

		if err := fsys.CreateDirAll(p); err != nil {
			return fmt.Errorf("manifest dir %s: %w", d.Path, err)
		}
	}

	for _, f := range m.Files {
		p, err := entryPath(root, f.Path)
		if err != nil {
			return err
		}

		if err := fsys.CreateDirAll(path.Dir(p)); err != nil {
			return fmt.Errorf("manifest file %s: %w", f.Path, err)
		}

		if err := fsys.WriteFile(p, []byte(f.Content)); err != nil {
			return fmt.Errorf("manifest file %s: %w", f.Path, err)
		}
	}

	for _, s := range m.Symlinks {
		p, err := entryPath(root, s.Path)
		if err != nil {
			return err
		}

		if s.Target == "" {
			return fmt.Errorf("%w: symlink %s has no target", ErrInvalidEntry, s.Path)
		}

		if err := fsys.CreateDirAll(path.Dir(p)); err != nil {
			return fmt.Errorf("manifest symlink %s: %w", s.Path, err)
		}

		if err := fsys.Symlink(s.Target, p); err != nil {
			return fmt.Errorf("manifest symlink %s: %w", s.Path, err)
		}
	}

	for _, f := range m.Files {
		p, _ := entryPath(root, f.Path)

		if err := applyMode(fsys, p, f.Mode, f.Readonly); err != nil {
			return fmt.Errorf("manifest file %s: %w", f.Path, err)
		}
	}

	dirs := slices.Clone(m.Dirs)
	slices.SortStableFunc(dirs, func(a, b Dir) int {
		return depth(b.Path) - depth(a.Path)
	})

	for _, d := range dirs {
		p, _ := entryPath(root, d.Path)

		if err := applyMode(fsys, p, d.Mode, d.Readonly); err != nil {
			return fmt.Errorf("manifest dir %s: %w", d.Path, err)
		}
	}

	return nil
}

func applyMode(fsys fs.FS, p string, mode Mode, readonly bool) error {
	if mode != 0 {
		if err := fsys.SetMode(p, mode.Perm()); err != nil {
			return err
		}
	}

	if readonly {
		return fsys.SetReadonly(p, true)
	}

	return nil
}

func entryPath(root, rel string) (string, error) {
	clean := path.Clean(rel)

	if rel == "" || path.IsAbs(rel) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path %q", ErrInvalidEntry, rel)
	}

	return path.Join(root, clean), nil
}

func depth(p string) int {
	return strings.Count(path.Clean(p), "/")
}

// Snapshot captures the tree below root. Entries appear in directory listing
// order. Directories are listed only when empty or when their mode differs
// from [DefaultDirMode]; files only carry a mode when it differs from
// [DefaultFileMode]. Symlinks are recorded, never followed.
func Snapshot(fsys fs.FS, root string) (*Manifest, error) {
	m := &Manifest{}

	if err := snapshotDir(fsys, root, "", m); err != nil {
		return nil, err
	}

	return m, nil
}

func snapshotDir(fsys fs.FS, dir, rel string, m *Manifest) error {
	entries, err := fs.ReadDirAll(fsys, dir)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", dir, err)
	}

	for _, e := range entries {
		childRel := path.Join(rel, e.Name)

		switch e.Kind {
		case fs.EntrySymlink:
			target, err := fsys.Readlink(e.Path)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", e.Path, err)
			}

			m.Symlinks = append(m.Symlinks, Symlink{Path: childRel, Target: target})

		case fs.EntryFile:
			data, err := fsys.ReadFile(e.Path)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", e.Path, err)
			}

			mode, err := fsys.Mode(e.Path)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", e.Path, err)
			}

			f := File{Path: childRel, Content: string(data)}
			if Mode(mode) != DefaultFileMode {
				f.Mode = Mode(mode)
			}

			m.Files = append(m.Files, f)

		case fs.EntryDir:
			mode, err := fsys.Mode(e.Path)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", e.Path, err)
			}

			before := len(m.Dirs) + len(m.Files) + len(m.Symlinks)

			// Emptiness is only known after the walk; insert at listing position.
			at := len(m.Dirs)

			if err := snapshotDir(fsys, e.Path, childRel, m); err != nil {
				return err
			}

			empty := len(m.Dirs)+len(m.Files)+len(m.Symlinks) == before
			if empty || Mode(mode) != DefaultDirMode {
				d := Dir{Path: childRel}
				if Mode(mode) != DefaultDirMode {
					d.Mode = Mode(mode)
				}

				m.Dirs = slices.Insert(m.Dirs, at, d)
			}
		}
	}

	return nil
}
