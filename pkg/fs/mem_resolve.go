package fs

import (
	"slices"
	"strings"
)

// maxSymlinkHops bounds symlink expansions per resolution, like the kernel's
// MAXSYMLINKS.
const maxSymlinkHops = 40

// step is one directory on the way from the root to a location.
type step struct {
	n    *node
	name string
}

// location is the result of resolving a path.
//
// dirs holds the directories from the root down to the containing
// directory; it is empty only when the location is the root itself. node is
// nil when the final name does not exist in the containing directory.
// dirOnly is set when the path ended in a slash and so may only name a
// directory.
type location struct {
	dirs    []step
	name    string
	node    *node
	dirOnly bool
}

// locationOf returns the location of the directory on top of stack.
func locationOf(stack []step) location {
	top := stack[len(stack)-1]

	return location{dirs: stack[:len(stack)-1], name: top.name, node: top.n}
}

func (l location) isRoot() bool { return len(l.dirs) == 0 }

// parent returns the containing directory, or nil for the root.
func (l location) parent() *node {
	if l.isRoot() {
		return nil
	}

	return l.dirs[len(l.dirs)-1].n
}

// stack returns the steps from the root down to and including the location.
func (l location) stack() []step {
	return append(slices.Clip(l.dirs), step{n: l.node, name: l.name})
}

// path returns the canonical absolute path of the location.
func (l location) path() string {
	if l.isRoot() {
		return "/"
	}

	var sb strings.Builder

	for _, s := range l.dirs[1:] {
		sb.WriteByte('/')
		sb.WriteString(s.name)
	}

	sb.WriteByte('/')
	sb.WriteString(l.name)

	return sb.String()
}

// walker resolves one path. It tracks which symlinks are being expanded so
// a link that leads back to itself is reported instead of recursing forever.
type walker struct {
	op     string
	path   string
	root   *node
	hops   int
	active map[*node]struct{}
}

func newWalker(root *node, op, path string) *walker {
	return &walker{op: op, path: path, root: root, active: make(map[*node]struct{})}
}

// walk resolves p starting at the directory on top of stack (or at the root
// when p is absolute). A symlink in the final position is followed only when
// follow is set; symlinks anywhere else are always followed.
func (w *walker) walk(stack []step, p string, follow bool) (location, error) {
	if strings.HasPrefix(p, "/") {
		stack = []step{{n: w.root}}
	}

	segs := splitPath(p)
	if len(segs) == 0 {
		return locationOf(stack), nil
	}

	for i, seg := range segs {
		last := i == len(segs)-1

		switch seg {
		case ".":
			if last {
				return locationOf(stack), nil
			}

			continue
		case "..":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}

			if last {
				return locationOf(stack), nil
			}

			continue
		}

		child := stack[len(stack)-1].n.child(seg)
		if child == nil {
			if last {
				return location{dirs: stack, name: seg}, nil
			}

			return location{}, errNotFound(w.op, w.path)
		}

		if child.isSymlink() && (follow || !last) {
			loc, err := w.expand(stack, child)
			if err != nil {
				return location{}, err
			}

			if last {
				return loc, nil
			}

			switch {
			case loc.node == nil:
				return location{}, errNotFound(w.op, w.path)
			case !loc.node.isDir():
				return location{}, errNotDir(w.op, w.path)
			}

			stack = loc.stack()

			continue
		}

		if last {
			return location{dirs: stack, name: seg, node: child}, nil
		}

		if !child.isDir() {
			return location{}, errNotDir(w.op, w.path)
		}

		stack = append(slices.Clip(stack), step{n: child, name: seg})
	}

	return locationOf(stack), nil
}

// expand resolves the target of link relative to the directory on top of
// stack.
func (w *walker) expand(stack []step, link *node) (location, error) {
	if _, busy := w.active[link]; busy {
		return location{}, errLoop(w.op, w.path)
	}

	w.hops++
	if w.hops > maxSymlinkHops {
		return location{}, errLoop(w.op, w.path)
	}

	w.active[link] = struct{}{}
	defer delete(w.active, link)

	return w.walk(stack, link.target, true)
}

// splitPath splits p on "/" and drops empty segments.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	segs := parts[:0]

	for _, part := range parts {
		if part != "" {
			segs = append(segs, part)
		}
	}

	return segs
}

// lexicalParent drops the last segment of p without interpreting "." or
// "..". It returns p unchanged when there is nothing left to drop.
func lexicalParent(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return p
	}

	i := strings.LastIndexByte(trimmed, '/')

	switch {
	case i < 0:
		if trimmed == "." {
			return p
		}

		return "."
	case i == 0:
		return "/"
	default:
		return trimmed[:i]
	}
}

// joinEntry appends name to the directory path dir as given by the caller.
func joinEntry(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}

	return dir + "/" + name
}
