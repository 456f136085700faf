package fs

import (
	iofs "io/fs"
	"slices"
)

type nodeKind uint8

const (
	dirNode nodeKind = iota
	fileNode
	symlinkNode
)

func (k nodeKind) entryKind() EntryKind {
	switch k {
	case dirNode:
		return EntryDir
	case symlinkNode:
		return EntrySymlink
	default:
		return EntryFile
	}
}

// node is one element of the in-memory tree.
//
// Directories own their children. A node is reachable through exactly one
// parent; symlinks only store a path and never create containment edges.
// Symlinks have no permission bits of their own.
type node struct {
	kind nodeKind
	perm iofs.FileMode

	data   []byte // fileNode
	target string // symlinkNode

	// dirNode. names keeps insertion order for ReadDir.
	names    []string
	children map[string]*node
}

func newDir(perm iofs.FileMode) *node {
	return &node{kind: dirNode, perm: perm, children: make(map[string]*node)}
}

func newFile(data []byte, perm iofs.FileMode) *node {
	return &node{kind: fileNode, perm: perm, data: slices.Clone(data)}
}

func newSymlink(target string) *node {
	return &node{kind: symlinkNode, target: target}
}

func (n *node) isDir() bool     { return n.kind == dirNode }
func (n *node) isFile() bool    { return n.kind == fileNode }
func (n *node) isSymlink() bool { return n.kind == symlinkNode }

func (n *node) readonly() bool { return readonlyPerm(n.perm) }

func (n *node) child(name string) *node {
	return n.children[name]
}

// attach adds child under name. A node already stored under name is replaced
// in place, keeping its position in the listing order.
func (n *node) attach(name string, child *node) {
	if _, ok := n.children[name]; !ok {
		n.names = append(n.names, name)
	}

	n.children[name] = child
}

// detach removes name and returns the node stored under it.
func (n *node) detach(name string) *node {
	child, ok := n.children[name]
	if !ok {
		return nil
	}

	delete(n.children, name)

	if i := slices.Index(n.names, name); i >= 0 {
		n.names = slices.Delete(n.names, i, i+1)
	}

	return child
}

func (n *node) empty() bool { return len(n.children) == 0 }

// contains reports whether other is n or lives somewhere below n.
func (n *node) contains(other *node) bool {
	if n == other {
		return true
	}

	if !n.isDir() {
		return false
	}

	for _, c := range n.children {
		if c.contains(other) {
			return true
		}
	}

	return false
}

// firstReadonlyDir returns the relative path of the first readonly directory
// in the subtree rooted at n (n itself included, reported as ""), or false.
func (n *node) firstReadonlyDir() (string, bool) {
	if !n.isDir() {
		return "", false
	}

	if n.readonly() {
		return "", true
	}

	for _, name := range n.names {
		rel, found := n.children[name].firstReadonlyDir()
		if !found {
			continue
		}

		if rel == "" {
			return name, true
		}

		return name + "/" + rel, true
	}

	return "", false
}
