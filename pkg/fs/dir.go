package fs

import (
	"errors"
	"io"
)

// EntryKind is the kind of a directory entry.
type EntryKind uint8

const (
	EntryFile EntryKind = iota
	EntryDir
	EntrySymlink
)

func (k EntryKind) String() string {
	switch k {
	case EntryDir:
		return "dir"
	case EntrySymlink:
		return "symlink"
	default:
		return "file"
	}
}

// DirEntry describes one child of a directory. The kind describes the entry
// itself; a symlink is reported as [EntrySymlink] whatever it points to.
type DirEntry struct {
	// Name is the entry name within its directory.
	Name string
	// Path is the directory path passed to [FS.ReadDir] joined with Name.
	Path string
	// Kind is the node kind of the entry.
	Kind EntryKind
}

// IsDir reports whether the entry is a directory.
func (e DirEntry) IsDir() bool { return e.Kind == EntryDir }

// DirReader is a lazy, finite, non-restartable sequence of [DirEntry].
//
// Next returns [io.EOF] once every entry has been returned. Close releases
// resources held by the reader; it is safe to call more than once.
//
//	dr, err := fsys.ReadDir("/src")
//	if err != nil {
//	    return err
//	}
//	defer dr.Close()
//
//	for {
//	    entry, err := dr.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(entry.Name)
//	}
type DirReader interface {
	Next() (DirEntry, error)
	Close() error
}

// ReadDirAll drains the reader for path and returns every entry.
func ReadDirAll(fsys FS, path string) ([]DirEntry, error) {
	dr, err := fsys.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var entries []DirEntry

	for {
		entry, nextErr := dr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			return entries, errors.Join(nextErr, dr.Close())
		}

		entries = append(entries, entry)
	}

	return entries, dr.Close()
}

// sliceDirReader yields entries from a snapshot taken when it was created.
type sliceDirReader struct {
	entries []DirEntry
	next    int
	closed  bool
}

func (r *sliceDirReader) Next() (DirEntry, error) {
	if r.closed || r.next >= len(r.entries) {
		return DirEntry{}, io.EOF
	}

	entry := r.entries[r.next]
	r.next++

	return entry, nil
}

func (r *sliceDirReader) Close() error {
	r.closed = true
	r.entries = nil

	return nil
}

var _ DirReader = (*sliceDirReader)(nil)
