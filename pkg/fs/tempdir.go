package fs

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// TempDir is a guard for a temporary directory created by [FS.TempDir].
//
// Close removes the directory and everything in it through the filesystem
// that created it, so cleanup behaves the same for every backend:
//
//	dir, err := fsys.TempDir("build")
//	if err != nil {
//	    return err
//	}
//	defer dir.Close()
//
//	err = fsys.WriteFile(dir.Path()+"/out.txt", data)
//
// A directory that is already gone is not an error. Any other cleanup failure
// is logged as a warning and returned; callers using a deferred Close may
// ignore it.
type TempDir struct {
	fsys FS
	path string
	log  zerolog.Logger

	once sync.Once
	err  error
}

func newTempDir(fsys FS, path string, log zerolog.Logger) *TempDir {
	return &TempDir{fsys: fsys, path: path, log: log}
}

// Path returns the absolute path of the directory.
func (d *TempDir) Path() string { return d.path }

// Close removes the directory. Only the first call does any work; later
// calls return the first result.
func (d *TempDir) Close() error {
	d.once.Do(func() {
		err := d.fsys.RemoveDirAll(d.path)
		if err == nil || errors.Is(err, ErrNotFound) {
			return
		}

		d.log.Warn().Err(err).Str("path", d.path).Msg("temp dir cleanup failed")
		d.err = err
	})

	return d.err
}
