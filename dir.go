package memgraph

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jbajic/memgraph/z"
)

const (
	lockFileName = "LOCK"
)

type (
	// directoryLockGuard holds a lock on a directory and a pid file inside. The pid file isn't
	// part of the locking mechanism, it's just advisory.
	directoryLockGuard struct {
		// File handle on the directory, which we've flocked.
		file *os.File

		// The absolute path to our pid file.
		path string

		// Was this a shared lock for a read-only instance.
		readOnly bool
	}
)

// acquireDirectoryLock gets a lock on the directory (using flock), writing our pid to
// pidFileName inside it for diagnostics.
func acquireDirectoryLock(dirPath, pidFileName string, readOnly bool) (*directoryLockGuard, error) {
	// Convert to absolute path so that Release still works even if we do an unbalanced chdir in
	// the meantime.
	absPidFilePath, err := filepath.Abs(filepath.Join(dirPath, pidFileName))
	if err != nil {
		return nil, errors.Wrap(err, "cannot get absolute path for pid lock file")
	}

	file, err := os.Open(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open directory %q", dirPath)
	}

	if err := z.FlockDirectory(int(file.Fd()), readOnly); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err,
			"cannot acquire directory lock on %q, another process is using this directory",
			dirPath,
		)
	}

	if !readOnly {
		// Write our pid to the file.
		err = os.WriteFile(absPidFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0666)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "cannot write pid file %q", absPidFilePath)
		}
	}

	return &directoryLockGuard{
		file:     file,
		path:     absPidFilePath,
		readOnly: readOnly,
	}, nil
}

// release deletes the pid file and releases our lock on the directory.
func (g *directoryLockGuard) release() error {
	var err error
	if !g.readOnly {
		// It's important that we remove the pid file first so a new instance does not see a
		// stale pid.
		err = os.Remove(g.path)
	}

	if closeErr := g.file.Close(); err == nil {
		err = closeErr
	}
	g.file = nil

	return err
}

// openDir opens a directory for syncing.
func openDir(path string) (*os.File, error) {
	return os.Open(path)
}

// When you create or delete a file, you have to ensure the directory entry for the file is
// synced in order to guarantee the file is visible (if the system crashes).
func syncDir(dir string) error {
	f, err := openDir(dir)
	if err != nil {
		return errors.Wrapf(err, "while opening directory: %s", dir)
	}
	err = z.FileSync(f)
	closeErr := f.Close()
	if err != nil {
		return errors.Wrapf(err, "while syncing directory: %s", dir)
	}
	return errors.Wrapf(closeErr, "while closing directory: %s", dir)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

func createDirs(path string) error {
	dirExists, err := exists(path)
	if err != nil {
		return z.Wrapf(err, "invalid directory: %q", path)
	}
	if !dirExists {
		if err := os.MkdirAll(path, 0700); err != nil {
			return z.Wrapf(err, "error creating directory: %q", path)
		}
	}
	return nil
}
