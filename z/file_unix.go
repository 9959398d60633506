//go:build !windows

package z

import (
	"os"

	"golang.org/x/sys/unix"
)

// dataSyncFileFlag is O_DSYNC on platforms that support it, so that writes on files opened with
// the Sync flag do not return until the data has reached the disk.
const dataSyncFileFlag = unix.O_DSYNC

// FileSync flushes the file contents and metadata to stable storage.
func FileSync(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}

// FlockDirectory takes an advisory lock on the file descriptor, exclusive unless readOnly is
// set. It does not block; a held lock surfaces as an error.
func FlockDirectory(fd int, readOnly bool) error {
	how := unix.LOCK_EX | unix.LOCK_NB
	if readOnly {
		how = unix.LOCK_SH | unix.LOCK_NB
	}
	return unix.Flock(fd, how)
}

// FunlockDirectory drops an advisory lock previously taken with FlockDirectory.
func FunlockDirectory(fd int) error {
	return unix.Flock(fd, unix.LOCK_UN)
}
