// Package fifo wraps the few raw syscalls needed to create, inspect and open
// POSIX named pipes.
package fifo

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrNoReader is returned by OpenWriter while nothing has the FIFO open for reading.
var ErrNoReader = errors.New("fifo has no reader")

// Make creates a FIFO at path. An existing entry yields an error matching os.ErrExist.
func Make(path string, perm uint32) error {
	if err := unix.Mkfifo(path, perm); err != nil {
		return &os.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// IsFIFO reports whether path names a FIFO. Symlinks are followed.
// A missing path yields an error matching os.ErrNotExist.
func IsFIFO(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return st.Mode&unix.S_IFMT == unix.S_IFIFO, nil
}

// OpenReader opens the read end. It blocks until a writer opens the FIFO.
func OpenReader(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// OpenWriter opens the write end without waiting for a reader, returning
// ErrNoReader if there is none yet. Writes on the returned file still block
// while the kernel pipe buffer is full.
func OpenWriter(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, ErrNoReader
		}
		return nil, err
	}
	return f, nil
}
