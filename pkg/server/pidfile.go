package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// PidFile is a locked file holding the daemon's process id.
type PidFile struct {
	path string
	file *os.File
}

// CreatePidFile creates path, takes an exclusive non-blocking lock on it
// and only then replaces its contents with "<pid>\n". It fails, leaving
// the file untouched, when another process holds the lock.
func CreatePidFile(path string) (*PidFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create pid file %q: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock pid file %q: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to truncate pid file %q: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write pid file %q: %w", path, err)
	}

	return &PidFile{path: path, file: f}, nil
}

// Path returns the file name.
func (p *PidFile) Path() string {
	return p.path
}

// Remove deletes the file and releases the lock. A file that is already
// gone is not an error.
func (p *PidFile) Remove() error {
	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if cerr := p.file.Close(); err == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to remove pid file %q: %w", p.path, err)
	}
	return nil
}
