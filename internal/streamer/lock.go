package streamer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type fileLock struct {
	file *os.File
}

var flockFn = unix.Flock

// tryFileLock takes an exclusive advisory lock on path without waiting. A
// lock held by another process returns ErrBusy.
func tryFileLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir %s: %w", path, err)
	}
	file, err := openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	if err := flockFn(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("%w: lock %s held by another process", ErrBusy, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &fileLock{file: file}, nil
}

// lockFileMode lets the service user and an operator running the CLI as
// another user contend on the same file.
const lockFileMode os.FileMode = 0o666

// openLockFile creates the lock world-writable despite the umask. flock only
// needs an open descriptor, so a file owned by someone else that we cannot
// write is opened read-only.
func openLockFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFileMode)
	if err == nil {
		_ = file.Chmod(lockFileMode)
		return file, nil
	}
	if errors.Is(err, os.ErrPermission) {
		return os.Open(path)
	}
	return nil, err
}

func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := flockFn(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
