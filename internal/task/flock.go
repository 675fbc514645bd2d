package task

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock provides cross-process mutual exclusion on the tasks file using
// flock(2) on a sibling "{file}.lock", so an `autopilot decide` or an
// external task tool never interleaves with the engine's read-modify-write.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(tasksFile string) *fileLock {
	return &fileLock{path: tasksFile + ".lock"}
}

// Lock acquires an exclusive lock, blocking until available.
func (fl *fileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (fl *fileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	defer func() { fl.file = nil }()

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return fl.file.Close()
}
