package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "lock"

// ErrLocked is returned when a live process already owns a session's lock.
var ErrLocked = errors.New("session is locked by another process")

// fileLock is single-writer ownership of a session directory. The lock file
// is created with O_CREATE|O_EXCL and holds the owner's pid; a lock whose pid
// no longer exists is stale and may be broken.
type fileLock struct {
	path string
}

// acquireLock takes ownership of dir, breaking a stale lock if the recorded
// owner is dead.
func acquireLock(dir string) (*fileLock, error) {
	path := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		pid, readErr := readLockPID(path)
		if readErr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		// Owner is gone (or the file is garbage): break the stale lock.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to break stale session lock: %w", rmErr)
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write session lock: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to close session lock: %w", err)
	}

	return &fileLock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *fileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}

// lockOwner reports the pid holding dir's lock, if the holder is still alive.
func lockOwner(dir string) (int, bool) {
	pid, err := readLockPID(filepath.Join(dir, lockFileName))
	if err != nil {
		return 0, false
	}
	return pid, pidAlive(pid)
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read session lock: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed session lock: %w", err)
	}
	return pid, nil
}

// pidAlive probes a pid with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
