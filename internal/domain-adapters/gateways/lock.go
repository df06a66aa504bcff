package gateways

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

// LockFileName is created inside the staging directory
const LockFileName = ".csp.lock"

// FileLocker takes an exclusive flock on <dir>/.csp.lock
type FileLocker struct{}

// NewFileLocker creates a file locker
func NewFileLocker() *FileLocker {
	return &FileLocker{}
}

type fileLock struct {
	lock *flock.Flock
}

func (l *fileLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.lock.Path(), err)
	}
	return nil
}

// TryLock acquires the lock without waiting
func (FileLocker) TryLock(dir string) (gateways.Unlocker, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("staging directory %s: %w", dir, gateways.ErrLocked)
	}

	return &fileLock{lock: lock}, nil
}
