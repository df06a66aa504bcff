package gateways

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

func TestFileLocker_TryLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	locker := NewFileLocker()

	unlock, err := locker.TryLock(dir)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	// flock locks are per open file description, so a second handle conflicts
	if _, err := locker.TryLock(dir); !errors.Is(err, gateways.ErrLocked) {
		t.Errorf("second TryLock error = %v, want ErrLocked", err)
	}

	if err := unlock.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	again, err := locker.TryLock(dir)
	if err != nil {
		t.Fatalf("TryLock after unlock failed: %v", err)
	}
	if err := again.Unlock(); err != nil {
		t.Errorf("Unlock failed: %v", err)
	}
}
