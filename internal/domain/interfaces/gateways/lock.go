package gateways

import "errors"

// ErrLocked is returned when another run holds the staging lock
var ErrLocked = errors.New("already locked by another csp run")

// Unlocker releases a lock acquired by a Locker
type Unlocker interface {
	Unlock() error
}

// Locker serializes publication runs sharing a staging directory
type Locker interface {
	// TryLock acquires the lock without waiting, returning ErrLocked when held elsewhere
	TryLock(dir string) (Unlocker, error)
}
