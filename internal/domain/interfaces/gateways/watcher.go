package gateways

import "context"

// DirWatcher reports file system changes under watched directories
type DirWatcher interface {
	// Watch adds a directory; adding the same directory twice is a no-op
	Watch(path string) error

	// OnChange registers a callback invoked with the path of every created or written entry
	OnChange(callback func(path string))

	// Run delivers events until ctx is done or the watcher is closed
	Run(ctx context.Context)

	Close() error
}
