package orchestrators

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/interfaces/repositories"
)

// Publisher publishes one snapshot
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// WatchConfig holds configuration for the watch orchestrator
type WatchConfig struct {
	Settle        time.Duration  // quiet period before a tag is published
	Poll          time.Duration  // rescan interval for new keyspaces and tables
	Request       PublishRequest // template for every publication; Tag and Take are overridden
	IncludeSystem bool
	Now           func() time.Time
}

// WatchOrchestrator publishes snapshots created by other tooling as soon as
// they stop changing
type WatchOrchestrator struct {
	publisher Publisher
	snapshots repositories.SnapshotRepository
	watcher   gateways.DirWatcher
	config    WatchConfig
	logger    interfaces.Logger

	mu      sync.Mutex
	pending map[string]time.Time // tag -> last event
	done    map[string]bool
}

// NewWatchOrchestrator creates a new watch orchestrator
func NewWatchOrchestrator(
	publisher Publisher,
	snapshots repositories.SnapshotRepository,
	watcher gateways.DirWatcher,
	config WatchConfig,
	logger interfaces.Logger,
) *WatchOrchestrator {
	if config.Settle <= 0 {
		config.Settle = 30 * time.Second
	}
	if config.Poll <= 0 {
		config.Poll = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &WatchOrchestrator{
		publisher: publisher,
		snapshots: snapshots,
		watcher:   watcher,
		config:    config,
		logger:    logger,
		pending:   make(map[string]time.Time),
		done:      make(map[string]bool),
	}
}

func (o *WatchOrchestrator) filter() entities.SnapshotFilter {
	return entities.SnapshotFilter{
		Keyspaces:     o.config.Request.Keyspaces,
		Tables:        o.config.Request.Tables,
		IncludeSystem: o.config.IncludeSystem,
	}
}

// Run watches until ctx is cancelled. Snapshots already on disk are
// published first; already published ones are skipped by the publisher.
func (o *WatchOrchestrator) Run(ctx context.Context) error {
	o.watcher.OnChange(o.observe)
	if err := o.rescan(ctx); err != nil {
		return err
	}
	if err := o.adoptExisting(ctx); err != nil {
		return err
	}

	go o.watcher.Run(ctx)

	tick := o.config.Settle / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	settleTicker := time.NewTicker(tick)
	defer settleTicker.Stop()
	pollTicker := time.NewTicker(o.config.Poll)
	defer pollTicker.Stop()

	o.logger.Info("Watching for snapshots",
		interfaces.F("settle", o.config.Settle.String()),
		interfaces.F("poll", o.config.Poll.String()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settleTicker.C:
			o.publishSettled(ctx)
		case <-pollTicker.C:
			if err := o.rescan(ctx); err != nil {
				o.logger.Warn("Rescan failed", interfaces.Err(err))
			}
		}
	}
}

// rescan watches every table's snapshots directory, or the table directory
// itself until its first snapshot creates one
func (o *WatchOrchestrator) rescan(ctx context.Context) error {
	dirs, err := o.snapshots.TableDirs(ctx, o.filter())
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		target := filepath.Join(dir, entities.SnapshotsDirName)
		if _, err := os.Stat(target); err != nil {
			target = dir
		}
		if err := o.watcher.Watch(target); err != nil {
			o.logger.Debug("Cannot watch directory", interfaces.F("path", target), interfaces.Err(err))
		}
	}
	return nil
}

// adoptExisting queues snapshots present at startup as already settled
func (o *WatchOrchestrator) adoptExisting(ctx context.Context) error {
	snapshots, err := o.snapshots.ListSnapshots(ctx, o.filter())
	if err != nil {
		return err
	}

	settled := o.config.Now().Add(-o.config.Settle)
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range snapshots {
		if _, ok := o.pending[s.Tag]; !ok {
			o.pending[s.Tag] = settled
		}
	}
	return nil
}

// observe handles one file system event
func (o *WatchOrchestrator) observe(path string) {
	base := filepath.Base(path)
	if base == entities.SnapshotsDirName {
		if err := o.watcher.Watch(path); err != nil {
			o.logger.Debug("Cannot watch directory", interfaces.F("path", path), interfaces.Err(err))
		}
		return
	}

	tag, ok := entities.SnapshotTagFromPath(path)
	if !ok {
		return
	}

	// The tag directory itself: watch it to see its files being written
	if filepath.Base(filepath.Dir(path)) == entities.SnapshotsDirName {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := o.watcher.Watch(path); err != nil {
				o.logger.Debug("Cannot watch directory", interfaces.F("path", path), interfaces.Err(err))
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done[tag] {
		return
	}
	o.pending[tag] = o.config.Now()
}

// settled removes and returns the tags that have been quiet long enough
func (o *WatchOrchestrator) settled() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.config.Now().Add(-o.config.Settle)
	var tags []string
	for tag, last := range o.pending {
		if !last.After(cutoff) {
			tags = append(tags, tag)
			delete(o.pending, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

func (o *WatchOrchestrator) publishSettled(ctx context.Context) {
	for _, tag := range o.settled() {
		if ctx.Err() != nil {
			return
		}

		req := o.config.Request
		req.Tag = tag
		req.Take = false

		log := o.logger.With(interfaces.F("tag", tag))
		result, err := o.publisher.Publish(ctx, req)
		if err != nil {
			if errors.Is(err, gateways.ErrLocked) {
				// Another run owns the staging directory; try again after it settles
				o.mu.Lock()
				o.pending[tag] = o.config.Now()
				o.mu.Unlock()
				log.Info("Staging directory busy, will retry")
				continue
			}
			log.Error("Publish failed, waiting for the next change", interfaces.Err(err))
			continue
		}

		o.mu.Lock()
		o.done[tag] = true
		o.mu.Unlock()

		if result.Skipped {
			log.Debug("Already published")
		}
	}
}
