// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/interfaces/repositories"
	"github.com/beobal/csp/internal/domain/services"
)

// PublishOrchestrator coordinates the complete publication workflow
type PublishOrchestrator struct {
	snapshots repositories.SnapshotRepository
	tool      gateways.SnapshotTool
	packager  gateways.Packager
	dest      gateways.Destination
	signer    gateways.Signer
	locker    gateways.Locker
	metrics   gateways.MetricsRecorder
	manifests *services.ManifestService
	checksums *services.ChecksumService
	config    PublishConfig
	logger    interfaces.Logger
}

// PublishConfig holds configuration for the orchestrator
type PublishConfig struct {
	Cluster       string
	Node          string
	StagingDir    string
	Compression   entities.Compression
	Concurrency   int
	IncludeSystem bool
	NewTag        func(now time.Time) string // names snapshots taken without --tag
	Now           func() time.Time
}

// NewPublishOrchestrator creates a new publish orchestrator. A nil signer
// publishes unsigned manifests; nil metrics discards observations.
func NewPublishOrchestrator(
	snapshots repositories.SnapshotRepository,
	tool gateways.SnapshotTool,
	packager gateways.Packager,
	dest gateways.Destination,
	signer gateways.Signer,
	locker gateways.Locker,
	metrics gateways.MetricsRecorder,
	config PublishConfig,
	logger interfaces.Logger,
) *PublishOrchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Compression == "" {
		config.Compression = entities.CompressionGzip
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if metrics == nil {
		metrics = gateways.NoOpMetrics{}
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &PublishOrchestrator{
		snapshots: snapshots,
		tool:      tool,
		packager:  packager,
		dest:      dest,
		signer:    signer,
		locker:    locker,
		metrics:   metrics,
		manifests: services.NewManifestService(),
		checksums: services.NewChecksumService(),
		config:    config,
		logger:    logger,
	}
}

// PublishRequest describes one publication run
type PublishRequest struct {
	Tag       string // existing snapshot to publish, or name for the new one
	Take      bool   // take the snapshot with nodetool first
	Keyspaces []string
	Tables    []string // "keyspace.table"
	SkipFlush bool
	Clear     bool // clear the snapshot after a successful publication
	Force     bool // re-publish a key that already has a manifest
	DryRun    bool
}

// PublishResult contains the result of a publication run
type PublishResult struct {
	Key              entities.PublicationKey
	Snapshot         *entities.Snapshot
	TableDirs        []string // dry run with Take: tables nodetool would snapshot
	Artifacts        []*entities.Artifact
	Manifest         *entities.Manifest
	Destination      string
	Skipped          bool
	DryRun           bool
	Cleared          bool
	UploadedBytes    int64
	SnapshotDuration time.Duration
	PackageDuration  time.Duration
	UploadDuration   time.Duration
	TotalDuration    time.Duration
	Success          bool
	Error            error
}

func (o *PublishOrchestrator) filter(req PublishRequest) entities.SnapshotFilter {
	return entities.SnapshotFilter{
		Keyspaces:     req.Keyspaces,
		Tables:        req.Tables,
		IncludeSystem: o.config.IncludeSystem,
	}
}

// Publish executes the complete publication workflow
func (o *PublishOrchestrator) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	startTime := o.config.Now()
	result := &PublishResult{DryRun: req.DryRun, Destination: o.dest.Describe()}

	fail := func(err error) (*PublishResult, error) {
		result.Error = err
		result.TotalDuration = o.config.Now().Sub(startTime)
		if !req.DryRun {
			o.record(result)
		}
		return result, err
	}

	// Step 1: Resolve the tag before anything touches nodetool or the disk
	tag := req.Tag
	if tag == "" {
		if !req.Take {
			return fail(fmt.Errorf("a snapshot tag is required unless a snapshot is taken"))
		}
		if o.config.NewTag == nil {
			return fail(fmt.Errorf("a snapshot tag is required"))
		}
		tag = o.config.NewTag(startTime)
	}
	if err := entities.ValidateTag(tag); err != nil {
		return fail(err)
	}
	result.Key = entities.PublicationKey{Cluster: o.config.Cluster, Node: o.config.Node, Tag: tag}
	log := o.logger.With(interfaces.F("tag", tag))

	// A dry run never calls nodetool, so there is nothing to discover yet
	if req.DryRun && req.Take {
		dirs, err := o.snapshots.TableDirs(ctx, o.filter(req))
		if err != nil {
			return fail(fmt.Errorf("failed to list tables: %w", err))
		}
		result.TableDirs = dirs
		result.Success = true
		result.TotalDuration = o.config.Now().Sub(startTime)
		return result, nil
	}

	// Step 2: One run per staging directory
	if !req.DryRun {
		unlock, err := o.locker.TryLock(o.config.StagingDir)
		if err != nil {
			return fail(err)
		}
		defer func() {
			if err := unlock.Unlock(); err != nil {
				log.Warn("Failed to release staging lock", interfaces.Err(err))
			}
		}()
	}

	// Step 3: Take the snapshot
	if req.Take {
		snapStart := o.config.Now()
		keyspaces, table := snapshotScope(req.Keyspaces, req.Tables)
		log.Info("Taking snapshot", interfaces.F("keyspaces", keyspaces), interfaces.F("table", table))
		if err := o.tool.Snapshot(ctx, tag, keyspaces, table, req.SkipFlush); err != nil {
			return fail(fmt.Errorf("failed to take snapshot: %w", err))
		}
		result.SnapshotDuration = o.config.Now().Sub(snapStart)
	}

	// Step 4: Discover snapshot files
	snapshot, err := o.snapshots.GetSnapshot(ctx, tag, o.filter(req))
	if err != nil {
		return fail(fmt.Errorf("failed to load snapshot: %w", err))
	}
	if len(snapshot.Tables) == 0 {
		return fail(fmt.Errorf("snapshot %q: %w", tag, entities.ErrEmptySnapshot))
	}
	result.Snapshot = snapshot

	// Step 5: Skip keys that are already published
	exists, err := o.dest.Exists(ctx, result.Key)
	if err != nil {
		return fail(fmt.Errorf("failed to check destination: %w", err))
	}
	if exists && !req.Force {
		log.Info("Publication already exists, skipping", interfaces.F("destination", result.Destination))
		result.Skipped = true
		result.Success = true
		result.TotalDuration = o.config.Now().Sub(startTime)
		if !req.DryRun {
			o.record(result)
		}
		return result, nil
	}

	if req.DryRun {
		result.Success = true
		result.TotalDuration = o.config.Now().Sub(startTime)
		return result, nil
	}

	workDir := filepath.Join(o.config.StagingDir, tag)
	if err := os.RemoveAll(workDir); err != nil {
		return fail(fmt.Errorf("failed to clear staging directory: %w", err))
	}
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return fail(fmt.Errorf("failed to create staging directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("Failed to remove staging directory", interfaces.F("dir", workDir), interfaces.Err(err))
		}
	}()

	// Step 6: Package tables
	packageStart := o.config.Now()
	artifacts, err := o.packageTables(ctx, snapshot, workDir)
	if err != nil {
		return fail(err)
	}
	result.Artifacts = artifacts
	result.PackageDuration = o.config.Now().Sub(packageStart)

	// Step 7: Manifest, checksum, signature
	manifest := o.manifests.Build(result.Key, snapshot, artifacts, o.config.Now())
	if o.signer != nil {
		manifest.Signed = true
		manifest.SignerKey = o.signer.Fingerprint()
	}
	result.Manifest = manifest

	controls, err := o.writeControlFiles(workDir, manifest)
	if err != nil {
		return fail(err)
	}

	// Step 8: Upload archives, then control files with the manifest last
	uploadStart := o.config.Now()
	if err := o.dest.Begin(ctx, result.Key); err != nil {
		return fail(fmt.Errorf("failed to start publication: %w", err))
	}
	uploaded, err := o.upload(ctx, result.Key, artifacts, controls)
	result.UploadedBytes = uploaded
	if err != nil {
		return fail(err)
	}

	// Step 9: Make the publication visible
	if err := o.dest.Finalize(ctx, result.Key); err != nil {
		return fail(fmt.Errorf("failed to finalize publication: %w", err))
	}
	result.UploadDuration = o.config.Now().Sub(uploadStart)

	// Step 10: Clear the snapshot only once it is safely published
	if req.Clear {
		if err := o.tool.ClearSnapshot(ctx, tag, nil); err != nil {
			log.Warn("Failed to clear snapshot", interfaces.Err(err))
		} else {
			result.Cleared = true
		}
	}

	result.Success = true
	result.TotalDuration = o.config.Now().Sub(startTime)
	o.record(result)

	log.Info("Published snapshot",
		interfaces.F("destination", result.Destination),
		interfaces.F("archives", len(artifacts)),
		interfaces.F("bytes", manifest.TotalSize),
		interfaces.F("duration", result.TotalDuration.String()))
	return result, nil
}

// snapshotScope maps keyspace and table filters onto nodetool arguments;
// nodetool accepts a single table only together with exactly one keyspace
func snapshotScope(keyspaces, tables []string) ([]string, string) {
	if len(tables) == 0 {
		return keyspaces, ""
	}

	scope := make(map[string]bool)
	for _, ks := range keyspaces {
		scope[ks] = true
	}
	for _, t := range tables {
		ks, _, _ := strings.Cut(t, ".")
		scope[ks] = true
	}

	if len(tables) == 1 && len(scope) == 1 {
		ks, table, _ := strings.Cut(tables[0], ".")
		return []string{ks}, table
	}

	out := make([]string, 0, len(scope))
	for ks := range scope {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out, ""
}

func (o *PublishOrchestrator) packageTables(ctx context.Context, snapshot *entities.Snapshot, workDir string) ([]*entities.Artifact, error) {
	artifacts := make([]*entities.Artifact, len(snapshot.Tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, table := range snapshot.Tables {
		g.Go(func() error {
			artifact, err := o.packager.PackageTable(gctx, table, workDir, o.config.Compression)
			if err != nil {
				return fmt.Errorf("failed to package %s: %w", table.QualifiedName(), err)
			}
			o.logger.Debug("Packaged table",
				interfaces.F("table", table.QualifiedName()),
				interfaces.F("files", artifact.FileCount),
				interfaces.F("bytes", artifact.Size))
			artifacts[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// controlFile is a staged object uploaded after the archives
type controlFile struct {
	name string
	path string
}

// writeControlFiles writes the manifest, its checksum and its signature.
// The manifest is returned last, in upload order.
func (o *PublishOrchestrator) writeControlFiles(workDir string, manifest *entities.Manifest) ([]controlFile, error) {
	manifestPath := filepath.Join(workDir, entities.ManifestName)
	if err := o.manifests.Write(manifestPath, manifest); err != nil {
		return nil, err
	}

	checksumPath, err := o.checksums.WriteChecksumFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum manifest: %w", err)
	}
	controls := []controlFile{{name: entities.ManifestChecksumName, path: checksumPath}}

	if o.signer != nil {
		sigPath := filepath.Join(workDir, entities.ManifestSignatureName)
		if err := o.sign(manifestPath, sigPath); err != nil {
			return nil, err
		}
		controls = append(controls, controlFile{name: entities.ManifestSignatureName, path: sigPath})
	}

	return append(controls, controlFile{name: entities.ManifestName, path: manifestPath}), nil
}

func (o *PublishOrchestrator) sign(manifestPath, sigPath string) (err error) {
	//nolint:gosec // G304: manifest was just written to the staging directory
	in, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	//nolint:gosec // G304: signature path is inside the staging directory
	out, err := os.OpenFile(sigPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create signature: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to write signature: %w", cerr)
		}
	}()

	if err := o.signer.SignDetached(in, out); err != nil {
		return fmt.Errorf("failed to sign manifest: %w", err)
	}
	return nil
}

func (o *PublishOrchestrator) upload(ctx context.Context, key entities.PublicationKey, artifacts []*entities.Artifact, controls []controlFile) (int64, error) {
	sizes := make([]int64, len(artifacts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, a := range artifacts {
		g.Go(func() error {
			n, err := o.uploadFile(gctx, key, a.Name, a.Path)
			sizes[i] = n
			return err
		})
	}
	err := g.Wait()

	var total int64
	for _, n := range sizes {
		total += n
	}
	if err != nil {
		return total, err
	}

	// Sequential: the manifest must land after everything it describes
	for _, c := range controls {
		n, err := o.uploadFile(ctx, key, c.name, c.path)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *PublishOrchestrator) uploadFile(ctx context.Context, key entities.PublicationKey, name, path string) (int64, error) {
	//nolint:gosec // G304: path is a staged artifact
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", name, err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if err := o.dest.Upload(ctx, key, name, f, info.Size()); err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	o.logger.Debug("Uploaded object", interfaces.F("name", name), interfaces.F("bytes", info.Size()))
	return info.Size(), nil
}

// record publishes run metrics; metric failures never fail the run
func (o *PublishOrchestrator) record(result *PublishResult) {
	obs := gateways.PublishObservation{
		Success:    result.Success,
		Skipped:    result.Skipped,
		Bytes:      result.UploadedBytes,
		Archives:   len(result.Artifacts),
		Duration:   result.TotalDuration,
		FinishedAt: o.config.Now(),
	}
	if result.Snapshot != nil {
		obs.SnapshotSize = result.Snapshot.Size()
	}
	o.metrics.ObservePublish(obs)
	if err := o.metrics.Flush(); err != nil {
		o.logger.Warn("Failed to write metrics", interfaces.Err(err))
	}
}

// GetPublishSummary returns a human-readable summary of the run
func (r *PublishResult) GetPublishSummary() string {
	switch {
	case !r.Success:
		return fmt.Sprintf("Publish failed: %v", r.Error)
	case r.DryRun && r.Snapshot == nil:
		return fmt.Sprintf("Dry run: would snapshot %d tables as %s", len(r.TableDirs), r.Key)
	case r.Skipped:
		return fmt.Sprintf("Skipped: %s already published to %s", r.Key, r.Destination)
	case r.DryRun:
		return fmt.Sprintf("Dry run: would publish %s (%d tables, %d files, %d bytes) to %s",
			r.Key, len(r.Snapshot.Tables), r.Snapshot.FileCount(), r.Snapshot.Size(), r.Destination)
	}

	summary := fmt.Sprintf(`Publish successful!
Publication: %s
Destination: %s
Archives: %d
Snapshot: %v
Package: %v
Upload: %v
Total: %v`,
		r.Key,
		r.Destination,
		len(r.Artifacts),
		r.SnapshotDuration,
		r.PackageDuration,
		r.UploadDuration,
		r.TotalDuration,
	)
	if r.Manifest != nil && r.Manifest.Signed {
		summary += fmt.Sprintf("\nSigned by: %s", r.Manifest.SignerKey)
	}
	if r.Cleared {
		summary += "\nSnapshot cleared"
	}
	return summary
}
