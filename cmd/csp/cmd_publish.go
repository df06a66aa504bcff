package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/google/renameio/v2"

	"github.com/beobal/csp/internal/domain-adapters/gateways"
	orchestrators "github.com/beobal/csp/internal/domain-orchestrators"
	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/external-adapters/koanf"
	"github.com/beobal/csp/internal/external-adapters/prometheus"
)

// PublishReport is written by --report
type PublishReport struct {
	Cluster         string             `json:"cluster"`
	Node            string             `json:"node"`
	Tag             string             `json:"tag"`
	Destination     string             `json:"destination"`
	Status          string             `json:"status"` // published, skipped, dry_run, failed
	Message         string             `json:"message,omitempty"`
	Archives        []ArchiveReport    `json:"archives,omitempty"`
	TotalSize       int64              `json:"total_size"`
	UploadedBytes   int64              `json:"uploaded_bytes"`
	Signed          bool               `json:"signed"`
	Cleared         bool               `json:"cleared"`
	DurationSeconds float64            `json:"duration_seconds"`
	Steps           map[string]float64 `json:"steps_seconds,omitempty"`
}

// ArchiveReport describes one uploaded archive
type ArchiveReport struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	Files  int    `json:"files"`
}

// publishFlags are shared by publish and watch
type publishFlags struct {
	dests       listFlag
	keyspaces   listFlag
	tables      listFlag
	compression *string
	concurrency *int
	signKey     *string
	clear       *bool
	force       *bool
}

func addPublishFlags(fs *flag.FlagSet) *publishFlags {
	pf := &publishFlags{}
	fs.Var(&pf.dests, "dest", "Destination URI: path, file://, http(s):// or github://owner/repo (repeatable)")
	fs.Var(&pf.keyspaces, "keyspace", "Only publish these keyspaces (repeatable or comma separated)")
	fs.Var(&pf.tables, "table", "Only publish these tables, as keyspace.table (repeatable)")
	pf.compression = fs.String("compression", "", "Archive compression: gzip or zstd")
	pf.concurrency = fs.Int("concurrency", 0, "Tables packaged and uploaded in parallel")
	pf.signKey = fs.String("sign-key", "", "OpenPGP private key used to sign the manifest")
	pf.clear = fs.Bool("clear", false, "Clear the snapshot after a successful publication")
	pf.force = fs.Bool("force", false, "Publish again even if the destination already has this snapshot")
	return pf
}

func (pf *publishFlags) apply(cfg *koanf.Config) {
	if len(pf.dests) > 0 {
		cfg.Publish.Destinations = pf.dests
	}
	applyScope(cfg, pf.keyspaces, pf.tables)
	if *pf.compression != "" {
		cfg.Publish.Compression = *pf.compression
	}
	if *pf.concurrency != 0 {
		cfg.Publish.Concurrency = *pf.concurrency
	}
	if *pf.signKey != "" {
		cfg.Signing.KeyFile = *pf.signKey
	}
	if *pf.clear {
		cfg.Publish.ClearSnapshot = true
	}
	if *pf.force {
		cfg.Publish.Force = true
	}
}

// newPublisher wires the publish orchestrator from configuration
func (a *app) newPublisher() (*orchestrators.PublishOrchestrator, error) {
	dest, err := a.destinations()
	if err != nil {
		return nil, err
	}
	signer, err := a.signer()
	if err != nil {
		return nil, err
	}

	return orchestrators.NewPublishOrchestrator(
		a.snapshotFinder(),
		a.nodetool(),
		gateways.NewPackager(),
		dest,
		signer,
		gateways.NewFileLocker(),
		prometheus.New(a.cfg.Metrics.Textfile),
		orchestrators.PublishConfig{
			Cluster:       a.node.ClusterName,
			Node:          a.nodeName,
			StagingDir:    a.cfg.Publish.StagingDir,
			Compression:   entities.Compression(a.cfg.Publish.Compression),
			Concurrency:   a.cfg.Publish.Concurrency,
			IncludeSystem: a.cfg.Publish.IncludeSystem,
			NewTag:        gateways.NewTag,
		},
		a.log,
	), nil
}

func runPublish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	pf := addPublishFlags(fs)
	var (
		tag        = fs.String("tag", "", "Publish this existing snapshot (default: take a new one)")
		take       = fs.Bool("take", false, "Take the snapshot named by --tag before publishing")
		skipFlush  = fs.Bool("skip-flush", false, "Do not flush memtables when taking the snapshot")
		dryRun     = fs.Bool("dry-run", false, "Show what would be published without uploading")
		reportFile = fs.String("report", "", "Write a JSON report to this file")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp publish [options]

Take (or adopt) a snapshot, package every table, write a checksummed and
optionally signed manifest, and upload everything to each destination.

Without --tag a new snapshot named csp-<ULID> is taken. With --tag the
existing snapshot of that name is published, unless --take is also given.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  csp publish --dest /backups
  csp publish --tag nightly --dest github://acme/cassandra-backups --sign-key key.asc
  csp publish --keyspace shop --dest https://dav.example.com/backups --clear
  csp publish --tag nightly --dry-run
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *take && *tag == "" {
		return usageErrorf("--take needs --tag")
	}

	a, err := global.load(pf.apply)
	if err != nil {
		return err
	}

	publisher, err := a.newPublisher()
	if err != nil {
		return err
	}

	result, err := publisher.Publish(ctx, orchestrators.PublishRequest{
		Tag:       *tag,
		Take:      *tag == "" || *take,
		Keyspaces: a.cfg.Publish.Keyspaces,
		Tables:    a.cfg.Publish.Tables,
		SkipFlush: *skipFlush,
		Clear:     a.cfg.Publish.ClearSnapshot,
		Force:     a.cfg.Publish.Force,
		DryRun:    *dryRun,
	})

	if *reportFile != "" && result != nil {
		if werr := writeReport(*reportFile, buildReport(result)); werr != nil {
			a.log.Warn("Failed to write report", interfaces.Err(werr))
		}
	}
	if err != nil {
		return err
	}

	fmt.Println(result.GetPublishSummary())
	if result.Manifest != nil {
		fmt.Printf("Size: %s\n", datasize.ByteSize(result.Manifest.TotalSize).HumanReadable())
	}
	return nil
}

func buildReport(r *orchestrators.PublishResult) PublishReport {
	report := PublishReport{
		Cluster:         r.Key.Cluster,
		Node:            r.Key.Node,
		Tag:             r.Key.Tag,
		Destination:     r.Destination,
		UploadedBytes:   r.UploadedBytes,
		Cleared:         r.Cleared,
		DurationSeconds: r.TotalDuration.Seconds(),
		Steps: map[string]float64{
			"snapshot": r.SnapshotDuration.Seconds(),
			"package":  r.PackageDuration.Seconds(),
			"upload":   r.UploadDuration.Seconds(),
		},
	}

	switch {
	case !r.Success:
		report.Status = "failed"
		if r.Error != nil {
			report.Message = r.Error.Error()
		}
	case r.DryRun:
		report.Status = "dry_run"
	case r.Skipped:
		report.Status = "skipped"
	default:
		report.Status = "published"
	}

	if r.Manifest != nil {
		report.TotalSize = r.Manifest.TotalSize
		report.Signed = r.Manifest.Signed
	}
	for _, a := range r.Artifacts {
		report.Archives = append(report.Archives, ArchiveReport{
			Name:   a.Name,
			Size:   a.Size,
			SHA256: a.SHA256,
			Files:  a.FileCount,
		})
	}
	return report
}

func writeReport(path string, report PublishReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0640); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
