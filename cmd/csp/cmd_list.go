package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/external-adapters/koanf"
)

// SnapshotListing is the JSON form of one snapshot
type SnapshotListing struct {
	Tag       string         `json:"tag"`
	CreatedAt time.Time      `json:"created_at"`
	Keyspaces []string       `json:"keyspaces"`
	Tables    []TableListing `json:"tables"`
	Files     int            `json:"files"`
	Size      int64          `json:"size"`
}

// TableListing is the JSON form of one table snapshot
type TableListing struct {
	Keyspace string `json:"keyspace"`
	Table    string `json:"table"`
	TableID  string `json:"table_id,omitempty"`
	Files    int    `json:"files"`
	Size     int64  `json:"size"`
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	var keyspaces, tables listFlag
	fs.Var(&keyspaces, "keyspace", "Only list these keyspaces (repeatable or comma separated)")
	fs.Var(&tables, "table", "Only list these tables, as keyspace.table (repeatable)")
	var (
		tag           = fs.String("tag", "", "Only show this snapshot")
		jsonOutput    = fs.Bool("json", false, "Print JSON instead of text")
		includeSystem = fs.Bool("include-system", false, "Include system keyspaces")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp list [options]

List the snapshots found in this node's data directories.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  csp list
  csp list --keyspace shop --json
  csp list --tag nightly
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *tag != "" {
		if err := entities.ValidateTag(*tag); err != nil {
			return err
		}
	}

	a, err := global.load(func(cfg *koanf.Config) {
		applyScope(cfg, keyspaces, tables)
		if *includeSystem {
			cfg.Publish.IncludeSystem = true
		}
	})
	if err != nil {
		return err
	}

	finder := a.snapshotFinder()
	var snapshots []*entities.Snapshot
	if *tag != "" {
		snapshot, err := finder.GetSnapshot(ctx, *tag, a.filter())
		if err != nil {
			return err
		}
		snapshots = []*entities.Snapshot{snapshot}
	} else {
		snapshots, err = finder.ListSnapshots(ctx, a.filter())
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
	}

	if *jsonOutput {
		listings := make([]SnapshotListing, 0, len(snapshots))
		for _, s := range snapshots {
			listings = append(listings, toListing(s))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	fmt.Printf("Snapshots on %s/%s (%d total):\n\n", a.node.ClusterName, a.nodeName, len(snapshots))
	for _, s := range snapshots {
		fmt.Printf("  %-40s %s\n", s.Tag, s.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  %-40s Tables: %d, files: %d, size: %s\n", "",
			len(s.Tables), s.FileCount(), datasize.ByteSize(s.Size()).HumanReadable())
		fmt.Printf("  %-40s Keyspaces: %v\n", "", s.Keyspaces())
		fmt.Println()
	}
	return nil
}

func toListing(s *entities.Snapshot) SnapshotListing {
	listing := SnapshotListing{
		Tag:       s.Tag,
		CreatedAt: s.CreatedAt,
		Keyspaces: s.Keyspaces(),
		Tables:    make([]TableListing, 0, len(s.Tables)),
		Files:     s.FileCount(),
		Size:      s.Size(),
	}
	for _, t := range s.Tables {
		listing.Tables = append(listing.Tables, TableListing{
			Keyspace: t.Keyspace,
			Table:    t.Table,
			TableID:  t.TableID,
			Files:    len(t.Files),
			Size:     t.Size(),
		})
	}
	return listing
}
