package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beobal/csp/internal/domain-adapters/gateways"
	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/external-adapters/koanf"
)

func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	var keyspaces listFlag
	fs.Var(&keyspaces, "keyspace", "Keyspace to snapshot (repeatable or comma separated; default all)")
	var (
		tag       = fs.String("tag", "", "Snapshot tag (default csp-<ULID>)")
		table     = fs.String("table", "", "Single table to snapshot, as keyspace.table")
		skipFlush = fs.Bool("skip-flush", false, "Do not flush memtables before taking the snapshot")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp snapshot [options]

Take a snapshot on this node with nodetool and print its tag.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  csp snapshot
  csp snapshot --tag nightly --keyspace shop
  csp snapshot --table shop.orders --skip-flush
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	scope, cf, err := tableScope(keyspaces, *table)
	if err != nil {
		return err
	}

	a, err := global.load(nil)
	if err != nil {
		return err
	}

	name := *tag
	if name == "" {
		name = gateways.NewTag(time.Now())
	}
	if err := entities.ValidateTag(name); err != nil {
		return err
	}

	if err := a.nodetool().Snapshot(ctx, name, scope, cf, *skipFlush); err != nil {
		return err
	}

	fmt.Printf("Snapshot taken: %s\n", name)
	return nil
}

// tableScope maps --keyspace and --table onto nodetool arguments
func tableScope(keyspaces []string, table string) ([]string, string, error) {
	if table == "" {
		return keyspaces, "", nil
	}
	ks, t, ok := strings.Cut(table, ".")
	if !ok || ks == "" || t == "" {
		return nil, "", usageErrorf("--table must be keyspace.table, got %q", table)
	}
	if len(keyspaces) > 1 || (len(keyspaces) == 1 && keyspaces[0] != ks) {
		return nil, "", usageErrorf("--table %s conflicts with --keyspace %s", table, strings.Join(keyspaces, ","))
	}
	return []string{ks}, t, nil
}

// applyScope copies --keyspace and --table into the publish settings
func applyScope(cfg *koanf.Config, keyspaces, tables []string) {
	if len(keyspaces) > 0 {
		cfg.Publish.Keyspaces = keyspaces
	}
	if len(tables) > 0 {
		cfg.Publish.Tables = tables
	}
}
