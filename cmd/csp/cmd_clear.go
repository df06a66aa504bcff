package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/beobal/csp/internal/domain/entities"
)

func runClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	var keyspaces listFlag
	fs.Var(&keyspaces, "keyspace", "Keyspace to clear (repeatable or comma separated; default all)")
	tag := fs.String("tag", "", "Snapshot tag to clear (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp clear --tag <tag> [options]

Remove a snapshot from this node with nodetool clearsnapshot.

Options:
`)
		fs.PrintDefaults()
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *tag == "" {
		fs.Usage()
		return usageErrorf("--tag is required")
	}
	if err := entities.ValidateTag(*tag); err != nil {
		return err
	}

	a, err := global.load(nil)
	if err != nil {
		return err
	}

	if err := a.nodetool().ClearSnapshot(ctx, *tag, keyspaces); err != nil {
		return err
	}

	fmt.Printf("Snapshot cleared: %s\n", *tag)
	return nil
}
