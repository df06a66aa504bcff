// Package main provides the csp CLI for publishing Cassandra snapshots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	command := os.Args[1]

	// Dispatch to subcommand
	var err error
	switch command {
	case "snapshot":
		err = runSnapshot(ctx, os.Args[2:])
	case "list":
		err = runList(ctx, os.Args[2:])
	case "publish":
		err = runPublish(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "prune":
		err = runPrune(ctx, os.Args[2:])
	case "clear":
		err = runClear(ctx, os.Args[2:])
	case "version":
		err = runVersion(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		stop()
		os.Exit(exitUsage)
	}
	stop()

	if err != nil {
		var uerr *usageError
		if !errors.Is(err, flag.ErrHelp) && !(errors.As(err, &uerr) && uerr.reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func printUsage() {
	fmt.Println(`csp - Cassandra Snapshot Publisher

Usage:
  csp <command> [options]

Commands:
  snapshot  Take a snapshot with nodetool
  list      List snapshots on this node
  publish   Package, sign and publish a snapshot
  verify    Verify a published snapshot
  watch     Publish snapshots as soon as they stop changing
  prune     Delete publications outside the retention policy
  clear     Clear a snapshot with nodetool
  version   Print version information

Global options (accepted by every command):
  --config      Configuration file (default $CSP_CONFIG or /etc/csp/csp.yaml)
  --log-level   debug, info, warn or error
  --log-format  json or console

Use "csp <command> --help" for more information about a command.`)
}
