package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	orchestrators "github.com/beobal/csp/internal/domain-orchestrators"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/external-adapters/fsnotify"
	"github.com/beobal/csp/internal/external-adapters/koanf"
)

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	pf := addPublishFlags(fs)
	var (
		settle = fs.Duration("settle", 0, "Quiet period before a new snapshot is published (default watch.settle)")
		poll   = fs.Duration("poll", 0, "Rescan interval for new keyspaces and tables (default watch.poll)")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp watch [options]

Watch the data directories and publish every snapshot created by other
tooling (nodetool, Cassandra's auto_snapshot) once its files stop changing.
Runs until interrupted.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  csp watch --dest /backups --clear
  csp watch --dest github://acme/cassandra-backups --settle 2m
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := global.load(func(cfg *koanf.Config) {
		pf.apply(cfg)
		if *settle != 0 {
			cfg.Watch.Settle = *settle
		}
		if *poll != 0 {
			cfg.Watch.Poll = *poll
		}
	})
	if err != nil {
		return err
	}

	publisher, err := a.newPublisher()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher(a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			a.log.Warn("Failed to close watcher", interfaces.Err(err))
		}
	}()

	orch := orchestrators.NewWatchOrchestrator(publisher, a.snapshotFinder(), watcher, orchestrators.WatchConfig{
		Settle: a.cfg.Watch.Settle,
		Poll:   a.cfg.Watch.Poll,
		Request: orchestrators.PublishRequest{
			Keyspaces: a.cfg.Publish.Keyspaces,
			Tables:    a.cfg.Publish.Tables,
			Clear:     a.cfg.Publish.ClearSnapshot,
			Force:     a.cfg.Publish.Force,
		},
		IncludeSystem: a.cfg.Publish.IncludeSystem,
	}, a.log)

	fmt.Printf("Watching %d data directories on %s/%s (Ctrl-C to stop)\n",
		len(a.node.DataFileDirectories), a.node.ClusterName, a.nodeName)
	if err := orch.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Stopped")
	return nil
}
