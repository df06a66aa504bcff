package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/beobal/csp/internal/domain/interfaces"
	gwiface "github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/services"
	"github.com/beobal/csp/internal/external-adapters/koanf"
)

func runPrune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	var dests listFlag
	fs.Var(&dests, "dest", "Destination URI to prune (repeatable; default publish.destinations)")
	var (
		keep   = fs.Int("keep", -1, "Keep the newest N publications (default retention.keep)")
		maxAge = fs.Duration("max-age", -1, "Also keep publications younger than this (default retention.max_age)")
		dryRun = fs.Bool("dry-run", false, "Only print what would be deleted")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp prune [options]

Delete this node's publications that fall outside the retention policy.
Only destinations that can list publications (local directories and GitHub
releases) are pruned.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  csp prune --dest /backups --keep 7
  csp prune --keep 3 --max-age 720h --dry-run
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := global.load(func(cfg *koanf.Config) {
		if len(dests) > 0 {
			cfg.Publish.Destinations = dests
		}
		if *keep >= 0 {
			cfg.Retention.Keep = *keep
		}
		if *maxAge >= 0 {
			cfg.Retention.MaxAge = *maxAge
		}
	})
	if err != nil {
		return err
	}

	policy := services.RetentionPolicy{Keep: a.cfg.Retention.Keep, MaxAge: a.cfg.Retention.MaxAge}
	if policy.Disabled() {
		fmt.Println("Retention is disabled (set --keep or --max-age); nothing to prune")
		return nil
	}

	composite, err := a.destinations()
	if err != nil {
		return err
	}

	retention := services.NewRetentionService()
	now := time.Now()
	var errs []error
	for _, dest := range composite.Destinations() {
		lister, canList := dest.(gwiface.Lister)
		deleter, canDelete := dest.(gwiface.Deleter)
		if !canList || !canDelete {
			a.log.Warn("Destination cannot list publications, skipping", interfaces.F("destination", dest.Describe()))
			continue
		}

		pubs, err := lister.List(ctx, a.node.ClusterName, a.nodeName)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dest.Describe(), err))
			continue
		}
		remove := retention.Select(pubs, policy, now)
		fmt.Printf("%s: %d publications, %d outside retention\n", dest.Describe(), len(pubs), len(remove))

		for _, pub := range remove {
			if *dryRun {
				fmt.Printf("  would delete %s (%s)\n", pub.Key, pub.CreatedAt.Format(time.RFC3339))
				continue
			}
			if err := deleter.Delete(ctx, pub.Key); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", pub.Location, err))
				continue
			}
			fmt.Printf("  deleted %s (%s)\n", pub.Key, pub.CreatedAt.Format(time.RFC3339))
		}
	}

	return errors.Join(errs...)
}
