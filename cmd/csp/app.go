package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/beobal/csp/internal/domain-adapters/gateways"
	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	gwiface "github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/external-adapters/gpg"
	"github.com/beobal/csp/internal/external-adapters/koanf"
	"github.com/beobal/csp/internal/external-adapters/yaml"
	"github.com/beobal/csp/internal/external-adapters/zerolog"
)

// globalFlags are registered on every command's flag set
type globalFlags struct {
	config    *string
	logLevel  *string
	logFormat *string
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	return &globalFlags{
		config:    fs.String("config", "", "Configuration file (default $"+koanf.ConfigFileEnv+" or "+koanf.DefaultConfigFile+")"),
		logLevel:  fs.String("log-level", "", "Log level: debug, info, warn or error"),
		logFormat: fs.String("log-format", "", "Log format: json or console"),
	}
}

// listFlag collects repeated and comma separated values
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// parseFlags parses args, mapping flag errors to usage errors
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{err: err, reported: true}
	}
	return nil
}

// configFile is the --config flag, else $CSP_CONFIG; empty means the default
func (g *globalFlags) configFile() string {
	if *g.config != "" {
		return *g.config
	}
	return os.Getenv(koanf.ConfigFileEnv)
}

// app holds what every command needs once configuration is loaded
type app struct {
	cfg      *koanf.Config
	log      *zerolog.Logger
	node     *entities.NodeConfig
	nodeName string
}

// load builds the configuration and resolves this node from cassandra.yaml
func (g *globalFlags) load(apply func(cfg *koanf.Config)) (*app, error) {
	a, err := g.loadConfig(apply)
	if err != nil {
		return nil, err
	}
	if err := a.resolveNode(); err != nil {
		return nil, err
	}
	return a, nil
}

// loadConfig builds the configuration from file and environment, lets the
// command apply its flags, then validates the result
func (g *globalFlags) loadConfig(apply func(cfg *koanf.Config)) (*app, error) {
	cfg, err := koanf.NewLoader(koanf.WithConfigFile(g.configFile())).Load()
	if err != nil {
		return nil, usageErrorf("configuration: %w", err)
	}

	if *g.logLevel != "" {
		cfg.Log.Level = *g.logLevel
	}
	if *g.logFormat != "" {
		cfg.Log.Format = *g.logFormat
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageErrorf("invalid configuration: %w", err)
	}

	logger, err := zerolog.New(zerolog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, usageErrorf("logging: %w", err)
	}

	return &app{cfg: cfg, log: logger}, nil
}

// resolveNode reads cassandra.yaml and names this node
func (a *app) resolveNode() error {
	node, err := yaml.NewCassandraConfigParser().Resolve(yaml.Overrides{
		ConfigPath:  a.cfg.Cassandra.Config,
		DataDirs:    a.cfg.Cassandra.DataDirs,
		ClusterName: a.cfg.Cassandra.ClusterName,
	})
	if err != nil {
		return usageErrorf("cassandra configuration: %w", err)
	}

	nodeName := a.cfg.Node
	if nodeName == "" {
		if nodeName, err = os.Hostname(); err != nil {
			return usageErrorf("node name not configured and hostname unavailable: %w", err)
		}
	}

	a.log.Debug("Configuration loaded",
		interfaces.F("cluster", node.ClusterName),
		interfaces.F("node", nodeName),
		interfaces.F("data_dirs", node.DataFileDirectories))

	a.node = node
	a.nodeName = nodeName
	return nil
}

func (a *app) key(tag string) entities.PublicationKey {
	return entities.PublicationKey{Cluster: a.node.ClusterName, Node: a.nodeName, Tag: tag}
}

func (a *app) filter() entities.SnapshotFilter {
	return entities.SnapshotFilter{
		Keyspaces:     a.cfg.Publish.Keyspaces,
		Tables:        a.cfg.Publish.Tables,
		IncludeSystem: a.cfg.Publish.IncludeSystem,
	}
}

func (a *app) snapshotFinder() *gateways.SnapshotFinder {
	return gateways.NewSnapshotFinder(a.node.DataFileDirectories, a.log)
}

func (a *app) nodetool() *gateways.Nodetool {
	return gateways.NewNodetool(a.cfg.Nodetool.Path, a.cfg.Nodetool.Args, a.cfg.Nodetool.Timeout, a.log)
}

func (a *app) destinations() (*gateways.CompositeDestination, error) {
	if err := a.cfg.ValidatePublish(); err != nil {
		return nil, usageErrorf("%w (use --dest)", err)
	}
	dest, err := gateways.ParseDestinations(a.cfg.Publish.Destinations, a.destinationOptions())
	if err != nil {
		return nil, &usageError{err: err}
	}
	return dest, nil
}

func (a *app) destinationOptions() gateways.DestinationOptions {
	return gateways.DestinationOptions{
		HTTP: gateways.HTTPOptions{
			Token:   os.Getenv(a.cfg.HTTP.TokenEnv),
			Headers: a.cfg.HTTP.Headers,
			Timeout: a.cfg.HTTP.Timeout,
		},
		GitHubToken: os.Getenv(a.cfg.GitHub.TokenEnv),
		Logger:      a.log,
	}
}

// signer loads the configured signing key; no key file means unsigned
func (a *app) signer() (gwiface.Signer, error) {
	if a.cfg.Signing.KeyFile == "" {
		return nil, nil
	}
	var passphrase []byte
	if a.cfg.Signing.PassphraseEnv != "" {
		passphrase = []byte(os.Getenv(a.cfg.Signing.PassphraseEnv))
	}
	signer, err := gpg.LoadSigner(a.cfg.Signing.KeyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	a.log.Info("Signing manifests", interfaces.F("fingerprint", signer.Fingerprint()))
	return signer, nil
}
