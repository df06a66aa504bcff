// Package koanf loads csp configuration from defaults, a YAML file and
// CSP_* environment variables.
package koanf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
)

// Config is the full csp configuration tree.
type Config struct {
	Cassandra CassandraConfig `koanf:"cassandra"`
	Node      string          `koanf:"node"`
	Nodetool  NodetoolConfig  `koanf:"nodetool"`
	Publish   PublishConfig   `koanf:"publish"`
	Signing   SigningConfig   `koanf:"signing"`
	GitHub    GitHubConfig    `koanf:"github"`
	HTTP      HTTPConfig      `koanf:"http"`
	Retention RetentionConfig `koanf:"retention"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Watch     WatchConfig     `koanf:"watch"`
}

// CassandraConfig locates cassandra.yaml and optionally overrides it.
type CassandraConfig struct {
	Config      string   `koanf:"config"`
	DataDirs    []string `koanf:"data_dirs"`
	ClusterName string   `koanf:"cluster_name"`
}

// NodetoolConfig controls how nodetool is invoked.
type NodetoolConfig struct {
	Path    string        `koanf:"path"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
}

// PublishConfig controls a publication run.
type PublishConfig struct {
	Destinations  []string `koanf:"destinations"`
	Compression   string   `koanf:"compression"`
	Concurrency   int      `koanf:"concurrency"`
	StagingDir    string   `koanf:"staging_dir"`
	ClearSnapshot bool     `koanf:"clear_snapshot"`
	IncludeSystem bool     `koanf:"include_system"`
	Keyspaces     []string `koanf:"keyspaces"`
	Tables        []string `koanf:"tables"`
	Force         bool     `koanf:"force"`
}

// SigningConfig names the OpenPGP private key. The passphrase is read from
// the environment variable named by PassphraseEnv, never from the file.
type SigningConfig struct {
	KeyFile       string `koanf:"key_file"`
	PassphraseEnv string `koanf:"passphrase_env"`
}

type GitHubConfig struct {
	TokenEnv string `koanf:"token_env"`
}

type HTTPConfig struct {
	Headers  map[string]string `koanf:"headers"`
	Timeout  time.Duration     `koanf:"timeout"`
	TokenEnv string            `koanf:"token_env"`
}

// RetentionConfig is applied by prune. Zero values keep everything.
type RetentionConfig struct {
	Keep   int           `koanf:"keep"`
	MaxAge time.Duration `koanf:"max_age"`
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WatchConfig tunes the snapshot watcher.
type WatchConfig struct {
	Settle time.Duration `koanf:"settle"`
	Poll   time.Duration `koanf:"poll"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Cassandra: CassandraConfig{
			Config: "/etc/cassandra/cassandra.yaml",
		},
		Nodetool: NodetoolConfig{
			Path:    "nodetool",
			Timeout: 30 * time.Minute,
		},
		Publish: PublishConfig{
			Compression: string(entities.CompressionGzip),
			Concurrency: 2,
			StagingDir:  "/var/tmp/csp",
		},
		Signing: SigningConfig{
			PassphraseEnv: "CSP_SIGNING_PASSPHRASE",
		},
		GitHub: GitHubConfig{
			TokenEnv: "GITHUB_TOKEN",
		},
		HTTP: HTTPConfig{
			Timeout:  5 * time.Minute,
			TokenEnv: "CSP_HTTP_TOKEN",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			Settle: 30 * time.Second,
			Poll:   time.Minute,
		},
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error

	if !entities.Compression(c.Publish.Compression).Valid() {
		errs = append(errs, fmt.Errorf("publish.compression: unsupported value %q (want gzip or zstd)", c.Publish.Compression))
	}
	if c.Publish.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("publish.concurrency: must be at least 1, got %d", c.Publish.Concurrency))
	}
	if strings.TrimSpace(c.Publish.StagingDir) == "" {
		errs = append(errs, errors.New("publish.staging_dir: must not be empty"))
	}
	if c.Retention.Keep < 0 {
		errs = append(errs, fmt.Errorf("retention.keep: must not be negative, got %d", c.Retention.Keep))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("retention.max_age: must not be negative, got %s", c.Retention.MaxAge))
	}
	if c.Nodetool.Timeout <= 0 {
		errs = append(errs, errors.New("nodetool.timeout: must be positive"))
	}
	if c.Watch.Settle <= 0 {
		errs = append(errs, errors.New("watch.settle: must be positive"))
	}
	if c.Watch.Poll <= 0 {
		errs = append(errs, errors.New("watch.poll: must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unsupported value %q (want debug, info, warn or error)", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q (want json or console)", c.Log.Format))
	}
	for _, t := range c.Publish.Tables {
		if !strings.Contains(t, ".") {
			errs = append(errs, fmt.Errorf("publish.tables: %q must be keyspace.table", t))
		}
	}

	return errors.Join(errs...)
}

// ValidatePublish additionally requires at least one destination.
func (c *Config) ValidatePublish() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Publish.Destinations) == 0 {
		return errors.New("publish.destinations: at least one destination is required")
	}
	return nil
}
