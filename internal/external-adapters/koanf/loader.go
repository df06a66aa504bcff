package koanf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "CSP_"

// DefaultConfigFile is read when no explicit path is given and it exists.
const DefaultConfigFile = "/etc/csp/csp.yaml"

// ConfigFileEnv names the configuration file when no --config flag is given.
const ConfigFileEnv = "CSP_CONFIG"

// Loader loads configuration from multiple sources.
type Loader struct {
	k           *koanf.Koanf
	envPrefix   string
	filePath    string
	explicit    bool
	loadedFiles []string
}

// Option configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path. A file set this way
// must exist.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		if path != "" {
			l.filePath = path
			l.explicit = true
		}
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		filePath:  DefaultConfigFile,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load builds a Config. Later sources override earlier:
//  1. DefaultConfig
//  2. Configuration file (YAML)
//  3. Environment variables
//
// Flags are applied by the caller on the returned Config.
func (l *Loader) Load() (*Config, error) {
	if err := l.LoadFile(); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	if err := l.LoadEnv(); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := DefaultConfig()
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFile reads the YAML file. The default path is optional.
func (l *Loader) LoadFile() error {
	if l.filePath == "" {
		return nil
	}

	if _, err := os.Stat(l.filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !l.explicit {
			return nil
		}
		return fmt.Errorf("stat %s: %w", l.filePath, err)
	}

	if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", l.filePath, err)
	}

	l.loadedFiles = append(l.loadedFiles, l.filePath)
	return nil
}

// LoadEnv loads CSP_SECTION_KEY variables. Only the first underscore after
// the prefix separates section from key, so CSP_PUBLISH_STAGING_DIR maps to
// publish.staging_dir. List values are comma separated.
func (l *Loader) LoadEnv() error {
	envTransformer := func(k, v string) (string, any) {
		k = strings.ToLower(strings.TrimPrefix(k, l.envPrefix))
		if section, key, found := strings.Cut(k, "_"); found {
			k = section + "." + key
		}
		if listKeys[k] {
			return k, splitList(v)
		}
		return k, v
	}

	provider := env.ProviderWithValue(l.envPrefix, ".", envTransformer)
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	return nil
}

var listKeys = map[string]bool{
	"cassandra.data_dirs":  true,
	"nodetool.args":        true,
	"publish.destinations": true,
	"publish.keyspaces":    true,
	"publish.tables":       true,
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadedFiles returns the files that contributed to the configuration.
func (l *Loader) LoadedFiles() []string {
	return l.loadedFiles
}

// Load is a shortcut for NewLoader(WithConfigFile(path)).Load() followed by
// Validate.
func Load(path string) (*Config, error) {
	cfg, err := NewLoader(WithConfigFile(path)).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
