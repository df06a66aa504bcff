// Package yaml reads the Cassandra node configuration (cassandra.yaml).
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beobal/csp/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// DefaultCassandraConfig is where package installs put cassandra.yaml
const DefaultCassandraConfig = "/etc/cassandra/cassandra.yaml"

// yamlCassandra represents the raw YAML structure; every other key is ignored
type yamlCassandra struct {
	ClusterName         string   `yaml:"cluster_name"`
	DataFileDirectories []string `yaml:"data_file_directories"`
	CommitlogDirectory  string   `yaml:"commitlog_directory"`
	ListenAddress       string   `yaml:"listen_address"`
}

// CassandraConfigParser parses cassandra.yaml files
type CassandraConfigParser struct{}

// NewCassandraConfigParser creates a new parser
func NewCassandraConfigParser() *CassandraConfigParser {
	return &CassandraConfigParser{}
}

// ParseFile parses a cassandra.yaml file into a NodeConfig entity
func (p *CassandraConfigParser) ParseFile(filePath string) (*entities.NodeConfig, error) {
	//nolint:gosec // G304: filePath is the configured cassandra.yaml location
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes into a NodeConfig entity, applying Cassandra defaults
func (p *CassandraConfigParser) Parse(data []byte) (*entities.NodeConfig, error) {
	var raw yamlCassandra
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := &entities.NodeConfig{
		ClusterName:         raw.ClusterName,
		DataFileDirectories: cleanDirs(raw.DataFileDirectories),
		CommitlogDirectory:  raw.CommitlogDirectory,
		ListenAddress:       raw.ListenAddress,
	}
	applyDefaults(cfg)

	return cfg, nil
}

// Overrides are operator-supplied values that win over cassandra.yaml
type Overrides struct {
	ConfigPath  string
	DataDirs    []string
	ClusterName string
}

// Resolve loads cassandra.yaml (if present) and applies overrides.
// A missing file is only an error when no data directories were given explicitly.
func (p *CassandraConfigParser) Resolve(o Overrides) (*entities.NodeConfig, error) {
	path := o.ConfigPath
	if path == "" {
		path = DefaultCassandraConfig
	}

	cfg, err := p.ParseFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || len(o.DataDirs) == 0 {
			return nil, err
		}
		cfg = &entities.NodeConfig{}
		applyDefaults(cfg)
	}

	if len(o.DataDirs) > 0 {
		cfg.DataFileDirectories = cleanDirs(o.DataDirs)
	}
	if o.ClusterName != "" {
		cfg.ClusterName = o.ClusterName
	}

	return cfg, nil
}

func applyDefaults(cfg *entities.NodeConfig) {
	if cfg.ClusterName == "" {
		cfg.ClusterName = entities.DefaultClusterName
	}
	if len(cfg.DataFileDirectories) == 0 {
		cfg.DataFileDirectories = []string{entities.DefaultDataDir}
	}
}

func cleanDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		d = filepath.Clean(d)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
