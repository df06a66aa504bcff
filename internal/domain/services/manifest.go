package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/beobal/csp"
	"github.com/beobal/csp/internal/domain/entities"
	"github.com/google/renameio/v2"
)

// ManifestService builds, serializes and validates publication manifests
type ManifestService struct{}

// NewManifestService creates a new manifest service
func NewManifestService() *ManifestService {
	return &ManifestService{}
}

// Build assembles the manifest of a publication from its packaged artifacts
func (s *ManifestService) Build(key entities.PublicationKey, snapshot *entities.Snapshot, artifacts []*entities.Artifact, now time.Time) *entities.Manifest {
	m := &entities.Manifest{
		FormatVersion: entities.ManifestFormatVersion,
		Tool:          entities.ManifestTool{Name: csp.Name, Version: csp.Version},
		Cluster:       key.Cluster,
		Node:          key.Node,
		Tag:           key.Tag,
		CreatedAt:     snapshot.CreatedAt.UTC(),
		PublishedAt:   now.UTC(),
		Keyspaces:     snapshot.Keyspaces(),
		Archives:      make([]entities.ManifestEntry, 0, len(artifacts)),
	}

	for _, a := range artifacts {
		m.Archives = append(m.Archives, entities.ManifestEntry{
			Name:        a.Name,
			Keyspace:    a.Keyspace,
			Table:       a.Table,
			TableID:     a.TableID,
			Size:        a.Size,
			SHA256:      a.SHA256,
			FileCount:   a.FileCount,
			Compression: a.Compression,
		})
		m.TotalSize += a.Size
	}

	sort.Slice(m.Archives, func(i, j int) bool {
		if m.Archives[i].Keyspace != m.Archives[j].Keyspace {
			return m.Archives[i].Keyspace < m.Archives[j].Keyspace
		}
		return m.Archives[i].Table < m.Archives[j].Table
	})

	return m
}

// Marshal renders the manifest as indented JSON with a trailing newline
func (s *ManifestService) Marshal(m *entities.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Write stores the manifest at path atomically
func (s *ManifestService) Write(path string, m *entities.Manifest) error {
	data, err := s.Marshal(m)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Read decodes and validates a manifest
func (s *ManifestService) Read(r io.Reader) (*entities.Manifest, error) {
	data, err := io.ReadAll(io.LimitReader(r, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var m entities.Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := s.Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural invariants of a manifest
func (s *ManifestService) Validate(m *entities.Manifest) error {
	if m.FormatVersion != entities.ManifestFormatVersion {
		return fmt.Errorf("unsupported manifest format version %d", m.FormatVersion)
	}
	if err := entities.ValidateTag(m.Tag); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if m.Cluster == "" || m.Node == "" {
		return fmt.Errorf("manifest: cluster and node are required")
	}
	if len(m.Archives) == 0 {
		return fmt.Errorf("manifest: %w", entities.ErrEmptySnapshot)
	}

	seen := make(map[string]bool, len(m.Archives))
	var total int64
	for i, e := range m.Archives {
		if e.Name == "" || e.SHA256 == "" {
			return fmt.Errorf("manifest: archive %d is missing name or sha256", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("manifest: duplicate archive %s", e.Name)
		}
		seen[e.Name] = true

		if i > 0 {
			prev := m.Archives[i-1]
			if prev.Keyspace > e.Keyspace || (prev.Keyspace == e.Keyspace && prev.Table > e.Table) {
				return fmt.Errorf("manifest: archives are not sorted at %s", e.Name)
			}
		}
		total += e.Size
	}

	if total != m.TotalSize {
		return fmt.Errorf("manifest: total_size %d does not match archives (%d)", m.TotalSize, total)
	}
	return nil
}
