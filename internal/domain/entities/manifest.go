package entities

import (
	"fmt"
	"strings"
	"time"
)

// ManifestFormatVersion is bumped on incompatible manifest changes
const ManifestFormatVersion = 1

// Names of the control objects of a publication
const (
	ManifestName          = "manifest.json"
	ManifestChecksumName  = "manifest.json.sha256"
	ManifestSignatureName = "manifest.json.asc"
)

// PublicationKey identifies a published snapshot
type PublicationKey struct {
	Cluster string
	Node    string
	Tag     string
}

// Prefix returns the object prefix "<cluster>/<node>/<tag>"
func (k PublicationKey) Prefix() string {
	return SanitizeName(k.Cluster) + "/" + SanitizeName(k.Node) + "/" + k.Tag
}

// ReleaseTag returns the flat "<cluster>-<node>-<tag>" form
func (k PublicationKey) ReleaseTag() string {
	return SanitizeName(k.Cluster) + "-" + SanitizeName(k.Node) + "-" + k.Tag
}

func (k PublicationKey) String() string {
	return k.Prefix()
}

// SanitizeName maps anything outside [A-Za-z0-9._-] to '_'
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Manifest describes a complete publication
type Manifest struct {
	FormatVersion int             `json:"format_version"`
	Tool          ManifestTool    `json:"tool"`
	Cluster       string          `json:"cluster"`
	Node          string          `json:"node"`
	Tag           string          `json:"tag"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
	Keyspaces     []string        `json:"keyspaces"`
	Archives      []ManifestEntry `json:"archives"`
	TotalSize     int64           `json:"total_size"`
	Signed        bool            `json:"signed"`
	SignerKey     string          `json:"signer_key,omitempty"`
}

// ManifestTool records what produced the manifest
type ManifestTool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ManifestEntry describes one archive
type ManifestEntry struct {
	Name        string      `json:"name"`
	Keyspace    string      `json:"keyspace"`
	Table       string      `json:"table"`
	TableID     string      `json:"table_id,omitempty"`
	Size        int64       `json:"size"`
	SHA256      string      `json:"sha256"`
	FileCount   int         `json:"file_count"`
	Compression Compression `json:"compression"`
}

// Key returns the publication key of the manifest
func (m *Manifest) Key() PublicationKey {
	return PublicationKey{Cluster: m.Cluster, Node: m.Node, Tag: m.Tag}
}

// Entry looks up an archive by name
func (m *Manifest) Entry(name string) (ManifestEntry, bool) {
	for _, e := range m.Archives {
		if e.Name == name {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Summary returns a one-line description
func (m *Manifest) Summary() string {
	return fmt.Sprintf("%s: %d archives, %d bytes, keyspaces %v", m.Key(), len(m.Archives), m.TotalSize, m.Keyspaces)
}

// PublishedSnapshot is a publication as reported by a listing destination
type PublishedSnapshot struct {
	Key       PublicationKey
	CreatedAt time.Time
	Location  string
}
