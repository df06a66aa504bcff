package gateways

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/services"
)

const testTableID = "0123456789abcdef0123456789abcdef"

// writeSnapshot creates <dataDir>/<ks>/<tableDir>/snapshots/<tag>/ with files
func writeSnapshot(t *testing.T, dataDir, ks, tableDir, tag string, files map[string]string) string {
	t.Helper()

	snapDir := filepath.Join(dataDir, ks, tableDir, entities.SnapshotsDirName, tag)
	if err := os.MkdirAll(snapDir, 0750); err != nil {
		t.Fatalf("Failed to create snapshot dir: %v", err)
	}
	for rel, content := range files {
		path := filepath.Join(snapDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	return snapDir
}

func sstableFiles(gen string) map[string]string {
	return map[string]string{
		"nb-" + gen + "-big-Data.db":       "data-" + gen,
		"nb-" + gen + "-big-Index.db":      "index-" + gen,
		"nb-" + gen + "-big-Statistics.db": "stats",
		"manifest.json":                    `{"files":["nb-` + gen + `-big-Data.db"]}`,
		"schema.cql":                       "CREATE TABLE ...",
	}
}

var testKey = entities.PublicationKey{Cluster: "Test Cluster", Node: "node-1", Tag: "daily"}

// testManifest builds a valid manifest with one archive of the given content
func testManifest(t *testing.T, key entities.PublicationKey, archive string, createdAt time.Time) (*entities.Manifest, []byte) {
	t.Helper()

	sum := sha256.Sum256([]byte(archive))
	snapshot := &entities.Snapshot{
		Tag:       key.Tag,
		CreatedAt: createdAt,
		Tables:    []*entities.TableSnapshot{{Keyspace: "shop", Table: "users"}},
	}
	artifacts := []*entities.Artifact{{
		Name:        "shop.users.tar.gz",
		Keyspace:    "shop",
		Table:       "users",
		Size:        int64(len(archive)),
		SHA256:      hex.EncodeToString(sum[:]),
		FileCount:   1,
		Compression: entities.CompressionGzip,
	}}

	svc := services.NewManifestService()
	m := svc.Build(key, snapshot, artifacts, createdAt.Add(time.Minute))
	data, err := svc.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return m, data
}
