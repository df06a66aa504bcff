package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/services"
)

// partialPrefix marks an unfinished publication directory
const partialPrefix = ".partial-"

// LocalDestination publishes into a directory tree:
// <root>/<cluster>/<node>/<tag>/{archives, manifest.json, ...}
type LocalDestination struct {
	root      string
	manifests *services.ManifestService

	mu      sync.Mutex
	started map[string]bool
}

// NewLocalDestination creates a destination rooted at root
func NewLocalDestination(root string) *LocalDestination {
	return &LocalDestination{
		root:      filepath.Clean(root),
		manifests: services.NewManifestService(),
		started:   make(map[string]bool),
	}
}

// Describe returns the file:// URI of the root
func (d *LocalDestination) Describe() string {
	return "file://" + d.root
}

// Dir returns the final directory of a publication
func (d *LocalDestination) Dir(key entities.PublicationKey) string {
	return filepath.Join(d.root, filepath.FromSlash(key.Prefix()))
}

func (d *LocalDestination) partialDir(key entities.PublicationKey) string {
	return filepath.Join(filepath.Dir(d.Dir(key)), partialPrefix+key.Tag)
}

// Exists reports whether the publication's manifest is present
func (d *LocalDestination) Exists(_ context.Context, key entities.PublicationKey) (bool, error) {
	_, err := os.Stat(filepath.Join(d.Dir(key), entities.ManifestName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", d.Dir(key), err)
}

// Upload writes one object into the partial directory. The first upload of
// a key in this process discards leftovers of an earlier failed run.
func (d *LocalDestination) Upload(ctx context.Context, key entities.PublicationKey, name string, content io.Reader, size int64) error {
	if err := validateObjectName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := d.prepare(key)
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(filepath.Join(dir, name), renameio.WithPermissions(0640))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	//nolint:errcheck // Cleanup is a no-op after CloseAtomicallyReplace
	defer pending.Cleanup()

	n, err := io.Copy(pending, content)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("failed to write %s: wrote %d bytes, expected %d", name, n, size)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return nil
}

// Begin removes the partial directory of an earlier failed run
func (d *LocalDestination) Begin(_ context.Context, key entities.PublicationKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(d.partialDir(key)); err != nil {
		return fmt.Errorf("failed to clear stale partial directory: %w", err)
	}
	d.started[key.Prefix()] = true
	return nil
}

func (d *LocalDestination) prepare(key entities.PublicationKey) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.partialDir(key)
	if !d.started[key.Prefix()] {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to clear stale partial directory: %w", err)
		}
		d.started[key.Prefix()] = true
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create partial directory: %w", err)
	}
	return dir, nil
}

// Finalize renames the partial directory into place, replacing an older
// publication of the same key
func (d *LocalDestination) Finalize(_ context.Context, key entities.PublicationKey) error {
	partial := d.partialDir(key)
	final := d.Dir(key)

	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("nothing to finalize for %s: %w", key, err)
	}

	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to replace %s: %w", final, err)
	}
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", key, err)
	}
	syncDir(filepath.Dir(final))

	d.mu.Lock()
	delete(d.started, key.Prefix())
	d.mu.Unlock()
	return nil
}

// syncDir makes a rename durable; failures only weaken durability
func syncDir(dir string) {
	//nolint:gosec // G304: dir is the destination root
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	//nolint:errcheck // Best effort
	defer f.Close()
	_ = f.Sync()
}

// List returns the complete publications of a node, oldest first
func (d *LocalDestination) List(_ context.Context, cluster, node string) ([]entities.PublishedSnapshot, error) {
	nodeDir := filepath.Join(d.root, entities.SanitizeName(cluster), entities.SanitizeName(node))

	entries, err := os.ReadDir(nodeDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", nodeDir, err)
	}

	var out []entities.PublishedSnapshot
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		dir := filepath.Join(nodeDir, e.Name())
		m, err := d.readManifest(filepath.Join(dir, entities.ManifestName))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		out = append(out, entities.PublishedSnapshot{
			Key:       m.Key(),
			CreatedAt: m.CreatedAt,
			Location:  dir,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *LocalDestination) readManifest(path string) (*entities.Manifest, error) {
	//nolint:gosec // G304: path is inside the destination root
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	m, err := d.manifests.Read(f)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

// Delete removes a publication
func (d *LocalDestination) Delete(_ context.Context, key entities.PublicationKey) error {
	dir := d.Dir(key)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, gateways.ErrNotFound)
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %w", dir, err)
	}
	return nil
}

// Fetch opens one object of a finalized publication
func (d *LocalDestination) Fetch(_ context.Context, key entities.PublicationKey, name string) (io.ReadCloser, error) {
	if err := validateObjectName(name); err != nil {
		return nil, err
	}

	//nolint:gosec // G304: name was validated to be a plain file name
	f, err := os.Open(filepath.Join(d.Dir(key), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", key, name, gateways.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// validateObjectName rejects names that could escape the publication directory
func validateObjectName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}
