package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/services"
)

// GitHubDestination publishes each key as one release of owner/repo.
// The release is a draft until Finalize, so it never shows up half uploaded.
type GitHubDestination struct {
	gateway   gateways.GitHubGateway
	owner     string
	repo      string
	manifests *services.ManifestService
	logger    interfaces.Logger

	mu       sync.Mutex
	releases map[string]*gateways.GitHubRelease // drafts created by this process
}

// NewGitHubDestination creates a destination for owner/repo
func NewGitHubDestination(gateway gateways.GitHubGateway, owner, repo string, logger interfaces.Logger) *GitHubDestination {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &GitHubDestination{
		gateway:   gateway,
		owner:     owner,
		repo:      repo,
		manifests: services.NewManifestService(),
		logger:    logger,
		releases:  make(map[string]*gateways.GitHubRelease),
	}
}

// Describe returns the github:// URI of the repository
func (d *GitHubDestination) Describe() string {
	return "github://" + d.owner + "/" + d.repo
}

// findRelease looks the tag up through the release list, the only endpoint
// that also returns drafts
func (d *GitHubDestination) findRelease(ctx context.Context, tag string) (*gateways.GitHubRelease, error) {
	releases, err := d.gateway.ListReleases(ctx, d.owner, d.repo)
	if err != nil {
		return nil, err
	}
	for _, r := range releases {
		if r.TagName == tag {
			return r, nil
		}
	}
	return nil, fmt.Errorf("release %s: %w", tag, gateways.ErrNotFound)
}

func (d *GitHubDestination) findAsset(ctx context.Context, release *gateways.GitHubRelease, name string) (*gateways.GitHubAsset, error) {
	assets, err := d.gateway.ListReleaseAssets(ctx, d.owner, d.repo, release.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("asset %s of %s: %w", name, release.TagName, gateways.ErrNotFound)
}

// Exists reports whether a published release carries a manifest
func (d *GitHubDestination) Exists(ctx context.Context, key entities.PublicationKey) (bool, error) {
	release, err := d.findRelease(ctx, key.ReleaseTag())
	if err != nil {
		if errors.Is(err, gateways.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	if release.Draft {
		return false, nil
	}

	if _, err := d.findAsset(ctx, release, entities.ManifestName); err != nil {
		if errors.Is(err, gateways.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return true, nil
}

// draft returns the draft release of key, creating it on first use. A
// release left behind under the same tag is deleted first.
func (d *GitHubDestination) draft(ctx context.Context, key entities.PublicationKey) (*gateways.GitHubRelease, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tag := key.ReleaseTag()
	if r, ok := d.releases[tag]; ok {
		return r, nil
	}

	stale, err := d.findRelease(ctx, tag)
	switch {
	case err == nil:
		d.logger.Info("Replacing existing release",
			interfaces.F("tag", tag),
			interfaces.F("draft", stale.Draft))
		if err := d.gateway.DeleteRelease(ctx, d.owner, d.repo, stale.ID); err != nil {
			return nil, fmt.Errorf("failed to delete stale release %s: %w", tag, err)
		}
	case !errors.Is(err, gateways.ErrNotFound):
		return nil, err
	}

	release, err := d.gateway.CreateRelease(ctx, d.owner, d.repo, &gateways.GitHubRelease{
		TagName: tag,
		Name:    key.Prefix(),
		Body:    fmt.Sprintf("Cassandra snapshot %s of node %s in cluster %s", key.Tag, key.Node, key.Cluster),
		Draft:   true,
	})
	if err != nil {
		return nil, err
	}
	d.releases[tag] = release
	return release, nil
}

// Begin forgets the draft of an earlier run, so the next upload replaces it
// with a fresh one
func (d *GitHubDestination) Begin(_ context.Context, key entities.PublicationKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.releases, key.ReleaseTag())
	return nil
}

// Upload adds one asset to the draft release of key
func (d *GitHubDestination) Upload(ctx context.Context, key entities.PublicationKey, name string, content io.Reader, size int64) error {
	if err := validateObjectName(name); err != nil {
		return err
	}

	release, err := d.draft(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to prepare release for %s: %w", key, err)
	}

	if _, err := d.gateway.UploadAsset(ctx, release.UploadURL, name, content, size); err != nil {
		return err
	}
	return nil
}

// Finalize publishes the draft release
func (d *GitHubDestination) Finalize(ctx context.Context, key entities.PublicationKey) error {
	tag := key.ReleaseTag()

	d.mu.Lock()
	release, ok := d.releases[tag]
	d.mu.Unlock()

	if !ok {
		var err error
		release, err = d.findRelease(ctx, tag)
		if err != nil {
			return fmt.Errorf("nothing to finalize for %s: %w", key, err)
		}
	}

	update := *release
	update.Draft = false
	if _, err := d.gateway.UpdateRelease(ctx, d.owner, d.repo, &update); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", key, err)
	}

	d.mu.Lock()
	delete(d.releases, tag)
	d.mu.Unlock()
	return nil
}

// List returns the published releases of a node, oldest first. The manifest
// of each candidate is read because the flat tag does not separate node
// names that share a prefix.
func (d *GitHubDestination) List(ctx context.Context, cluster, node string) ([]entities.PublishedSnapshot, error) {
	releases, err := d.gateway.ListReleases(ctx, d.owner, d.repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}

	cluster = entities.SanitizeName(cluster)
	node = entities.SanitizeName(node)
	prefix := cluster + "-" + node + "-"

	var out []entities.PublishedSnapshot
	for _, r := range releases {
		if r.Draft || !strings.HasPrefix(r.TagName, prefix) {
			continue
		}

		m, err := d.readManifest(ctx, r)
		if err != nil {
			if errors.Is(err, gateways.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if entities.SanitizeName(m.Cluster) != cluster || entities.SanitizeName(m.Node) != node {
			continue
		}

		out = append(out, entities.PublishedSnapshot{
			Key:       m.Key(),
			CreatedAt: m.CreatedAt,
			Location:  r.HTMLURL,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *GitHubDestination) readManifest(ctx context.Context, release *gateways.GitHubRelease) (*entities.Manifest, error) {
	asset, err := d.findAsset(ctx, release, entities.ManifestName)
	if err != nil {
		return nil, err
	}

	rc, err := d.gateway.DownloadAsset(ctx, d.owner, d.repo, asset.ID)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close
	defer rc.Close()

	m, err := d.manifests.Read(rc)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest in release %s: %w", release.TagName, err)
	}
	return m, nil
}

// Delete removes the release of key
func (d *GitHubDestination) Delete(ctx context.Context, key entities.PublicationKey) error {
	release, err := d.findRelease(ctx, key.ReleaseTag())
	if err != nil {
		return err
	}
	if err := d.gateway.DeleteRelease(ctx, d.owner, d.repo, release.ID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Fetch downloads one asset of the release of key
func (d *GitHubDestination) Fetch(ctx context.Context, key entities.PublicationKey, name string) (io.ReadCloser, error) {
	release, err := d.findRelease(ctx, key.ReleaseTag())
	if err != nil {
		return nil, err
	}
	asset, err := d.findAsset(ctx, release, name)
	if err != nil {
		return nil, err
	}
	return d.gateway.DownloadAsset(ctx, d.owner, d.repo, asset.ID)
}
