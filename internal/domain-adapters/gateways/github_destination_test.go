package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

var _ interface {
	gateways.Destination
	gateways.Lister
	gateways.Deleter
	gateways.Fetcher
} = (*GitHubDestination)(nil)

var _ gateways.GitHubGateway = (*HTTPGitHubGateway)(nil)

// mockGitHubGateway keeps releases and assets in memory
type mockGitHubGateway struct {
	mu       sync.Mutex
	nextID   int64
	releases map[int64]*gateways.GitHubRelease
	assets   map[int64][]*gateways.GitHubAsset
	content  map[int64][]byte
	deleted  []int64
}

func newMockGitHubGateway() *mockGitHubGateway {
	return &mockGitHubGateway{
		releases: make(map[int64]*gateways.GitHubRelease),
		assets:   make(map[int64][]*gateways.GitHubAsset),
		content:  make(map[int64][]byte),
	}
}

func (m *mockGitHubGateway) CreateRelease(_ context.Context, _, _ string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.releases {
		if r.TagName == release.TagName {
			return nil, fmt.Errorf("tag %s already exists", r.TagName)
		}
	}
	m.nextID++
	r := *release
	r.ID = m.nextID
	r.UploadURL = fmt.Sprintf("mock://%d", r.ID)
	r.HTMLURL = "https://github.com/beobal/backups/releases/tag/" + r.TagName
	m.releases[r.ID] = &r
	out := r
	return &out, nil
}

func (m *mockGitHubGateway) UpdateRelease(_ context.Context, _, _ string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.releases[release.ID]
	if !ok {
		return nil, gateways.ErrNotFound
	}
	r.Draft = release.Draft
	out := *r
	return &out, nil
}

func (m *mockGitHubGateway) DeleteRelease(_ context.Context, _, _ string, releaseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.releases[releaseID]; !ok {
		return gateways.ErrNotFound
	}
	delete(m.releases, releaseID)
	delete(m.assets, releaseID)
	m.deleted = append(m.deleted, releaseID)
	return nil
}

func (m *mockGitHubGateway) ListReleases(_ context.Context, _, _ string) ([]*gateways.GitHubRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*gateways.GitHubRelease
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.releases[id]; ok {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockGitHubGateway) UploadAsset(_ context.Context, uploadURL, filename string, content io.Reader, _ int64) (*gateways.GitHubAsset, error) {
	var releaseID int64
	if _, err := fmt.Sscanf(uploadURL, "mock://%d", &releaseID); err != nil {
		return nil, fmt.Errorf("invalid upload URL: %q", uploadURL)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.releases[releaseID]; !ok {
		return nil, gateways.ErrNotFound
	}
	m.nextID++
	asset := &gateways.GitHubAsset{ID: m.nextID, Name: filename, State: "uploaded", Size: int64(len(data))}
	m.assets[releaseID] = append(m.assets[releaseID], asset)
	m.content[asset.ID] = data
	return asset, nil
}

func (m *mockGitHubGateway) ListReleaseAssets(_ context.Context, _, _ string, releaseID int64) ([]*gateways.GitHubAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*gateways.GitHubAsset(nil), m.assets[releaseID]...), nil
}

func (m *mockGitHubGateway) DownloadAsset(_ context.Context, _, _ string, assetID int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.content[assetID]
	if !ok {
		return nil, gateways.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockGitHubGateway) releaseByTag(tag string) *gateways.GitHubRelease {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.releases {
		if r.TagName == tag {
			return r
		}
	}
	return nil
}

func publishGitHub(t *testing.T, dest *GitHubDestination, key entities.PublicationKey, archive string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	_, manifest := testManifest(t, key, archive, createdAt)

	if err := dest.Upload(ctx, key, "shop.users.tar.gz", strings.NewReader(archive), int64(len(archive))); err != nil {
		t.Fatalf("Upload archive failed: %v", err)
	}
	if err := dest.Upload(ctx, key, entities.ManifestName, bytes.NewReader(manifest), int64(len(manifest))); err != nil {
		t.Fatalf("Upload manifest failed: %v", err)
	}
	if err := dest.Finalize(ctx, key); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
}

func TestGitHubDestination_PublishFlow(t *testing.T) {
	mock := newMockGitHubGateway()
	dest := NewGitHubDestination(mock, "beobal", "backups", nil)
	ctx := context.Background()

	if dest.Describe() != "github://beobal/backups" {
		t.Errorf("Describe() = %q", dest.Describe())
	}

	if err := dest.Upload(ctx, testKey, "shop.users.tar.gz", strings.NewReader("archive"), 7); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	release := mock.releaseByTag("Test_Cluster-node-1-daily")
	if release == nil {
		t.Fatal("release was not created")
	}
	if !release.Draft {
		t.Error("release should be a draft until Finalize")
	}
	if exists, _ := dest.Exists(ctx, testKey); exists {
		t.Error("draft release must not count as published")
	}

	_, manifest := testManifest(t, testKey, "archive", time.Now())
	if err := dest.Upload(ctx, testKey, entities.ManifestName, bytes.NewReader(manifest), int64(len(manifest))); err != nil {
		t.Fatalf("Upload manifest failed: %v", err)
	}
	if err := dest.Finalize(ctx, testKey); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	exists, err := dest.Exists(ctx, testKey)
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v after publish", exists, err)
	}

	rc, err := dest.Fetch(ctx, testKey, "shop.users.tar.gz")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "archive" {
		t.Errorf("Fetch content = %q", data)
	}

	if _, err := dest.Fetch(ctx, testKey, "missing.tar.gz"); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGitHubDestination_ReplacesStaleRelease(t *testing.T) {
	mock := newMockGitHubGateway()
	ctx := context.Background()

	// Leftover draft from an interrupted run
	stale, _ := mock.CreateRelease(ctx, "beobal", "backups", &gateways.GitHubRelease{TagName: testKey.ReleaseTag(), Draft: true})

	dest := NewGitHubDestination(mock, "beobal", "backups", nil)
	publishGitHub(t, dest, testKey, "archive", time.Now())

	if len(mock.deleted) != 1 || mock.deleted[0] != stale.ID {
		t.Errorf("deleted = %v, want [%d]", mock.deleted, stale.ID)
	}
	if r := mock.releaseByTag(testKey.ReleaseTag()); r == nil || r.Draft {
		t.Errorf("release after republish = %+v", r)
	}
}

func TestGitHubDestination_BeginDiscardsFailedRun(t *testing.T) {
	mock := newMockGitHubGateway()
	dest := NewGitHubDestination(mock, "beobal", "backups", nil)
	ctx := context.Background()

	if err := dest.Begin(ctx, testKey); err != nil {
		t.Fatal(err)
	}
	if err := dest.Upload(ctx, testKey, "stale.tar.gz", strings.NewReader("old"), 3); err != nil {
		t.Fatal(err)
	}
	first := mock.releaseByTag(testKey.ReleaseTag())
	if first == nil {
		t.Fatal("draft was not created")
	}

	// Retry in the same process after the first run failed
	if err := dest.Begin(ctx, testKey); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	publishGitHub(t, dest, testKey, "archive", time.Now())

	if len(mock.deleted) != 1 || mock.deleted[0] != first.ID {
		t.Errorf("deleted = %v, want [%d]", mock.deleted, first.ID)
	}
	if _, err := dest.Fetch(ctx, testKey, "stale.tar.gz"); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("object from the failed run should be gone, got %v", err)
	}
}

func TestGitHubDestination_ListAndDelete(t *testing.T) {
	mock := newMockGitHubGateway()
	dest := NewGitHubDestination(mock, "beobal", "backups", nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := entities.PublicationKey{Cluster: testKey.Cluster, Node: testKey.Node, Tag: "weekly"}
	// node-1-b shares the flat prefix "Test_Cluster-node-1-"
	other := entities.PublicationKey{Cluster: testKey.Cluster, Node: "node-1-b", Tag: "daily"}

	publishGitHub(t, dest, newer, "b", base.Add(time.Hour))
	publishGitHub(t, dest, testKey, "a", base)
	publishGitHub(t, dest, other, "c", base)

	pubs, err := dest.List(ctx, testKey.Cluster, testKey.Node)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pubs) != 2 {
		t.Fatalf("List returned %d publications, want 2: %+v", len(pubs), pubs)
	}
	if pubs[0].Key.Tag != "daily" || pubs[1].Key.Tag != "weekly" {
		t.Errorf("List order = %s, %s", pubs[0].Key.Tag, pubs[1].Key.Tag)
	}

	if err := dest.Delete(ctx, testKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := dest.Exists(ctx, testKey); exists {
		t.Error("publication still exists after Delete")
	}
	if err := dest.Delete(ctx, testKey); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
}

func TestGitHubDestination_FinalizeWithoutUpload(t *testing.T) {
	dest := NewGitHubDestination(newMockGitHubGateway(), "beobal", "backups", nil)

	if err := dest.Finalize(context.Background(), testKey); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
