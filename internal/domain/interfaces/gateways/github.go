// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"io"
)

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	ID          int64
	TagName     string
	Name        string
	Body        string
	Draft       bool
	Prerelease  bool
	CreatedAt   string
	PublishedAt string
	HTMLURL     string
	UploadURL   string
}

// GitHubAsset represents an uploaded release asset
type GitHubAsset struct {
	ID                 int64
	Name               string
	State              string
	Size               int64
	BrowserDownloadURL string
}

// GitHubGateway defines operations for GitHub API interactions
type GitHubGateway interface {
	CreateRelease(ctx context.Context, owner, repo string, release *GitHubRelease) (*GitHubRelease, error)

	// UpdateRelease patches name, body and draft state
	UpdateRelease(ctx context.Context, owner, repo string, release *GitHubRelease) (*GitHubRelease, error)

	DeleteRelease(ctx context.Context, owner, repo string, releaseID int64) error

	ListReleases(ctx context.Context, owner, repo string) ([]*GitHubRelease, error)

	UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader, size int64) (*GitHubAsset, error)

	ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*GitHubAsset, error)

	// DownloadAsset streams an asset's content; the caller closes the reader
	DownloadAsset(ctx context.Context, owner, repo string, assetID int64) (io.ReadCloser, error)
}
