package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beobal/csp"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

// DefaultGitHubAPIURL is the public GitHub REST endpoint
const DefaultGitHubAPIURL = "https://api.github.com"

// releasesPerPage is the largest page size GitHub accepts
const releasesPerPage = 100

// HTTPGitHubGateway implements GitHubGateway using standard HTTP client
type HTTPGitHubGateway struct {
	client    *http.Client
	token     string
	userAgent string
	apiURL    string
	retry     RetryPolicy
	logger    interfaces.Logger
}

// GitHubOption configures the gateway
type GitHubOption func(*HTTPGitHubGateway)

// WithGitHubAPIURL points the gateway at GitHub Enterprise or a test server
func WithGitHubAPIURL(apiURL string) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		g.apiURL = strings.TrimSuffix(apiURL, "/")
	}
}

// WithGitHubRetry replaces the retry policy
func WithGitHubRetry(policy RetryPolicy) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		g.retry = policy
	}
}

// WithGitHubLogger sets the logger used for rate limit warnings
func WithGitHubLogger(logger interfaces.Logger) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		g.logger = logger
	}
}

// NewHTTPGitHubGateway creates a new GitHub gateway with HTTP client
func NewHTTPGitHubGateway(token string, opts ...GitHubOption) *HTTPGitHubGateway {
	g := &HTTPGitHubGateway{
		client: &http.Client{
			Timeout: 30 * time.Minute, // snapshot archives can be large
		},
		token:     token,
		userAgent: csp.UserAgent(),
		apiURL:    DefaultGitHubAPIURL,
		retry:     DefaultRetryPolicy(),
		logger:    &interfaces.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// checkRateLimit returns an error once the rate limit is exhausted; waiting
// for the reset would stall a publication for up to an hour
func (g *HTTPGitHubGateway) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return nil
	}

	if remainingInt == 0 && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) {
		resetTime := resp.Header.Get("X-RateLimit-Reset")
		if resetUnix, err := strconv.ParseInt(resetTime, 10, 64); err == nil {
			resetAt := time.Unix(resetUnix, 0)
			return fmt.Errorf("GitHub API rate limit exceeded (0 remaining), resets at %s", resetAt.Format(time.RFC3339))
		}
		return fmt.Errorf("GitHub API rate limit exceeded (0 remaining)")
	}

	if remainingInt <= 10 {
		g.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remainingInt))
	}

	return nil
}

func (g *HTTPGitHubGateway) setHeaders(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", g.userAgent)
}

// call sends a JSON request and returns the response for status handling
func (g *HTTPGitHubGateway) call(ctx context.Context, method, target string, payload any) (*http.Response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return doWithRetry(ctx, g.client, g.retry, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, r)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		g.setHeaders(req)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, g.checkRateLimit)
}

// decode checks the status and decodes the JSON body into v
func decode(resp *http.Response, wantStatus int, v any) error {
	if resp.StatusCode != wantStatus {
		return newStatusError(resp)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// githubRelease represents the GitHub API release format
type githubRelease struct {
	ID          int64  `json:"id,omitempty"`
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	Draft       bool   `json:"draft"`
	Prerelease  bool   `json:"prerelease"`
	CreatedAt   string `json:"created_at,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	UploadURL   string `json:"upload_url,omitempty"`
}

func (r githubRelease) toDomain() *gateways.GitHubRelease {
	return &gateways.GitHubRelease{
		ID:          r.ID,
		TagName:     r.TagName,
		Name:        r.Name,
		Body:        r.Body,
		Draft:       r.Draft,
		Prerelease:  r.Prerelease,
		CreatedAt:   r.CreatedAt,
		PublishedAt: r.PublishedAt,
		HTMLURL:     r.HTMLURL,
		UploadURL:   r.UploadURL,
	}
}

// githubAsset represents a GitHub release asset
type githubAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	State              string `json:"state"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (a githubAsset) toDomain() *gateways.GitHubAsset {
	return &gateways.GitHubAsset{
		ID:                 a.ID,
		Name:               a.Name,
		State:              a.State,
		Size:               a.Size,
		BrowserDownloadURL: a.BrowserDownloadURL,
	}
}

func (g *HTTPGitHubGateway) repoURL(owner, repo string) string {
	return fmt.Sprintf("%s/repos/%s/%s", g.apiURL, url.PathEscape(owner), url.PathEscape(repo))
}

// CreateRelease creates a new GitHub release
func (g *HTTPGitHubGateway) CreateRelease(ctx context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	payload := githubRelease{
		TagName:    release.TagName,
		Name:       release.Name,
		Body:       release.Body,
		Draft:      release.Draft,
		Prerelease: release.Prerelease,
	}

	resp, err := g.call(ctx, http.MethodPost, g.repoURL(owner, repo)+"/releases", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create release: %w", err)
	}

	var result githubRelease
	if err := decode(resp, http.StatusCreated, &result); err != nil {
		return nil, fmt.Errorf("failed to create release: %w", err)
	}
	return result.toDomain(), nil
}

// UpdateRelease patches name, body and draft state
func (g *HTTPGitHubGateway) UpdateRelease(ctx context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	payload := map[string]any{
		"tag_name": release.TagName,
		"name":     release.Name,
		"body":     release.Body,
		"draft":    release.Draft,
	}

	target := fmt.Sprintf("%s/releases/%d", g.repoURL(owner, repo), release.ID)
	resp, err := g.call(ctx, http.MethodPatch, target, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to update release: %w", err)
	}

	var result githubRelease
	if err := decode(resp, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("failed to update release: %w", err)
	}
	return result.toDomain(), nil
}

// DeleteRelease deletes a release; the git tag is left in place
func (g *HTTPGitHubGateway) DeleteRelease(ctx context.Context, owner, repo string, releaseID int64) error {
	target := fmt.Sprintf("%s/releases/%d", g.repoURL(owner, repo), releaseID)
	resp, err := g.call(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}
	if err := decode(resp, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}
	return nil
}

// ListReleases lists all releases in a repository, drafts included
func (g *HTTPGitHubGateway) ListReleases(ctx context.Context, owner, repo string) ([]*gateways.GitHubRelease, error) {
	var releases []*gateways.GitHubRelease

	for page := 1; ; page++ {
		target := fmt.Sprintf("%s/releases?per_page=%d&page=%d", g.repoURL(owner, repo), releasesPerPage, page)
		resp, err := g.call(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list releases: %w", err)
		}

		var batch []githubRelease
		if err := decode(resp, http.StatusOK, &batch); err != nil {
			return nil, fmt.Errorf("failed to list releases: %w", err)
		}
		for _, r := range batch {
			releases = append(releases, r.toDomain())
		}
		if len(batch) < releasesPerPage {
			return releases, nil
		}
	}
}

// UploadAsset uploads a file to a release
func (g *HTTPGitHubGateway) UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader, size int64) (*gateways.GitHubAsset, error) {
	// GitHub returns URLs like: https://uploads.github.com/.../assets{?name,label}
	baseURL := strings.Split(uploadURL, "{")[0]

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upload URL: %q", uploadURL)
	}

	// Upload URLs must use uploads.github.com, not api.github.com
	if parsed.Host == "api.github.com" {
		parsed.Host = "uploads.github.com"
	}

	query := parsed.Query()
	query.Set("name", filename)
	parsed.RawQuery = query.Encode()
	target := parsed.String()

	nextBody := replayableBody(content)
	resp, err := doWithRetry(ctx, g.client, g.retry, func(ctx context.Context) (*http.Request, error) {
		body, err := nextBody()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		g.setHeaders(req)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = size
		if size == 0 {
			req.Body = http.NoBody
		}
		return req, nil
	}, g.checkRateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to upload asset %s: %w", filename, err)
	}

	var result githubAsset
	if err := decode(resp, http.StatusCreated, &result); err != nil {
		return nil, fmt.Errorf("failed to upload asset %s: %w", filename, err)
	}
	return result.toDomain(), nil
}

// ListReleaseAssets lists all assets for a release
func (g *HTTPGitHubGateway) ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*gateways.GitHubAsset, error) {
	var assets []*gateways.GitHubAsset

	for page := 1; ; page++ {
		target := fmt.Sprintf("%s/releases/%d/assets?per_page=%d&page=%d", g.repoURL(owner, repo), releaseID, releasesPerPage, page)
		resp, err := g.call(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list assets: %w", err)
		}

		var batch []githubAsset
		if err := decode(resp, http.StatusOK, &batch); err != nil {
			return nil, fmt.Errorf("failed to list assets: %w", err)
		}
		for _, a := range batch {
			assets = append(assets, a.toDomain())
		}
		if len(batch) < releasesPerPage {
			return assets, nil
		}
	}
}

// DownloadAsset streams an asset's content; the caller closes the reader
func (g *HTTPGitHubGateway) DownloadAsset(ctx context.Context, owner, repo string, assetID int64) (io.ReadCloser, error) {
	target := fmt.Sprintf("%s/releases/assets/%d", g.repoURL(owner, repo), assetID)

	resp, err := doWithRetry(ctx, g.client, g.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		g.setHeaders(req)
		req.Header.Set("Accept", "application/octet-stream")
		return req, nil
	}, g.checkRateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to download asset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download asset: %w", newStatusError(resp))
	}
	return resp.Body, nil
}
