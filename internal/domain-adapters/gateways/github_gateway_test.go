package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

func newTestGitHubGateway(server *httptest.Server) *HTTPGitHubGateway {
	return NewHTTPGitHubGateway("test-token",
		WithGitHubAPIURL(server.URL),
		WithGitHubRetry(fastRetryPolicy()),
	)
}

// Test creating a new GitHub gateway
func TestNewHTTPGitHubGateway(t *testing.T) {
	gateway := NewHTTPGitHubGateway("test-token")

	if gateway == nil {
		t.Fatal("NewHTTPGitHubGateway returned nil")
	}

	if gateway.token != "test-token" {
		t.Errorf("Token = %s, want test-token", gateway.token)
	}
	if gateway.apiURL != DefaultGitHubAPIURL {
		t.Errorf("apiURL = %s, want %s", gateway.apiURL, DefaultGitHubAPIURL)
	}
	if gateway.userAgent != "csp/1.0" {
		t.Errorf("userAgent = %s, want csp/1.0", gateway.userAgent)
	}
}

func TestGitHubGateway_CreateRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/beobal/backups/releases" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}

		var payload githubRelease
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
			return
		}
		if !payload.Draft {
			t.Error("expected draft release")
		}

		payload.ID = 123
		payload.UploadURL = "https://uploads.github.com/repos/beobal/backups/releases/123/assets{?name,label}"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	release, err := gateway.CreateRelease(context.Background(), "beobal", "backups", &gateways.GitHubRelease{
		TagName: "Test_Cluster-node-1-daily",
		Name:    "Test_Cluster/node-1/daily",
		Draft:   true,
	})
	if err != nil {
		t.Fatalf("CreateRelease failed: %v", err)
	}
	if release.ID != 123 {
		t.Errorf("ID = %d, want 123", release.ID)
	}
	if !strings.HasPrefix(release.UploadURL, "https://uploads.github.com/") {
		t.Errorf("UploadURL = %s", release.UploadURL)
	}
}

// Test create release with API error
func TestGitHubGateway_CreateRelease_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Validation Failed"}`))
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	release := &gateways.GitHubRelease{
		TagName: "v1.0.0",
		Name:    "Release v1.0.0",
	}

	_, err := gateway.CreateRelease(context.Background(), "test", "repo", release)
	if err == nil {
		t.Fatal("Expected error for API failure, got nil")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 StatusError, got %v", err)
	}
}

// Test deleting a release that no longer exists
func TestGitHubGateway_DeleteRelease_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	err := gateway.DeleteRelease(context.Background(), "test", "repo", 42)
	if !errors.Is(err, gateways.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for 404, got %v", err)
	}
}

func TestGitHubGateway_UpdateRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/repos/test/repo/releases/7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["draft"] != false {
			t.Errorf("draft = %v, want false", payload["draft"])
		}
		_ = json.NewEncoder(w).Encode(githubRelease{ID: 7, TagName: "t", Draft: false})
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	release, err := gateway.UpdateRelease(context.Background(), "test", "repo", &gateways.GitHubRelease{ID: 7, TagName: "t"})
	if err != nil {
		t.Fatalf("UpdateRelease failed: %v", err)
	}
	if release.Draft {
		t.Error("release still draft")
	}
}

func TestGitHubGateway_ListReleases_Paginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var batch []githubRelease
		count := releasesPerPage
		if page == 2 {
			count = 3
		}
		for i := 0; i < count; i++ {
			batch = append(batch, githubRelease{ID: int64(page*1000 + i)})
		}
		_ = json.NewEncoder(w).Encode(batch)
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	releases, err := gateway.ListReleases(context.Background(), "test", "repo")
	if err != nil {
		t.Fatalf("ListReleases failed: %v", err)
	}
	if len(releases) != releasesPerPage+3 {
		t.Errorf("got %d releases, want %d", len(releases), releasesPerPage+3)
	}
}

// Test upload asset
func TestGitHubGateway_UploadAsset_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if got := r.URL.Query().Get("name"); got != "ks.tbl.tar.gz" {
			t.Errorf("name = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(githubAsset{
			ID:    456,
			Name:  "ks.tbl.tar.gz",
			State: "uploaded",
			Size:  int64(len(body)),
		})
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	uploadURL := server.URL + "/repos/test/repo/releases/1/assets{?name,label}"
	result, err := gateway.UploadAsset(context.Background(), uploadURL, "ks.tbl.tar.gz", strings.NewReader("test content"), 12)
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}

	if result.ID != 456 {
		t.Errorf("Asset ID = %d, want 456", result.ID)
	}
	if result.State != "uploaded" {
		t.Errorf("Asset state = %s, want uploaded", result.State)
	}
	if result.Size != 12 {
		t.Errorf("Asset size = %d, want 12", result.Size)
	}
}

// Test upload asset with invalid URL
func TestGitHubGateway_UploadAsset_InvalidURL(t *testing.T) {
	gateway := NewHTTPGitHubGateway("test-token")

	_, err := gateway.UploadAsset(context.Background(), "://invalid-url", "test.tar.gz", strings.NewReader("test"), 4)
	if err == nil {
		t.Fatal("Expected error for invalid URL, got nil")
	}

	if !strings.Contains(err.Error(), "invalid upload URL") {
		t.Errorf("Expected 'invalid upload URL' error, got: %v", err)
	}
}

// Test upload asset with API error
func TestGitHubGateway_UploadAsset_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Invalid asset"}`))
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	_, err := gateway.UploadAsset(context.Background(), server.URL, "test.tar.gz", strings.NewReader("test"), 4)
	if err == nil {
		t.Fatal("Expected error for API failure, got nil")
	}

	if !strings.Contains(err.Error(), "failed to upload asset") {
		t.Errorf("Expected upload error, got: %v", err)
	}
}

func TestGitHubGateway_UploadAsset_RetriesSeekableBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if string(body) != "archive" {
			t.Errorf("retried body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(githubAsset{ID: 1, Name: "a"})
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	if _, err := gateway.UploadAsset(context.Background(), server.URL, "a", bytes.NewReader([]byte("archive")), 7); err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

// Test list assets with API error
func TestGitHubGateway_ListReleaseAssets_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message": "Server Error"}`))
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	_, err := gateway.ListReleaseAssets(context.Background(), "test", "repo", 123)
	if err == nil {
		t.Fatal("Expected error for API failure, got nil")
	}
}

func TestGitHubGateway_RateLimitExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	_, err := gateway.ListReleases(context.Background(), "test", "repo")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestGitHubGateway_DownloadAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/test/repo/releases/assets/9" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != "application/octet-stream" {
			t.Errorf("Accept = %q", got)
		}
		_, _ = w.Write([]byte("manifest"))
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	rc, err := gateway.DownloadAsset(context.Background(), "test", "repo", 9)
	if err != nil {
		t.Fatalf("DownloadAsset failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "manifest" {
		t.Errorf("content = %q", data)
	}

	if _, err := gateway.DownloadAsset(context.Background(), "test", "repo", 10); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Test context cancellation
func TestGitHubGateway_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	release := &gateways.GitHubRelease{
		TagName: "v1.0.0",
		Name:    "Test",
	}

	_, err := gateway.CreateRelease(ctx, "test", "repo", release)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

// Test upload asset with empty content
func TestGitHubGateway_UploadAsset_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if len(body) != 0 {
			t.Errorf("Expected empty body, got %d bytes", len(body))
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(githubAsset{ID: 1, Name: "empty.tar.gz"})
	}))
	defer server.Close()

	gateway := newTestGitHubGateway(server)

	result, err := gateway.UploadAsset(context.Background(), server.URL, "empty.tar.gz", bytes.NewReader([]byte{}), 0)
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}

	if result.Name != "empty.tar.gz" {
		t.Errorf("Asset name = %s, want empty.tar.gz", result.Name)
	}
}
