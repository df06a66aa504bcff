package gateways

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

var _ interface {
	gateways.Destination
	gateways.Deleter
	gateways.Fetcher
} = (*HTTPDestination)(nil)

// objectServer is a minimal PUT/GET/HEAD/DELETE object store
type objectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers []http.Header
	failPut int32
}

func newObjectServer() *objectServer {
	return &objectServer{objects: make(map[string][]byte)}
}

func (s *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, r.Header.Clone())

	switch r.Method {
	case http.MethodPut:
		if atomic.AddInt32(&s.failPut, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		data, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = data
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		data, ok := s.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		if _, ok := s.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *objectServer) object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

func (s *objectServer) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

func (s *objectServer) firstHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[0]
}

func newTestHTTPDestination(t *testing.T, url string, opts HTTPOptions) *HTTPDestination {
	t.Helper()
	opts.Retry = fastRetryPolicy()
	d, err := NewHTTPDestination(url, opts)
	if err != nil {
		t.Fatalf("NewHTTPDestination failed: %v", err)
	}
	return d
}

func TestNewHTTPDestination_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://host/x", "http://", "::bad"} {
		if _, err := NewHTTPDestination(u, HTTPOptions{}); err == nil {
			t.Errorf("NewHTTPDestination(%q) should fail", u)
		}
	}
}

func TestHTTPDestination_PublishFlow(t *testing.T) {
	store := newObjectServer()
	server := httptest.NewServer(store)
	defer server.Close()

	dest := newTestHTTPDestination(t, server.URL+"/backups/", HTTPOptions{
		Token:   "secret",
		Headers: map[string]string{"X-Team": "storage"},
	})
	ctx := context.Background()

	exists, err := dest.Exists(ctx, testKey)
	if err != nil || exists {
		t.Fatalf("Exists() = %v, %v before publish", exists, err)
	}

	_, manifest := testManifest(t, testKey, "archive", time.Now())
	if err := dest.Upload(ctx, testKey, "shop.users.tar.gz", strings.NewReader("archive"), 7); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := dest.Upload(ctx, testKey, entities.ManifestChecksumName, strings.NewReader("sum  manifest.json\n"), -1); err != nil {
		t.Fatalf("Upload checksum failed: %v", err)
	}
	if err := dest.Upload(ctx, testKey, entities.ManifestName, strings.NewReader(string(manifest)), int64(len(manifest))); err != nil {
		t.Fatalf("Upload manifest failed: %v", err)
	}
	if err := dest.Finalize(ctx, testKey); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, ok := store.object("/backups/Test_Cluster/node-1/daily/shop.users.tar.gz"); !ok {
		t.Errorf("archive not stored at expected path, have %v", store.paths())
	}

	exists, err = dest.Exists(ctx, testKey)
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

	h := store.firstHeader()
	if h.Get("Authorization") != "Bearer secret" || h.Get("X-Team") != "storage" || h.Get("User-Agent") != "csp/1.0" {
		t.Errorf("request headers = %v", h)
	}

	if err := dest.Delete(ctx, testKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if left := store.paths(); len(left) != 0 {
		t.Errorf("objects left after Delete: %v", left)
	}
	if _, err := dest.Fetch(ctx, testKey, entities.ManifestName); !errors.Is(err, gateways.ErrNotFound) {
		t.Errorf("Fetch after delete error = %v, want ErrNotFound", err)
	}
}

func TestHTTPDestination_UploadRetriesWithSeekableBody(t *testing.T) {
	store := newObjectServer()
	store.failPut = 2
	server := httptest.NewServer(store)
	defer server.Close()

	dest := newTestHTTPDestination(t, server.URL, HTTPOptions{})
	if err := dest.Upload(context.Background(), testKey, "shop.users.tar.gz", strings.NewReader("archive"), 7); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if got, _ := store.object("/Test_Cluster/node-1/daily/shop.users.tar.gz"); string(got) != "archive" {
		t.Errorf("stored content = %q, want archive", got)
	}
}

func TestHTTPDestination_UploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bucket is read-only"))
	}))
	defer server.Close()

	dest := newTestHTTPDestination(t, server.URL, HTTPOptions{})
	err := dest.Upload(context.Background(), testKey, "shop.users.tar.gz", strings.NewReader("archive"), 7)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("error should include response body: %v", err)
	}
}
