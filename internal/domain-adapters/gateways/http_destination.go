package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beobal/csp"
	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/services"
)

// HTTPOptions configures an HTTPDestination
type HTTPOptions struct {
	Token   string // sent as "Authorization: Bearer <token>" when set
	Headers map[string]string
	Timeout time.Duration
	Retry   RetryPolicy
	Client  *http.Client
}

// HTTPDestination publishes with PUT to <base>/<cluster>/<node>/<tag>/<name>;
// any WebDAV server or S3-compatible presigning proxy accepting PUT works
type HTTPDestination struct {
	base      *url.URL
	client    *http.Client
	token     string
	headers   map[string]string
	retry     RetryPolicy
	manifests *services.ManifestService
}

// NewHTTPDestination creates a destination for an http(s) base URL
func NewHTTPDestination(baseURL string, opts HTTPOptions) (*HTTPDestination, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid destination URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid destination URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid destination URL %q: missing host", baseURL)
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	retry := opts.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}

	return &HTTPDestination{
		base:      u,
		client:    client,
		token:     opts.Token,
		headers:   opts.Headers,
		retry:     retry,
		manifests: services.NewManifestService(),
	}, nil
}

// Describe returns the base URL without credentials
func (d *HTTPDestination) Describe() string {
	return d.base.Redacted()
}

func (d *HTTPDestination) objectURL(key entities.PublicationKey, name string) string {
	u := *d.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key.Prefix() + "/" + name
	return u.String()
}

func (d *HTTPDestination) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", csp.UserAgent())
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (d *HTTPDestination) do(ctx context.Context, method, target string) (*http.Response, error) {
	return doWithRetry(ctx, d.client, d.retry, func(ctx context.Context) (*http.Request, error) {
		return d.newRequest(ctx, method, target, nil)
	}, nil)
}

// Exists checks for the manifest with HEAD
func (d *HTTPDestination) Exists(ctx context.Context, key entities.PublicationKey) (bool, error) {
	resp, err := d.do(ctx, http.MethodHead, d.objectURL(key, entities.ManifestName))
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, newStatusError(resp)
	}
}

// Upload PUTs one object
func (d *HTTPDestination) Upload(ctx context.Context, key entities.PublicationKey, name string, content io.Reader, size int64) error {
	target := d.objectURL(key, name)
	nextBody := replayableBody(content)

	resp, err := doWithRetry(ctx, d.client, d.retry, func(ctx context.Context) (*http.Request, error) {
		body, err := nextBody()
		if err != nil {
			return nil, err
		}
		req, err := d.newRequest(ctx, http.MethodPut, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType(name))
		if size >= 0 {
			req.ContentLength = size
		}
		return req, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to upload %s: %w", name, newStatusError(resp))
	}
	//nolint:errcheck,gosec // G104: Body is drained and closed
	io.Copy(io.Discard, resp.Body)
	//nolint:errcheck,gosec // G104: Best effort close
	resp.Body.Close()
	return nil
}

// Begin is a no-op: PUT replaces objects, and only the objects named by the
// manifest belong to a publication
func (d *HTTPDestination) Begin(context.Context, entities.PublicationKey) error {
	return nil
}

// Finalize is a no-op: writing the manifest last completes an HTTP publication
func (d *HTTPDestination) Finalize(context.Context, entities.PublicationKey) error {
	return nil
}

// Fetch GETs one object
func (d *HTTPDestination) Fetch(ctx context.Context, key entities.PublicationKey, name string) (io.ReadCloser, error) {
	resp, err := d.do(ctx, http.MethodGet, d.objectURL(key, name))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, newStatusError(resp))
	}
	return resp.Body, nil
}

// Delete removes the manifest first, so the publication stops being
// complete immediately, then every object it references
func (d *HTTPDestination) Delete(ctx context.Context, key entities.PublicationKey) error {
	rc, err := d.Fetch(ctx, key, entities.ManifestName)
	if err != nil {
		return err
	}
	m, err := d.manifests.Read(rc)
	//nolint:errcheck,gosec // G104: Best effort close
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read manifest of %s: %w", key, err)
	}

	names := []string{entities.ManifestName, entities.ManifestChecksumName}
	if m.Signed {
		names = append(names, entities.ManifestSignatureName)
	}
	for _, e := range m.Archives {
		names = append(names, e.Name)
	}

	var errs []error
	for _, name := range names {
		if err := d.deleteObject(ctx, key, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *HTTPDestination) deleteObject(ctx context.Context, key entities.PublicationKey, name string) error {
	resp, err := d.do(ctx, http.MethodDelete, d.objectURL(key, name))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("failed to delete %s: %w", name, newStatusError(resp))
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".asc"):
		return "application/pgp-signature"
	case strings.HasSuffix(name, ".sha256"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(name, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".tar.zst"):
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
