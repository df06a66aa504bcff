package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

// CompositeDestination fans every call out to several destinations in order
type CompositeDestination struct {
	destinations []gateways.Destination
}

// NewCompositeDestination composes destinations
func NewCompositeDestination(destinations ...gateways.Destination) *CompositeDestination {
	return &CompositeDestination{destinations: destinations}
}

// Destinations returns the composed destinations
func (c *CompositeDestination) Destinations() []gateways.Destination {
	return c.destinations
}

// Describe lists every destination
func (c *CompositeDestination) Describe() string {
	names := make([]string, 0, len(c.destinations))
	for _, d := range c.destinations {
		names = append(names, d.Describe())
	}
	return strings.Join(names, ", ")
}

// Exists is true only when every destination has the publication
func (c *CompositeDestination) Exists(ctx context.Context, key entities.PublicationKey) (bool, error) {
	if len(c.destinations) == 0 {
		return false, nil
	}
	for _, d := range c.destinations {
		ok, err := d.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("%s: %w", d.Describe(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Begin starts the run on every destination
func (c *CompositeDestination) Begin(ctx context.Context, key entities.PublicationKey) error {
	for _, d := range c.destinations {
		if err := d.Begin(ctx, key); err != nil {
			return fmt.Errorf("%s: %w", d.Describe(), err)
		}
	}
	return nil
}

// Upload sends the object to each destination. With more than one
// destination the content must be seekable so it can be replayed.
func (c *CompositeDestination) Upload(ctx context.Context, key entities.PublicationKey, name string, content io.Reader, size int64) error {
	if len(c.destinations) == 1 {
		return c.destinations[0].Upload(ctx, key, name, content, size)
	}

	seeker, ok := content.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("upload of %s to %d destinations needs a seekable reader", name, len(c.destinations))
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to read position of %s: %w", name, err)
	}

	for _, d := range c.destinations {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind %s: %w", name, err)
		}
		if err := d.Upload(ctx, key, name, seeker, size); err != nil {
			return fmt.Errorf("%s: %w", d.Describe(), err)
		}
	}
	return nil
}

// Finalize finalizes every destination, reporting all failures
func (c *CompositeDestination) Finalize(ctx context.Context, key entities.PublicationKey) error {
	var errs []error
	for _, d := range c.destinations {
		if err := d.Finalize(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Describe(), err))
		}
	}
	return errors.Join(errs...)
}

// DestinationOptions carries what the destination constructors need
type DestinationOptions struct {
	HTTP         HTTPOptions
	GitHubToken  string
	GitHubAPIURL string
	Logger       interfaces.Logger
}

// ParseDestination builds a destination from a URI:
//
//	file:///path or /path     local directory tree
//	http(s)://host/prefix     HTTP PUT
//	github://owner/repo       GitHub releases
func ParseDestination(uri string, opts DestinationOptions) (gateways.Destination, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty destination")
	}

	scheme, rest, hasScheme := strings.Cut(uri, "://")
	if !hasScheme {
		abs, err := filepath.Abs(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid destination path %q: %w", uri, err)
		}
		return NewLocalDestination(abs), nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		if rest == "" || !strings.HasPrefix(rest, "/") {
			return nil, fmt.Errorf("invalid destination %q: file URIs need an absolute path", uri)
		}
		return NewLocalDestination(rest), nil

	case "http", "https":
		return NewHTTPDestination(uri, opts.HTTP)

	case "github":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid destination %q: %w", uri, err)
		}
		owner := u.Host
		repo := strings.Trim(u.Path, "/")
		if owner == "" || repo == "" || strings.Contains(repo, "/") {
			return nil, fmt.Errorf("invalid destination %q: want github://owner/repo", uri)
		}
		if opts.GitHubToken == "" {
			return nil, fmt.Errorf("destination %s needs a GitHub token", uri)
		}

		ghOpts := []GitHubOption{WithGitHubLogger(loggerOrNoOp(opts.Logger))}
		if opts.GitHubAPIURL != "" {
			ghOpts = append(ghOpts, WithGitHubAPIURL(opts.GitHubAPIURL))
		}
		if opts.HTTP.Retry != (RetryPolicy{}) {
			ghOpts = append(ghOpts, WithGitHubRetry(opts.HTTP.Retry))
		}
		gateway := NewHTTPGitHubGateway(opts.GitHubToken, ghOpts...)
		return NewGitHubDestination(gateway, owner, repo, opts.Logger), nil

	default:
		return nil, fmt.Errorf("unsupported destination scheme %q in %s", scheme, uri)
	}
}

// ParseDestinations parses every URI and composes the result
func ParseDestinations(uris []string, opts DestinationOptions) (*CompositeDestination, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("no destination configured")
	}
	dests := make([]gateways.Destination, 0, len(uris))
	for _, uri := range uris {
		d, err := ParseDestination(uri, opts)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return NewCompositeDestination(dests...), nil
}

func loggerOrNoOp(logger interfaces.Logger) interfaces.Logger {
	if logger == nil {
		return &interfaces.NoOpLogger{}
	}
	return logger
}
