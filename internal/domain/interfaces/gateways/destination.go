package gateways

import (
	"context"
	"errors"
	"io"

	"github.com/beobal/csp/internal/domain/entities"
)

// ErrNotFound is returned by destinations when an object or publication is missing
var ErrNotFound = errors.New("not found")

// Destination receives the objects of a publication.
// Objects are uploaded in any order except the manifest, which is always last.
type Destination interface {
	// Describe returns a human readable location
	Describe() string

	// Exists reports whether a complete publication (manifest present) exists
	Exists(ctx context.Context, key entities.PublicationKey) (bool, error)

	// Begin starts a publication run, discarding objects an unfinished
	// earlier run of the same key left behind
	Begin(ctx context.Context, key entities.PublicationKey) error

	// Upload stores one object of the publication
	Upload(ctx context.Context, key entities.PublicationKey, name string, content io.Reader, size int64) error

	// Finalize makes the publication visible once every object has been uploaded
	Finalize(ctx context.Context, key entities.PublicationKey) error
}

// Lister is implemented by destinations that can enumerate publications
type Lister interface {
	List(ctx context.Context, cluster, node string) ([]entities.PublishedSnapshot, error)
}

// Deleter is implemented by destinations that can remove publications
type Deleter interface {
	Delete(ctx context.Context, key entities.PublicationKey) error
}

// Fetcher is implemented by destinations that can read objects back
type Fetcher interface {
	Fetch(ctx context.Context, key entities.PublicationKey, name string) (io.ReadCloser, error)
}
