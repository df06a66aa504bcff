package gateways

import (
	"context"

	"github.com/beobal/csp/internal/domain/entities"
)

// Packager turns one table snapshot into a compressed archive
type Packager interface {
	PackageTable(ctx context.Context, table *entities.TableSnapshot, outputDir string, compression entities.Compression) (*entities.Artifact, error)
}
