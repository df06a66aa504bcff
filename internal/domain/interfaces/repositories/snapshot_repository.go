// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/beobal/csp/internal/domain/entities"
)

// SnapshotRepository gives access to the snapshots present on the local node
type SnapshotRepository interface {
	// GetSnapshot loads every table snapshot with the given tag that passes the filter
	GetSnapshot(ctx context.Context, tag string, filter entities.SnapshotFilter) (*entities.Snapshot, error)

	// ListSnapshots returns all snapshots on disk, newest first
	ListSnapshots(ctx context.Context, filter entities.SnapshotFilter) ([]*entities.Snapshot, error)

	// TableDirs returns the table directories that pass the filter, across all data dirs
	TableDirs(ctx context.Context, filter entities.SnapshotFilter) ([]string, error)
}
