package gateways

import "context"

// SnapshotTool drives snapshot creation on the local Cassandra node
type SnapshotTool interface {
	// Snapshot takes a snapshot named tag; an empty keyspace list means all keyspaces
	Snapshot(ctx context.Context, tag string, keyspaces []string, table string, skipFlush bool) error

	// ClearSnapshot removes the snapshot named tag
	ClearSnapshot(ctx context.Context, tag string, keyspaces []string) error
}
