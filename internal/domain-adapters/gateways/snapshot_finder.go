package gateways

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
)

// tableDirPattern matches "<table>-<32 hex id>" table directories (Cassandra 3.0+)
var tableDirPattern = regexp.MustCompile(`^(.+)-([0-9a-f]{32})$`)

// SnapshotFinder discovers snapshots under the node's data directories
type SnapshotFinder struct {
	dataDirs []string
	logger   interfaces.Logger
}

// NewSnapshotFinder creates a finder over the given data directories
func NewSnapshotFinder(dataDirs []string, logger interfaces.Logger) *SnapshotFinder {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &SnapshotFinder{dataDirs: dataDirs, logger: logger}
}

// ParseTableDir splits a table directory name into table name and id
func ParseTableDir(name string) (table, id string) {
	if m := tableDirPattern.FindStringSubmatch(name); m != nil {
		return m[1], m[2]
	}
	return name, ""
}

type tableDir struct {
	keyspace string
	table    string
	id       string
	path     string
}

// tableDirs lists "<data_dir>/<keyspace>/<table>" directories passing the filter
func (f *SnapshotFinder) tableDirs(ctx context.Context, filter entities.SnapshotFilter) ([]tableDir, error) {
	var out []tableDir

	for _, dataDir := range f.dataDirs {
		keyspaces, err := os.ReadDir(dataDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				f.logger.Warn("data directory does not exist", interfaces.F("path", dataDir))
				continue
			}
			return nil, fmt.Errorf("failed to read data directory %s: %w", dataDir, err)
		}

		for _, ks := range keyspaces {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !ks.IsDir() {
				continue
			}

			ksPath := filepath.Join(dataDir, ks.Name())
			tables, err := os.ReadDir(ksPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read keyspace directory %s: %w", ksPath, err)
			}

			for _, t := range tables {
				if !t.IsDir() {
					continue
				}
				name, id := ParseTableDir(t.Name())
				if !filter.Match(ks.Name(), name) {
					continue
				}
				out = append(out, tableDir{
					keyspace: ks.Name(),
					table:    name,
					id:       id,
					path:     filepath.Join(ksPath, t.Name()),
				})
			}
		}
	}

	return out, nil
}

// TableDirs returns the table directories that pass the filter
func (f *SnapshotFinder) TableDirs(ctx context.Context, filter entities.SnapshotFilter) ([]string, error) {
	dirs, err := f.tableDirs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, d.path)
	}
	return out, nil
}

// GetSnapshot loads every table snapshot with the given tag
func (f *SnapshotFinder) GetSnapshot(ctx context.Context, tag string, filter entities.SnapshotFilter) (*entities.Snapshot, error) {
	if err := entities.ValidateTag(tag); err != nil {
		return nil, err
	}

	dirs, err := f.tableDirs(ctx, filter)
	if err != nil {
		return nil, err
	}

	snapshot := &entities.Snapshot{Tag: tag}
	for _, d := range dirs {
		snapDir := filepath.Join(d.path, entities.SnapshotsDirName, tag)
		if _, err := os.Stat(snapDir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", snapDir, err)
		}

		files, err := collectFiles(ctx, snapDir)
		if err != nil {
			return nil, err
		}
		addTable(snapshot, d, snapDir, files)
	}

	if len(snapshot.Tables) == 0 {
		return nil, fmt.Errorf("snapshot %q: %w", tag, entities.ErrSnapshotNotFound)
	}

	// Tables whose snapshot directory is empty are skipped
	kept := snapshot.Tables[:0]
	for _, t := range snapshot.Tables {
		if len(t.Files) == 0 {
			f.logger.Debug("skipping empty table snapshot", interfaces.F("table", t.QualifiedName()))
			continue
		}
		kept = append(kept, t)
	}
	snapshot.Tables = kept
	snapshot.SortTables()

	for _, t := range snapshot.Tables {
		for _, file := range t.Files {
			if snapshot.CreatedAt.IsZero() || file.ModTime.Before(snapshot.CreatedAt) {
				snapshot.CreatedAt = file.ModTime
			}
		}
	}

	return snapshot, nil
}

// addTable merges files of the same table found in several data directories
func addTable(snapshot *entities.Snapshot, d tableDir, snapDir string, files []entities.SnapshotFile) {
	for _, existing := range snapshot.Tables {
		if existing.Keyspace == d.keyspace && existing.Table == d.table {
			seen := make(map[string]bool, len(existing.Files))
			for _, f := range existing.Files {
				seen[f.RelPath] = true
			}
			for _, f := range files {
				if !seen[f.RelPath] {
					existing.Files = append(existing.Files, f)
				}
			}
			sortFiles(existing.Files)
			if existing.TableID == "" {
				existing.TableID = d.id
			}
			return
		}
	}

	snapshot.Tables = append(snapshot.Tables, &entities.TableSnapshot{
		Keyspace: d.keyspace,
		Table:    d.table,
		TableID:  d.id,
		Dir:      snapDir,
		Files:    files,
	})
}

// ListSnapshots returns all snapshots on disk, newest first
func (f *SnapshotFinder) ListSnapshots(ctx context.Context, filter entities.SnapshotFilter) ([]*entities.Snapshot, error) {
	dirs, err := f.tableDirs(ctx, filter)
	if err != nil {
		return nil, err
	}

	tags := make(map[string]bool)
	for _, d := range dirs {
		entries, err := os.ReadDir(filepath.Join(d.path, entities.SnapshotsDirName))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list snapshots of %s: %w", d.path, err)
		}
		for _, e := range entries {
			if e.IsDir() && entities.ValidateTag(e.Name()) == nil {
				tags[e.Name()] = true
			}
		}
	}

	snapshots := make([]*entities.Snapshot, 0, len(tags))
	for tag := range tags {
		s, err := f.GetSnapshot(ctx, tag, filter)
		if err != nil {
			if errors.Is(err, entities.ErrSnapshotNotFound) {
				continue
			}
			return nil, err
		}
		if len(s.Tables) == 0 {
			continue
		}
		snapshots = append(snapshots, s)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
		}
		return snapshots[i].Tag < snapshots[j].Tag
	})

	return snapshots, nil
}

// collectFiles walks a table snapshot directory, including secondary index subdirectories
func collectFiles(ctx context.Context, snapDir string) ([]entities.SnapshotFile, error) {
	var files []entities.SnapshotFile

	err := filepath.WalkDir(snapDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(snapDir, path)
		if err != nil {
			return err
		}

		files = append(files, entities.SnapshotFile{
			Path:      path,
			RelPath:   filepath.ToSlash(rel),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Component: componentOf(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot directory %s: %w", snapDir, err)
	}

	sortFiles(files)
	return files, nil
}

func sortFiles(files []entities.SnapshotFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
}

// componentOf returns the SSTable component of a file name, "nb-1-big-Data.db" -> "Data.db"
func componentOf(name string) string {
	if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".crc32") {
		return name
	}
	if i := strings.LastIndex(name, "-"); i >= 0 {
		return name[i+1:]
	}
	return name
}
