package entities

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// SnapshotsDirName is the per-table directory holding snapshots
const SnapshotsDirName = "snapshots"

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// SystemKeyspaces are skipped unless explicitly requested
var SystemKeyspaces = map[string]bool{
	"system":                true,
	"system_schema":         true,
	"system_auth":           true,
	"system_distributed":    true,
	"system_traces":         true,
	"system_views":          true,
	"system_virtual_schema": true,
}

// ValidateTag checks a snapshot tag before it reaches nodetool or the filesystem
func ValidateTag(tag string) error {
	if !tagPattern.MatchString(tag) || tag == "." || tag == ".." {
		return &TagError{Tag: tag}
	}
	return nil
}

// SnapshotTagFromPath extracts the tag from a path below a snapshots directory
func SnapshotTagFromPath(path string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == SnapshotsDirName && ValidateTag(parts[i+1]) == nil {
			return parts[i+1], true
		}
	}
	return "", false
}

// SnapshotFile is a single file inside a table snapshot directory
type SnapshotFile struct {
	Path      string // absolute source path
	RelPath   string
	Size      int64
	ModTime   time.Time
	Component string // e.g. "Data.db", "manifest.json", "schema.cql"
}

// TableSnapshot is the snapshot directory of one table
type TableSnapshot struct {
	Keyspace string
	Table    string
	TableID  string // empty for pre-3.0 table directories
	Dir      string // first snapshot directory; JBOD nodes may spread files over several
	Files    []SnapshotFile
}

// QualifiedName returns "keyspace.table"
func (t *TableSnapshot) QualifiedName() string {
	return t.Keyspace + "." + t.Table
}

// Size returns the total size of all files
func (t *TableSnapshot) Size() int64 {
	var total int64
	for _, f := range t.Files {
		total += f.Size
	}
	return total
}

// Snapshot groups all table snapshots sharing a tag on this node
type Snapshot struct {
	Tag       string
	Tables    []*TableSnapshot
	CreatedAt time.Time
}

// Size returns the total size of the snapshot
func (s *Snapshot) Size() int64 {
	var total int64
	for _, t := range s.Tables {
		total += t.Size()
	}
	return total
}

// FileCount returns the number of files across all tables
func (s *Snapshot) FileCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Files)
	}
	return n
}

// Keyspaces returns the sorted, de-duplicated keyspace names
func (s *Snapshot) Keyspaces() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, t := range s.Tables {
		if !seen[t.Keyspace] {
			seen[t.Keyspace] = true
			out = append(out, t.Keyspace)
		}
	}
	sort.Strings(out)
	return out
}

// SortTables orders tables by keyspace, then table name
func (s *Snapshot) SortTables() {
	sort.Slice(s.Tables, func(i, j int) bool {
		if s.Tables[i].Keyspace != s.Tables[j].Keyspace {
			return s.Tables[i].Keyspace < s.Tables[j].Keyspace
		}
		return s.Tables[i].Table < s.Tables[j].Table
	})
}

// SnapshotFilter restricts which tables of a snapshot are considered
type SnapshotFilter struct {
	Keyspaces     []string
	Tables        []string // "keyspace.table"
	IncludeSystem bool
}

// Match reports whether a table passes the filter
func (f SnapshotFilter) Match(keyspace, table string) bool {
	if SystemKeyspaces[keyspace] && !f.IncludeSystem && !contains(f.Keyspaces, keyspace) {
		return false
	}
	if len(f.Keyspaces) > 0 && !contains(f.Keyspaces, keyspace) {
		return false
	}
	if len(f.Tables) > 0 && !contains(f.Tables, keyspace+"."+table) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
