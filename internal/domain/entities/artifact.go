// Package entities defines core domain models and data structures.
package entities

// Compression identifies the archive codec
type Compression string

// Supported archive codecs
const (
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Extension returns the archive file extension for the codec
func (c Compression) Extension() string {
	if c == CompressionZstd {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Valid reports whether the codec is supported
func (c Compression) Valid() bool {
	return c == CompressionGzip || c == CompressionZstd
}

// Artifact is the archive produced for a single table snapshot
type Artifact struct {
	Name        string // "<keyspace>.<table>" + extension
	Keyspace    string
	Table       string
	TableID     string
	Path        string
	Size        int64
	SHA256      string
	FileCount   int
	Compression Compression
}

// ArtifactName builds the archive file name for a table
func ArtifactName(keyspace, table string, c Compression) string {
	return keyspace + "." + table + c.Extension()
}
