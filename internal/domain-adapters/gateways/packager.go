package gateways

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/beobal/csp/internal/domain/entities"
)

// gzipBlockSize is the pgzip block size; each block is compressed in parallel
const gzipBlockSize = 1 << 20

// Packager archives table snapshots into compressed tarballs
type Packager struct {
	gzipBlocks int
}

// NewPackager creates a new packager
func NewPackager() *Packager {
	return &Packager{gzipBlocks: runtime.GOMAXPROCS(0)}
}

// countingWriter counts bytes written through it
type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// PackageTable writes <outputDir>/<keyspace>.<table><ext> containing every
// file of the table snapshot under "<keyspace>/<table>/"
func (p *Packager) PackageTable(
	ctx context.Context,
	table *entities.TableSnapshot,
	outputDir string,
	compression entities.Compression,
) (*entities.Artifact, error) {
	if !compression.Valid() {
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	if len(table.Files) == 0 {
		return nil, fmt.Errorf("table %s: %w", table.QualifiedName(), entities.ErrEmptySnapshot)
	}

	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := entities.ArtifactName(table.Keyspace, table.Table, compression)
	archivePath := filepath.Join(outputDir, name)

	pending, err := renameio.NewPendingFile(archivePath, renameio.WithPermissions(0640))
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	//nolint:errcheck // Cleanup is a no-op after CloseAtomicallyReplace
	defer pending.Cleanup()

	hasher := sha256.New()
	counter := &countingWriter{}
	out := io.MultiWriter(pending, hasher, counter)

	compressor, err := p.newCompressor(out, compression)
	if err != nil {
		return nil, err
	}
	// Stops the compressor's workers when archiving is abandoned
	compressed := false
	defer func() {
		if !compressed {
			_ = compressor.Close()
		}
	}()

	tarWriter := tar.NewWriter(compressor)
	prefix := path.Join(table.Keyspace, table.Table)

	for _, f := range table.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(tarWriter, f, path.Join(prefix, f.RelPath)); err != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", f.Path, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	compressed = true
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	return &entities.Artifact{
		Name:        name,
		Keyspace:    table.Keyspace,
		Table:       table.Table,
		TableID:     table.TableID,
		Path:        archivePath,
		Size:        counter.n,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		FileCount:   len(table.Files),
		Compression: compression,
	}, nil
}

func (p *Packager) newCompressor(w io.Writer, compression entities.Compression) (io.WriteCloser, error) {
	switch compression {
	case entities.CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return enc, nil
	default:
		gz := pgzip.NewWriter(w)
		if err := gz.SetConcurrency(gzipBlockSize, p.gzipBlocks); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("failed to configure gzip writer: %w", err)
		}
		return gz, nil
	}
}

// addFile writes one snapshot file; symlinks are stored as links, hard
// links as regular files
func addFile(tw *tar.Writer, f entities.SnapshotFile, nameInArchive string) error {
	info, err := os.Lstat(f.Path)
	if err != nil {
		return err
	}

	var linkTarget string
	if info.Mode()&os.ModeSymlink != 0 {
		linkTarget, err = os.Readlink(f.Path)
		if err != nil {
			return fmt.Errorf("failed to read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return fmt.Errorf("failed to create tar header: %w", err)
	}
	header.Name = nameInArchive

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	//nolint:gosec // G304: path comes from the snapshot directory scan
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer file.Close()

	// Copy exactly the header size so a growing file cannot corrupt the stream
	if _, err := io.CopyN(tw, file, header.Size); err != nil {
		return fmt.Errorf("failed to write file to tar: %w", err)
	}

	return nil
}
