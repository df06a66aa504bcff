// Package services contains domain logic that does not depend on external systems.
package services

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrChecksumMismatch is returned when computed and recorded digests differ
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumService computes and checks SHA-256 digests and sha256sum-style files
type ChecksumService struct{}

// NewChecksumService creates a new checksum service
func NewChecksumService() *ChecksumService {
	return &ChecksumService{}
}

// SHA256 hashes a stream and returns the hex digest and byte count
func (s *ChecksumService) SHA256(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SHA256File hashes a file
func (s *ChecksumService) SHA256File(path string) (string, error) {
	//nolint:gosec // G304: path is a staged artifact or a user-provided publication file
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	sum, _, err := s.SHA256(f)
	return sum, err
}

// FormatChecksumLine renders "<hex>  <name>\n" as sha256sum does
func (s *ChecksumService) FormatChecksumLine(sum, name string) string {
	return fmt.Sprintf("%s  %s\n", sum, name)
}

// WriteChecksumFile writes <path>.sha256 next to path and returns its location
func (s *ChecksumService) WriteChecksumFile(path string) (string, error) {
	sum, err := s.SHA256File(path)
	if err != nil {
		return "", err
	}

	checksumPath := path + ".sha256"
	content := s.FormatChecksumLine(sum, filepath.Base(path))
	if err := os.WriteFile(checksumPath, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write SHA256 file: %w", err)
	}

	return checksumPath, nil
}

// ParseChecksum reads the first digest from a sha256sum-style stream.
// A bare digest without file name is accepted.
func (s *ChecksumService) ParseChecksum(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		sum := strings.ToLower(fields[0])
		if len(sum) != sha256.Size*2 {
			return "", fmt.Errorf("invalid SHA256 digest %q", fields[0])
		}
		if _, err := hex.DecodeString(sum); err != nil {
			return "", fmt.Errorf("invalid SHA256 digest %q: %w", fields[0], err)
		}
		return sum, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read checksum: %w", err)
	}
	return "", fmt.Errorf("no checksum found")
}

// Compare returns ErrChecksumMismatch (wrapped with both digests) when they differ
func (s *ChecksumService) Compare(expected, actual string) error {
	if !strings.EqualFold(expected, actual) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

// VerifyChecksumFile checks path against the digest recorded in checksumPath
func (s *ChecksumService) VerifyChecksumFile(path, checksumPath string) error {
	//nolint:gosec // G304: checksum path is user-provided for verification
	f, err := os.Open(checksumPath)
	if err != nil {
		return fmt.Errorf("failed to open checksum file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	expected, err := s.ParseChecksum(f)
	if err != nil {
		return err
	}

	actual, err := s.SHA256File(path)
	if err != nil {
		return err
	}

	return s.Compare(expected, actual)
}
