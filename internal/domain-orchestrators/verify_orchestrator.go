package orchestrators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
	"github.com/beobal/csp/internal/domain/interfaces"
	"github.com/beobal/csp/internal/domain/interfaces/gateways"
	"github.com/beobal/csp/internal/domain/services"
)

// ErrVerificationFailed is returned when a publication does not check out
var ErrVerificationFailed = errors.New("verification failed")

// VerifyOrchestrator coordinates the complete verification workflow
type VerifyOrchestrator struct {
	verifier  gateways.SignatureVerifier
	manifests *services.ManifestService
	checksums *services.ChecksumService
	coverage  *services.CoverageService
	logger    interfaces.Logger
}

// NewVerifyOrchestrator creates a new verify orchestrator. A nil verifier
// skips signature checks unless a signature is required.
func NewVerifyOrchestrator(verifier gateways.SignatureVerifier, logger interfaces.Logger) *VerifyOrchestrator {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &VerifyOrchestrator{
		verifier:  verifier,
		manifests: services.NewManifestService(),
		checksums: services.NewChecksumService(),
		coverage:  services.NewCoverageService(),
		logger:    logger,
	}
}

// VerifyOptions tunes verification strictness
type VerifyOptions struct {
	RequireSignature bool
}

// VerifyResult contains the complete verification results
type VerifyResult struct {
	Location         string
	Manifest         *entities.Manifest
	ChecksumOK       bool
	SignaturePresent bool
	SignatureChecked bool
	SignatureOK      bool
	Coverage         *services.CoverageReport
	Problems         []string
	Duration         time.Duration
	Verified         bool
}

// objectSource opens publication objects by name, mapping absence to gateways.ErrNotFound
type objectSource struct {
	open func(ctx context.Context, name string) (io.ReadCloser, error)
	// list returns every archive name present; nil when the location cannot enumerate
	list func() ([]string, error)
}

// VerifyLocal verifies a publication directory on disk
func (o *VerifyOrchestrator) VerifyLocal(ctx context.Context, dir string, opts VerifyOptions) (*VerifyResult, error) {
	src := objectSource{
		open: func(_ context.Context, name string) (io.ReadCloser, error) {
			//nolint:gosec // G304: names come from the manifest and are joined below dir
			f, err := os.Open(filepath.Join(dir, filepath.Base(name)))
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", name, gateways.ErrNotFound)
			}
			return f, err
		},
		list: func() ([]string, error) {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, err
			}
			var names []string
			for _, e := range entries {
				if e.Type().IsRegular() && isArchiveName(e.Name()) {
					names = append(names, e.Name())
				}
			}
			return names, nil
		},
	}
	return o.verify(ctx, dir, src, nil, opts)
}

// VerifyRemote verifies a publication through a destination that can read objects back
func (o *VerifyOrchestrator) VerifyRemote(ctx context.Context, dest gateways.Fetcher, location string, key entities.PublicationKey, opts VerifyOptions) (*VerifyResult, error) {
	src := objectSource{
		open: func(ctx context.Context, name string) (io.ReadCloser, error) {
			return dest.Fetch(ctx, key, name)
		},
	}
	return o.verify(ctx, location, src, &key, opts)
}

func isArchiveName(name string) bool {
	return strings.HasSuffix(name, entities.CompressionGzip.Extension()) ||
		strings.HasSuffix(name, entities.CompressionZstd.Extension())
}

func readAll(ctx context.Context, src objectSource, name string, limit int64) ([]byte, error) {
	rc, err := src.open(ctx, name)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close on read-only object
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func (o *VerifyOrchestrator) verify(ctx context.Context, location string, src objectSource, key *entities.PublicationKey, opts VerifyOptions) (*VerifyResult, error) {
	startTime := time.Now()
	result := &VerifyResult{Location: location}
	problem := func(format string, args ...any) {
		result.Problems = append(result.Problems, fmt.Sprintf(format, args...))
	}
	finish := func() (*VerifyResult, error) {
		result.Duration = time.Since(startTime)
		result.Verified = len(result.Problems) == 0
		if !result.Verified {
			return result, fmt.Errorf("%s: %w: %s", location, ErrVerificationFailed, strings.Join(result.Problems, "; "))
		}
		return result, nil
	}

	// Step 1: Manifest and its checksum
	manifestData, err := readAll(ctx, src, entities.ManifestName, 16<<20)
	if err != nil {
		if errors.Is(err, gateways.ErrNotFound) {
			problem("manifest not found, publication is incomplete")
			return finish()
		}
		return result, err
	}

	sumData, err := readAll(ctx, src, entities.ManifestChecksumName, 4096)
	switch {
	case errors.Is(err, gateways.ErrNotFound):
		problem("%s not found", entities.ManifestChecksumName)
	case err != nil:
		return result, err
	default:
		expected, err := o.checksums.ParseChecksum(bytes.NewReader(sumData))
		if err != nil {
			problem("%s: %v", entities.ManifestChecksumName, err)
			break
		}
		actual, _, _ := o.checksums.SHA256(bytes.NewReader(manifestData))
		if err := o.checksums.Compare(expected, actual); err != nil {
			problem("manifest: %v", err)
		} else {
			result.ChecksumOK = true
		}
	}

	manifest, err := o.manifests.Read(bytes.NewReader(manifestData))
	if err != nil {
		problem("%v", err)
		return finish()
	}
	result.Manifest = manifest

	if key != nil {
		if got := manifest.Key(); got.Prefix() != key.Prefix() {
			problem("manifest describes %s, expected %s", got, key)
		}
	}

	// Step 2: Signature
	if err := o.verifySignature(ctx, src, manifestData, manifest, opts, result); err != nil {
		return result, err
	}

	// Step 3: Archives
	observed := make([]services.ObservedArchive, 0, len(manifest.Archives))
	for _, entry := range manifest.Archives {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rc, err := src.open(ctx, entry.Name)
		if err != nil {
			if errors.Is(err, gateways.ErrNotFound) {
				continue
			}
			return result, err
		}
		sum, size, err := o.checksums.SHA256(rc)
		_ = rc.Close()
		if err != nil {
			return result, fmt.Errorf("failed to hash %s: %w", entry.Name, err)
		}
		observed = append(observed, services.ObservedArchive{Name: entry.Name, Size: size, SHA256: sum})
	}

	if src.list != nil {
		names, err := src.list()
		if err != nil {
			return result, fmt.Errorf("failed to list archives: %w", err)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := manifest.Entry(name); !ok {
				observed = append(observed, services.ObservedArchive{Name: name})
			}
		}
	}

	result.Coverage = o.coverage.Validate(manifest, observed)
	if !result.Coverage.IsReady() {
		problem("%s", result.Coverage.ErrorMessage())
	}

	o.logger.Debug("Verified publication",
		interfaces.F("location", location),
		interfaces.F("archives", len(observed)),
		interfaces.F("problems", len(result.Problems)))
	return finish()
}

func (o *VerifyOrchestrator) verifySignature(ctx context.Context, src objectSource, manifestData []byte, manifest *entities.Manifest, opts VerifyOptions, result *VerifyResult) error {
	sigData, err := readAll(ctx, src, entities.ManifestSignatureName, 64*1024)
	switch {
	case errors.Is(err, gateways.ErrNotFound):
		if manifest.Signed {
			result.Problems = append(result.Problems, "manifest is marked signed but has no signature")
		} else if opts.RequireSignature {
			result.Problems = append(result.Problems, "signature required but publication is unsigned")
		}
		return nil
	case err != nil:
		return err
	}
	result.SignaturePresent = true

	if o.verifier == nil || o.verifier.GetKeyringSize() == 0 {
		if opts.RequireSignature {
			result.Problems = append(result.Problems, "signature required but no public key was imported")
		} else {
			o.logger.Warn("Signature not checked, no public key imported", interfaces.F("location", result.Location))
		}
		return nil
	}

	result.SignatureChecked = true
	if err := o.verifier.VerifySignature(bytes.NewReader(manifestData), bytes.NewReader(sigData)); err != nil {
		result.Problems = append(result.Problems, err.Error())
		return nil
	}
	result.SignatureOK = true
	return nil
}

// GetVerifySummary generates a human-readable verification summary
func (r *VerifyResult) GetVerifySummary() string {
	if !r.Verified {
		return fmt.Sprintf("FAILED: %s\n   %s", r.Location, strings.Join(r.Problems, "\n   "))
	}

	summary := fmt.Sprintf("OK: %s\n", r.Location)
	summary += fmt.Sprintf("   %s\n", r.Manifest.Summary())
	switch {
	case r.SignatureOK:
		summary += fmt.Sprintf("   Signature: valid (%s)\n", r.Manifest.SignerKey)
	case r.SignaturePresent:
		summary += "   Signature: present, not checked\n"
	default:
		summary += "   Signature: none\n"
	}
	summary += fmt.Sprintf("   Duration: %v", r.Duration)
	return summary
}
