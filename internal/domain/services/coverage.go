package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beobal/csp/internal/domain/entities"
)

// CoverageStatus represents how completely a publication matches its manifest
type CoverageStatus string

// Coverage statuses
const (
	StatusReady              CoverageStatus = "ready"
	StatusNoArchives         CoverageStatus = "no_archives"
	StatusMissingArchives    CoverageStatus = "missing_archives"
	StatusChecksumMismatch   CoverageStatus = "checksum_mismatch"
	StatusUnexpectedArchives CoverageStatus = "unexpected_archives"
)

// ObservedArchive is an archive as found at a publication location.
// An empty SHA256 means only presence and size were checked.
type ObservedArchive struct {
	Name   string
	Size   int64
	SHA256 string
}

// CoverageReport compares manifest entries with the observed archives
type CoverageReport struct {
	Status        CoverageStatus
	ExpectedCount int
	ObservedCount int
	Missing       []string
	Unexpected    []string
	Mismatched    []string
}

// IsReady returns true if every manifest entry was found intact
func (r *CoverageReport) IsReady() bool {
	return r.Status == StatusReady
}

// ErrorMessage returns a human-readable error message if not ready
func (r *CoverageReport) ErrorMessage() string {
	switch r.Status {
	case StatusReady:
		return ""
	case StatusNoArchives:
		return fmt.Sprintf("No archives found (expected: %d)", r.ExpectedCount)
	case StatusMissingArchives:
		msg := fmt.Sprintf("Archive count mismatch (expected: %d, have: %d)", r.ExpectedCount, r.ObservedCount)
		msg += fmt.Sprintf("\n   Missing: %s", strings.Join(r.Missing, ", "))
		return msg
	case StatusChecksumMismatch:
		return fmt.Sprintf("Checksum or size mismatch: %s", strings.Join(r.Mismatched, ", "))
	case StatusUnexpectedArchives:
		return fmt.Sprintf("Unexpected archives found: %s", strings.Join(r.Unexpected, ", "))
	default:
		return "Unknown status"
	}
}

// CoverageService decides whether a publication is complete
type CoverageService struct{}

// NewCoverageService creates a new coverage service
func NewCoverageService() *CoverageService {
	return &CoverageService{}
}

// Validate compares the manifest with what was observed at the destination
func (s *CoverageService) Validate(m *entities.Manifest, observed []ObservedArchive) *CoverageReport {
	report := &CoverageReport{
		ExpectedCount: len(m.Archives),
		ObservedCount: len(observed),
	}

	byName := make(map[string]ObservedArchive, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}

	expected := make(map[string]bool, len(m.Archives))
	for _, e := range m.Archives {
		expected[e.Name] = true
		o, ok := byName[e.Name]
		if !ok {
			report.Missing = append(report.Missing, e.Name)
			continue
		}
		if o.Size != e.Size || (o.SHA256 != "" && !strings.EqualFold(o.SHA256, e.SHA256)) {
			report.Mismatched = append(report.Mismatched, e.Name)
		}
	}

	for _, o := range observed {
		if !expected[o.Name] {
			report.Unexpected = append(report.Unexpected, o.Name)
		}
	}
	sort.Strings(report.Unexpected)

	switch {
	case report.ObservedCount == 0:
		report.Status = StatusNoArchives
	case len(report.Missing) > 0:
		report.Status = StatusMissingArchives
	case len(report.Mismatched) > 0:
		report.Status = StatusChecksumMismatch
	case len(report.Unexpected) > 0:
		report.Status = StatusUnexpectedArchives
	default:
		report.Status = StatusReady
	}

	return report
}
