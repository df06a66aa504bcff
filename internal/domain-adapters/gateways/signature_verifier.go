package gateways

import (
	"context"
	"fmt"
	"io"

	"github.com/beobal/csp/internal/external-adapters/gpg"
)

// KeySources lists where trusted public keys come from
type KeySources struct {
	Files        []string // armored or binary key files
	URLs         []string // KEYS files
	Fingerprints []string // looked up on the keyservers
	Keyservers   []string // overrides gpg.DefaultKeyservers when set
}

// Empty reports whether no key source was given
func (s KeySources) Empty() bool {
	return len(s.Files) == 0 && len(s.URLs) == 0 && len(s.Fingerprints) == 0
}

// gpgSignatureVerifier wraps the external GPG adapter to implement the domain gateway interface
type gpgSignatureVerifier struct {
	verifier *gpg.Verifier
}

// NewSignatureVerifier imports every key source into a fresh keyring
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewSignatureVerifier(ctx context.Context, sources KeySources) (*gpgSignatureVerifier, error) {
	verifier := gpg.NewVerifier()
	if len(sources.Keyservers) > 0 {
		verifier.WithKeyservers(sources.Keyservers...)
	}
	g := &gpgSignatureVerifier{verifier: verifier}

	for _, path := range sources.Files {
		if err := g.verifier.ImportKeyFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to import GPG key from file: %w", err)
		}
	}
	for _, keysURL := range sources.URLs {
		if err := g.verifier.ImportKeysFromURL(ctx, keysURL); err != nil {
			return nil, fmt.Errorf("failed to import GPG keys from URL: %w", err)
		}
	}
	if len(sources.Fingerprints) > 0 {
		if err := g.verifier.ImportKeys(ctx, sources.Fingerprints); err != nil {
			return nil, fmt.Errorf("failed to import GPG keys: %w", err)
		}
	}
	return g, nil
}

// VerifySignature verifies a detached signature of data
func (g *gpgSignatureVerifier) VerifySignature(data, sig io.Reader) error {
	if err := g.verifier.VerifySignature(data, sig); err != nil {
		return fmt.Errorf("GPG signature verification failed: %w", err)
	}
	return nil
}

// GetKeyringSize returns the number of keys loaded
func (g *gpgSignatureVerifier) GetKeyringSize() int {
	return g.verifier.GetKeyringSize()
}
