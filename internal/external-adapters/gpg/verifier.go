// Package gpg signs and verifies publication manifests with OpenPGP keys.
package gpg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ErrNoKeys is returned when verification is attempted with an empty keyring
var ErrNoKeys = errors.New("no GPG keys imported")

// DefaultKeyservers are queried in order by ImportKeys
var DefaultKeyservers = []string{
	"https://keys.openpgp.org",
	"https://keyserver.ubuntu.com",
}

const armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE---"

// Verifier checks detached signatures using ProtonMail's go-crypto
type Verifier struct {
	keyring    openpgp.EntityList
	httpClient *http.Client
	keyservers []string
}

// NewVerifier creates a new GPG verifier
func NewVerifier() *Verifier {
	return &Verifier{
		keyring: make(openpgp.EntityList, 0),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		keyservers: DefaultKeyservers,
	}
}

// WithKeyservers replaces the keyserver list
func (v *Verifier) WithKeyservers(keyservers ...string) *Verifier {
	v.keyservers = keyservers
	return v
}

// ImportKeys imports keys by fingerprint from the configured keyservers
func (v *Verifier) ImportKeys(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return fmt.Errorf("no key IDs provided")
	}

	for _, keyID := range fingerprints {
		keyID = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(keyID), "0x"))
		if keyID == "" {
			continue
		}

		var lastErr error
		imported := false

		for _, keyserver := range v.keyservers {
			urls := []string{
				fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", keyserver, keyID),
				fmt.Sprintf("%s/pks/lookup?op=get&search=0x%s", keyserver, keyID),
			}

			for _, url := range urls {
				entities, err := v.fetchKeyring(ctx, url, 1<<20)
				if err != nil {
					lastErr = err
					continue
				}

				// The server must return the key that was asked for
				if !matchesFingerprint(entities, keyID) {
					lastErr = fmt.Errorf("no valid keys found matching fingerprint %s", keyID)
					continue
				}

				v.keyring = append(v.keyring, entities...)
				imported = true
				break
			}

			if imported {
				break
			}
		}

		if !imported {
			if lastErr == nil {
				lastErr = fmt.Errorf("no keyservers configured")
			}
			return fmt.Errorf("failed to import key %s from all keyservers: %w", keyID, lastErr)
		}
	}

	return nil
}

// ImportKeysFromURL imports every key from a published KEYS file
func (v *Verifier) ImportKeysFromURL(ctx context.Context, keysURL string) error {
	entities, err := v.fetchKeyring(ctx, keysURL, 10<<20)
	if err != nil {
		return fmt.Errorf("failed to import KEYS file: %w", err)
	}

	v.keyring = append(v.keyring, entities...)
	return nil
}

func (v *Verifier) fetchKeyring(ctx context.Context, url string, limit int64) (openpgp.EntityList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download keys: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyserver returned status %d", resp.StatusCode)
	}

	entities, err := openpgp.ReadArmoredKeyRing(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to parse keys: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in response")
	}
	return entities, nil
}

func matchesFingerprint(entities openpgp.EntityList, keyID string) bool {
	for _, entity := range entities {
		fingerprint := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
		// Full fingerprint or long key ID (last 16 hex chars)
		if fingerprint == keyID || (len(keyID) == 16 && strings.HasSuffix(fingerprint, keyID)) {
			return true
		}
	}
	return false
}

// ImportKeyFromFile imports a public key from an armored or binary key file
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	entities, err := readKeyFile(keyPath)
	if err != nil {
		return err
	}

	v.keyring = append(v.keyring, entities...)
	return nil
}

// VerifySignature verifies a detached signature, armored or binary
func (v *Verifier) VerifySignature(data, sig io.Reader) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("%w, import a public key first", ErrNoKeys)
	}

	// Signatures are small; the limit also keeps hostile input bounded
	sigData, err := io.ReadAll(io.LimitReader(sig, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	if len(sigData) < 10 {
		return fmt.Errorf("signature file too small to be valid GPG signature")
	}

	var verifyErr error
	if strings.HasPrefix(string(sigData), armoredSignaturePrefix) {
		_, verifyErr = openpgp.CheckArmoredDetachedSignature(v.keyring, data, strings.NewReader(string(sigData)), nil)
	} else {
		_, verifyErr = openpgp.CheckDetachedSignature(v.keyring, data, strings.NewReader(string(sigData)), nil)
	}

	if verifyErr != nil {
		return fmt.Errorf("signature verification failed: %w", verifyErr)
	}

	return nil
}

// VerifySignatureFromFile verifies a detached signature stored next to a local file
func (v *Verifier) VerifySignatureFromFile(filePath, sigPath string) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("%w, import a public key first", ErrNoKeys)
	}

	//nolint:gosec // G304: sigPath is user-provided for GPG verification
	sigFile, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("failed to open signature file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer sigFile.Close()

	//nolint:gosec // G304: filePath is user-provided for GPG verification
	dataFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer dataFile.Close()

	return v.VerifySignature(dataFile, sigFile)
}

// GetKeyringSize returns the number of keys in the keyring
func (v *Verifier) GetKeyringSize() int {
	return len(v.keyring)
}

func readKeyFile(keyPath string) (openpgp.EntityList, error) {
	//nolint:gosec // G304: keyPath is user-provided for GPG key import
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		// Try reading as binary
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("failed to reset file: %w", seekErr)
		}
		entities, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in file")
	}
	return entities, nil
}
