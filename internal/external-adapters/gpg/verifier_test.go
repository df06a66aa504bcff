package gpg

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("csp test", "", "csp@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return entity
}

func armoredPublicKey(t *testing.T, entity *openpgp.Entity) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestVerifier_ImportKeyFromFile_NonexistentFile(t *testing.T) {
	v := NewVerifier()

	err := v.ImportKeyFromFile("/nonexistent/key.asc")
	if err == nil {
		t.Fatal("Expected error for nonexistent file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to open key file") {
		t.Errorf("Expected 'failed to open key file' error, got: %v", err)
	}
}

func TestVerifier_ImportKeyFromFile_InvalidFile(t *testing.T) {
	v := NewVerifier()
	keyPath := filepath.Join(t.TempDir(), "empty.asc")
	if err := os.WriteFile(keyPath, []byte("not a gpg key"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := v.ImportKeyFromFile(keyPath); err == nil {
		t.Fatal("Expected error for invalid key file, got nil")
	}
}

func TestVerifier_KeyringOperations(t *testing.T) {
	v := NewVerifier()
	if size := v.GetKeyringSize(); size != 0 {
		t.Errorf("Initial keyring size = %d, want 0", size)
	}

	keyPath := filepath.Join(t.TempDir(), "pub.asc")
	if err := os.WriteFile(keyPath, armoredPublicKey(t, newTestEntity(t)), 0600); err != nil {
		t.Fatal(err)
	}
	if err := v.ImportKeyFromFile(keyPath); err != nil {
		t.Fatalf("ImportKeyFromFile failed: %v", err)
	}
	if size := v.GetKeyringSize(); size != 1 {
		t.Errorf("keyring size = %d, want 1", size)
	}
}

func TestSignAndVerify(t *testing.T) {
	entity := newTestEntity(t)
	signer := NewSigner(entity)
	data := []byte(`{"format_version":1}`)

	var sig bytes.Buffer
	if err := signer.SignDetached(bytes.NewReader(data), &sig); err != nil {
		t.Fatalf("SignDetached failed: %v", err)
	}
	if !strings.HasPrefix(sig.String(), armoredSignaturePrefix) {
		t.Errorf("signature is not armored: %q", sig.String()[:20])
	}

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "pub.asc")
	if err := os.WriteFile(keyPath, armoredPublicKey(t, entity), 0600); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier()
	if err := v.ImportKeyFromFile(keyPath); err != nil {
		t.Fatalf("ImportKeyFromFile failed: %v", err)
	}

	if err := v.VerifySignature(bytes.NewReader(data), bytes.NewReader(sig.Bytes())); err != nil {
		t.Errorf("VerifySignature failed: %v", err)
	}

	// Tampered data must not verify
	tampered := []byte(`{"format_version":2}`)
	if err := v.VerifySignature(bytes.NewReader(tampered), bytes.NewReader(sig.Bytes())); err == nil {
		t.Error("expected verification failure for tampered data")
	}

	// Same check through files
	dataPath := filepath.Join(tmpDir, "manifest.json")
	sigPath := dataPath + ".asc"
	if err := os.WriteFile(dataPath, data, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sigPath, sig.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	if err := v.VerifySignatureFromFile(dataPath, sigPath); err != nil {
		t.Errorf("VerifySignatureFromFile failed: %v", err)
	}
}

func TestVerifier_WrongKey(t *testing.T) {
	signer := NewSigner(newTestEntity(t))
	other := newTestEntity(t)

	data := []byte("payload")
	var sig bytes.Buffer
	if err := signer.SignDetached(bytes.NewReader(data), &sig); err != nil {
		t.Fatal(err)
	}

	keyPath := filepath.Join(t.TempDir(), "other.asc")
	if err := os.WriteFile(keyPath, armoredPublicKey(t, other), 0600); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier()
	if err := v.ImportKeyFromFile(keyPath); err != nil {
		t.Fatal(err)
	}
	if err := v.VerifySignature(bytes.NewReader(data), &sig); err == nil {
		t.Error("expected verification failure with an unrelated key")
	}
}

func TestVerifier_VerifySignature_NoKeysImported(t *testing.T) {
	v := NewVerifier()

	err := v.VerifySignature(strings.NewReader("data"), strings.NewReader("signature bytes"))
	if !errors.Is(err, ErrNoKeys) {
		t.Errorf("Expected ErrNoKeys, got: %v", err)
	}

	err = v.VerifySignatureFromFile("/tmp/test.bin", "/tmp/test.sig")
	if !errors.Is(err, ErrNoKeys) {
		t.Errorf("Expected ErrNoKeys, got: %v", err)
	}
}

func TestVerifier_ImportKeys(t *testing.T) {
	entity := newTestEntity(t)
	pub := armoredPublicKey(t, entity)
	fingerprint := NewSigner(entity).Fingerprint()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/vks/v1/by-fingerprint/"+fingerprint {
			_, _ = w.Write(pub)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v := NewVerifier().WithKeyservers(server.URL)

	if err := v.ImportKeys(context.Background(), []string{"0x" + strings.ToLower(fingerprint)}); err != nil {
		t.Fatalf("ImportKeys failed: %v", err)
	}
	if v.GetKeyringSize() != 1 {
		t.Errorf("keyring size = %d, want 1", v.GetKeyringSize())
	}

	err := v.ImportKeys(context.Background(), []string{"DEADBEEFDEADBEEF"})
	if err == nil || !strings.Contains(err.Error(), "failed to import key") {
		t.Errorf("Expected 'failed to import key' error, got: %v", err)
	}
}

func TestVerifier_ImportKeys_EmptyKeyIDs(t *testing.T) {
	v := NewVerifier()

	err := v.ImportKeys(context.Background(), []string{})
	if err == nil || !strings.Contains(err.Error(), "no key IDs provided") {
		t.Errorf("Expected 'no key IDs provided' error, got: %v", err)
	}
}

func TestVerifier_ImportKeysFromURL(t *testing.T) {
	pub := armoredPublicKey(t, newTestEntity(t))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/KEYS" {
			_, _ = w.Write(pub)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v := NewVerifier()
	if err := v.ImportKeysFromURL(context.Background(), server.URL+"/KEYS"); err != nil {
		t.Fatalf("ImportKeysFromURL failed: %v", err)
	}
	if v.GetKeyringSize() != 1 {
		t.Errorf("keyring size = %d, want 1", v.GetKeyringSize())
	}

	if err := v.ImportKeysFromURL(context.Background(), server.URL+"/missing"); err == nil {
		t.Error("expected error for 404 KEYS file")
	}
}
