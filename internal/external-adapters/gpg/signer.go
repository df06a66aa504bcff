package gpg

import (
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Signer produces armored detached signatures with a private key
type Signer struct {
	entity *openpgp.Entity
}

// LoadSigner reads a private key file and unlocks it with passphrase when encrypted
func LoadSigner(keyPath string, passphrase []byte) (*Signer, error) {
	entities, err := readKeyFile(keyPath)
	if err != nil {
		return nil, err
	}

	var entity *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, fmt.Errorf("no private key found in %s", keyPath)
	}

	if err := decryptEntity(entity, passphrase); err != nil {
		return nil, err
	}

	return &Signer{entity: entity}, nil
}

// NewSigner wraps an already unlocked entity
func NewSigner(entity *openpgp.Entity) *Signer {
	return &Signer{entity: entity}
}

func decryptEntity(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return fmt.Errorf("private key is encrypted and no passphrase was given")
		}
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return fmt.Errorf("failed to decrypt subkey: %w", err)
			}
		}
	}
	return nil
}

// SignDetached writes an armored detached signature of data to sig
func (s *Signer) SignDetached(data io.Reader, sig io.Writer) error {
	if err := openpgp.ArmoredDetachSign(sig, s.entity, data, nil); err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	return nil
}

// Fingerprint returns the upper-case hex fingerprint of the primary key
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}
