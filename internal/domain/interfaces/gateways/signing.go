package gateways

import "io"

// Signer produces detached signatures
type Signer interface {
	// SignDetached writes an armored detached signature of data to sig
	SignDetached(data io.Reader, sig io.Writer) error

	// Fingerprint identifies the signing key
	Fingerprint() string
}

// SignatureVerifier checks detached signatures against imported keys
type SignatureVerifier interface {
	VerifySignature(data, sig io.Reader) error
	GetKeyringSize() int
}
