package crypto

import (
	"fmt"
	"hash"
	"io"
	"strings"
)

// Scheme names one of the supported cipher suites.
type Scheme uint8

const (
	// SchemeCurve25519 is X25519 + BLAKE2s + AES-256-GCM
	SchemeCurve25519 Scheme = iota
	// SchemeGMSM is SM2 + SM3 + SM4-GCM
	SchemeGMSM
)

func (s Scheme) String() string {
	switch s {
	case SchemeCurve25519:
		return "curve25519"
	case SchemeGMSM:
		return "gmsm"
	}
	return fmt.Sprintf("scheme(%d)", uint8(s))
}

// ParseScheme maps a configuration string to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "curve25519", "curve", "x25519":
		return SchemeCurve25519, nil
	case "gmsm", "sm2":
		return SchemeGMSM, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// CipherSuite bundles the primitives one packet uses. Implementations hold
// no state and are safe for concurrent use. The set is closed: only
// Curve25519 and GMSM exist.
type CipherSuite interface {
	Scheme() Scheme

	// PublicKeySize is the canonical on-wire public key size.
	PublicKeySize() int
	PrivateKeySize() int
	// KeySize is the AEAD key size.
	KeySize() int

	GenerateKeyPair(rand io.Reader) (*KeyPair, error)
	// PublicKey derives the public key of a private key.
	PublicKey(priv []byte) ([]byte, error)
	// DH returns the first 32 bytes of the shared secret.
	DH(priv, pub []byte) ([]byte, error)

	NewHash() hash.Hash
	Hash(data ...[]byte) []byte
	HMAC(key []byte, data ...[]byte) []byte

	// Seal and Open use the nonce 0x00000000 || BE64(counter).
	Seal(key []byte, counter uint64, plaintext, ad []byte) ([]byte, error)
	Open(key []byte, counter uint64, ciphertext, ad []byte) ([]byte, error)

	closed()
}

// NewSuite returns the suite for scheme.
func NewSuite(scheme Scheme) (CipherSuite, error) {
	switch scheme {
	case SchemeCurve25519:
		return Curve25519, nil
	case SchemeGMSM:
		return GMSM, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownScheme, scheme)
}

// KeyPair is a static or ephemeral key pair of a suite.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// NewKeyPair builds a key pair from a private key, deriving the public half.
func NewKeyPair(suite CipherSuite, priv []byte) (*KeyPair, error) {
	pub, err := suite.PublicKey(priv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Private: append([]byte(nil), priv...),
		Public:  pub,
	}, nil
}

// Wipe zeroes the private key.
func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	zeroKeys(k.Private)
}

func checkSize(what string, b []byte, size int) error {
	if len(b) != size {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrInvalidKeySize, what, len(b), size)
	}
	return nil
}
