package crypto

import (
	"crypto/hmac"
	"hash"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// Curve25519 is the X25519/BLAKE2s/AES-256-GCM suite.
var Curve25519 CipherSuite = curveSuite{}

type curveSuite struct{}

func (curveSuite) closed() {}

func (curveSuite) Scheme() Scheme { return SchemeCurve25519 }

func (curveSuite) PublicKeySize() int  { return curve25519.PointSize }
func (curveSuite) PrivateKeySize() int { return curve25519.ScalarSize }
func (curveSuite) KeySize() int        { return 32 }

func (curveSuite) GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	k, err := noise.DH25519.GenerateKeypair(rand)
	if err != nil {
		return nil, err
	}
	clamp(k.Private)
	return &KeyPair{Private: k.Private, Public: k.Public}, nil
}

func (s curveSuite) PublicKey(priv []byte) ([]byte, error) {
	if err := checkSize("private key", priv, s.PrivateKeySize()); err != nil {
		return nil, err
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}

func (s curveSuite) DH(priv, pub []byte) ([]byte, error) {
	if err := checkSize("private key", priv, s.PrivateKeySize()); err != nil {
		return nil, err
	}
	if err := checkSize("public key", pub, s.PublicKeySize()); err != nil {
		return nil, err
	}
	// fails on low order points
	return noise.DH25519.DH(priv, pub)
}

func (curveSuite) NewHash() hash.Hash { return noise.HashBLAKE2s.Hash() }

func (s curveSuite) Hash(data ...[]byte) []byte {
	h := s.NewHash()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func (curveSuite) HMAC(key []byte, data ...[]byte) []byte {
	m := hmac.New(noise.HashBLAKE2s.Hash, key)
	for _, d := range data {
		m.Write(d)
	}
	return m.Sum(nil)
}

// noise's AES-GCM encodes the nonce as 4 zero bytes and a big endian counter
func (s curveSuite) cipher(key []byte) (noise.Cipher, error) {
	if err := checkSize("aead key", key, s.KeySize()); err != nil {
		return nil, err
	}
	var k [32]byte
	copy(k[:], key)
	c := noise.CipherAESGCM.Cipher(k)
	zeroKeys(k[:])
	return c, nil
}

func (s curveSuite) Seal(key []byte, counter uint64, plaintext, ad []byte) ([]byte, error) {
	c, err := s.cipher(key)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(nil, counter, ad, plaintext), nil
}

func (s curveSuite) Open(key []byte, counter uint64, ciphertext, ad []byte) ([]byte, error) {
	c, err := s.cipher(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.Decrypt(nil, counter, ad, ciphertext)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// thank you to wireguard-go for this
// read here: https://web.archive.org/web/20200824034945/https://neilmadden.blog/2020/05/28/whats-the-curve25519-clamping-all-about/
func clamp(k []byte) {
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
}
