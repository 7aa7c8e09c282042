package crypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"hash"
	"io"

	"github.com/emmansun/gmsm/ecdh"
	"github.com/emmansun/gmsm/sm3"
	"github.com/emmansun/gmsm/sm4"
)

// GMSM is the SM2/SM3/SM4-GCM suite.
var GMSM CipherSuite = gmsmSuite{}

type gmsmSuite struct{}

// SM2 public keys travel as X || Y, without the 0x04 point prefix
const sm2PointSize = 64

func (gmsmSuite) closed() {}

func (gmsmSuite) Scheme() Scheme { return SchemeGMSM }

func (gmsmSuite) PublicKeySize() int  { return sm2PointSize }
func (gmsmSuite) PrivateKeySize() int { return 32 }
func (gmsmSuite) KeySize() int        { return 16 }

func (gmsmSuite) GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Private: priv.Bytes(),
		Public:  priv.PublicKey().Bytes()[1:],
	}, nil
}

func (s gmsmSuite) privateKey(priv []byte) (*ecdh.PrivateKey, error) {
	if err := checkSize("private key", priv, s.PrivateKeySize()); err != nil {
		return nil, err
	}
	k, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return k, nil
}

func (s gmsmSuite) PublicKey(priv []byte) ([]byte, error) {
	k, err := s.privateKey(priv)
	if err != nil {
		return nil, err
	}
	return k.PublicKey().Bytes()[1:], nil
}

func (s gmsmSuite) DH(priv, pub []byte) ([]byte, error) {
	k, err := s.privateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := checkSize("public key", pub, s.PublicKeySize()); err != nil {
		return nil, err
	}
	point := make([]byte, 1+sm2PointSize)
	point[0] = 4
	copy(point[1:], pub)
	remote, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, err
	}
	secret, err := k.ECDH(remote)
	if err != nil {
		return nil, err
	}
	// both sides keep the x coordinate only
	return secret[:32], nil
}

func (gmsmSuite) NewHash() hash.Hash { return sm3.New() }

func (s gmsmSuite) Hash(data ...[]byte) []byte {
	h := sm3.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func (gmsmSuite) HMAC(key []byte, data ...[]byte) []byte {
	m := hmac.New(sm3.New, key)
	for _, d := range data {
		m.Write(d)
	}
	return m.Sum(nil)
}

func (s gmsmSuite) aead(key []byte) (cipher.AEAD, error) {
	if err := checkSize("aead key", key, s.KeySize()); err != nil {
		return nil, err
	}
	block, err := sm4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s gmsmSuite) Seal(key []byte, counter uint64, plaintext, ad []byte) ([]byte, error) {
	aead, err := s.aead(key)
	if err != nil {
		return nil, err
	}
	nonce := counterNonce(counter)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func (s gmsmSuite) Open(key []byte, counter uint64, ciphertext, ad []byte) ([]byte, error) {
	aead, err := s.aead(key)
	if err != nil {
		return nil, err
	}
	nonce := counterNonce(counter)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// counterNonce matches the nonce flynn/noise builds for AES-GCM
func counterNonce(counter uint64) (nonce [nonceSize]byte) {
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return
}
