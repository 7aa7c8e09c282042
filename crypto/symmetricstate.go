package crypto

import (
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricState is the chain key / chain hash pair a packet is built with.
// It lives for exactly one Build or Parse call.
type SymmetricState struct {
	suite       CipherSuite
	chainingKey [hashSize]byte
	hash        [hashSize]byte
}

// NewSymmetricState seeds a fresh state from the two well-known strings.
func NewSymmetricState(suite CipherSuite) *SymmetricState {
	s := &SymmetricState{suite: suite}
	copy(s.hash[:], suite.Hash([]byte(InitialHashString)))
	copy(s.chainingKey[:], suite.Hash(s.hash[:]))
	zeroKeys(s.MixKey([]byte(InitialChainKeyString)))
	return s
}

// MixHash folds input into the transcript hash
func (s *SymmetricState) MixHash(input []byte) {
	copy(s.hash[:], s.suite.Hash(s.hash[:], input))
}

// MixKey advances the chaining key with input and returns a fresh AEAD key.
// This is the Noise HKDF: prk = HMAC(ck, input), ck = HMAC(prk, 1),
// key = HMAC(prk, ck || 2).
func (s *SymmetricState) MixKey(input []byte) []byte {
	keyReader := hkdf.New(s.suite.NewHash, input, s.chainingKey[:], nil)
	out := make([]byte, hashSize+s.suite.KeySize())
	// hkdf only fails past 255 blocks
	io.ReadFull(keyReader, out)
	copy(s.chainingKey[:], out[:hashSize])
	key := append([]byte(nil), out[hashSize:]...)
	zeroKeys(out)
	return key
}

// Hash returns a copy of the transcript hash, used as associated data.
func (s *SymmetricState) Hash() []byte {
	return append([]byte(nil), s.hash[:]...)
}

// ChainingKey returns a copy of the chaining key. Only tests need it.
func (s *SymmetricState) ChainingKey() []byte {
	return append([]byte(nil), s.chainingKey[:]...)
}

// EncryptAndHash seals plaintext under key with the transcript hash as
// associated data, then mixes the ciphertext into the hash.
func (s *SymmetricState) EncryptAndHash(key []byte, counter uint64, plaintext []byte) ([]byte, error) {
	ciphertext, err := s.suite.Seal(key, counter, plaintext, s.hash[:])
	if err != nil {
		return nil, err
	}
	s.MixHash(ciphertext)
	return ciphertext, nil
}

// DecryptAndHash is the inverse of EncryptAndHash
func (s *SymmetricState) DecryptAndHash(key []byte, counter uint64, ciphertext []byte) ([]byte, error) {
	plaintext, err := s.suite.Open(key, counter, ciphertext, s.hash[:])
	if err != nil {
		return nil, err
	}
	s.MixHash(ciphertext)
	return plaintext, nil
}

// Wipe zeroes the state
func (s *SymmetricState) Wipe() {
	zeroKeys(s.chainingKey[:], s.hash[:])
}
