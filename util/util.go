// Package util holds helpers shared by both command line tools.
package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/malcolmseyd/nhp-go/crypto"
)

// Eprintln prints to stderr
func Eprintln(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
}

// Eprintf prints to stderr
func Eprintf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
}

// Fatalln prints to stderr and exits
func Fatalln(a ...interface{}) {
	Eprintln(a...)
	os.Exit(1)
}

// Fatalf prints to stderr and exits
func Fatalf(format string, a ...interface{}) {
	Eprintf(format, a...)
	os.Exit(1)
}

// EncodeKey encodes a key the way configuration files carry it
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey decodes a base64 key and checks it is size bytes long
func DecodeKey(s string, size int) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// the key may be a private one, so only its length is reported
		return nil, fmt.Errorf("key of %d characters is not base64: %v", len(s), err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", crypto.ErrInvalidKeySize, len(key), size)
	}
	return key, nil
}

// DecodePublicKey decodes a public key of suite
func DecodePublicKey(suite crypto.CipherSuite, s string) ([]byte, error) {
	return DecodeKey(s, suite.PublicKeySize())
}

// DecodeKeyPair decodes a private key of suite and derives its public key
func DecodeKeyPair(suite crypto.CipherSuite, s string) (*crypto.KeyPair, error) {
	priv, err := DecodeKey(s, suite.PrivateKeySize())
	if err != nil {
		return nil, err
	}
	return crypto.NewKeyPair(suite, priv)
}

// PrintKeyPair writes a fresh key pair of suite to stdout
func PrintKeyPair(suite crypto.CipherSuite) error {
	kp, err := suite.GenerateKeyPair(rand.Reader)
	if err != nil {
		return err
	}
	fmt.Printf("Scheme:     %v\nPrivateKey: %s\nPublicKey:  %s\n", suite.Scheme(), EncodeKey(kp.Private), EncodeKey(kp.Public))
	return nil
}
