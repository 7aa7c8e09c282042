package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheme(t *testing.T) {
	testCases := []struct {
		name string
		want Scheme
		err  bool
	}{
		{name: "", want: SchemeCurve25519},
		{name: "curve25519", want: SchemeCurve25519},
		{name: " X25519 ", want: SchemeCurve25519},
		{name: "gmsm", want: SchemeGMSM},
		{name: "SM2", want: SchemeGMSM},
		{name: "rsa", err: true},
	}
	for _, tC := range testCases {
		t.Run(tC.name, func(t *testing.T) {
			got, err := ParseScheme(tC.name)
			if tC.err {
				require.ErrorIs(t, err, ErrUnknownScheme)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tC.want, got)

			suite, err := NewSuite(got)
			require.NoError(t, err)
			require.Equal(t, got, suite.Scheme())
		})
	}

	_, err := NewSuite(Scheme(9))
	require.ErrorIs(t, err, ErrUnknownScheme)
}

func TestSuiteSizes(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(32, Curve25519.PublicKeySize())
	assert.Equal(32, Curve25519.KeySize())
	assert.Equal(64, GMSM.PublicKeySize())
	assert.Equal(16, GMSM.KeySize())
	for _, suite := range testSuites {
		assert.Len(suite.Hash([]byte("x")), hashSize)
		assert.Len(suite.HMAC([]byte("k"), []byte("x")), hashSize)
		assert.LessOrEqual(suite.PublicKeySize(), EphemeralFieldSize)
	}
}

func TestDHAgreement(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			a, err := suite.GenerateKeyPair(rand.Reader)
			require.NoError(err)
			b, err := suite.GenerateKeyPair(rand.Reader)
			require.NoError(err)
			require.Len(a.Public, suite.PublicKeySize())
			require.Len(a.Private, suite.PrivateKeySize())

			pub, err := suite.PublicKey(a.Private)
			require.NoError(err)
			require.Equal(a.Public, pub)

			ab, err := suite.DH(a.Private, b.Public)
			require.NoError(err)
			ba, err := suite.DH(b.Private, a.Public)
			require.NoError(err)
			require.Len(ab, 32)
			require.Equal(ab, ba)

			_, err = suite.DH(a.Private, b.Public[1:])
			require.ErrorIs(err, ErrInvalidKeySize)
			_, err = suite.DH(a.Private[1:], b.Public)
			require.ErrorIs(err, ErrInvalidKeySize)

			kp, err := NewKeyPair(suite, a.Private)
			require.NoError(err)
			require.Equal(a.Public, kp.Public)
			kp.Wipe()
			require.Equal(make([]byte, suite.PrivateKeySize()), kp.Private)
			require.NotEqual(kp.Private, a.Private)
		})
	}
}

func TestSealOpen(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			key := make([]byte, suite.KeySize())
			_, err := rand.Read(key)
			require.NoError(err)

			ct, err := suite.Seal(key, 7, []byte("plaintext"), []byte("ad"))
			require.NoError(err)
			require.Len(ct, len("plaintext")+TagSize)

			pt, err := suite.Open(key, 7, ct, []byte("ad"))
			require.NoError(err)
			require.Equal([]byte("plaintext"), pt)

			_, err = suite.Open(key, 7, ct, []byte("other ad"))
			require.ErrorIs(err, ErrAuthentication)
			_, err = suite.Open(key, 8, ct, []byte("ad"))
			require.ErrorIs(err, ErrAuthentication)

			_, err = suite.Seal(key[1:], 7, nil, nil)
			require.ErrorIs(err, ErrInvalidKeySize)
		})
	}
}

// the curve suite must produce plain AES-256-GCM with a big endian counter
// in the last 8 nonce bytes
func TestCurveNonceLayout(t *testing.T) {
	require := require.New(t)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	block, err := aes.NewCipher(key)
	require.NoError(err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(err)

	nonce := counterNonce(0x0102030405060708)
	require.Equal([]byte{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}, nonce[:])
	want := gcm.Seal(nil, nonce[:], []byte("knock"), []byte("h"))

	got, err := Curve25519.Seal(key, 0x0102030405060708, []byte("knock"), []byte("h"))
	require.NoError(err)
	require.Equal(want, got)
}
