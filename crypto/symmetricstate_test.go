package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymmetricStateDeterministic(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			a := NewSymmetricState(suite)
			b := NewSymmetricState(suite)
			require.Equal(a.Hash(), b.Hash())
			require.Equal(a.ChainingKey(), b.ChainingKey())

			a.MixHash([]byte("remote"))
			b.MixHash([]byte("remote"))
			require.Equal(a.Hash(), b.Hash())
			require.Equal(a.MixKey([]byte("ikm")), b.MixKey([]byte("ikm")))
			require.Equal(a.ChainingKey(), b.ChainingKey())
		})
	}
}

func TestSymmetricStateInit(t *testing.T) {
	require := require.New(t)
	s := NewSymmetricState(Curve25519)
	h := Curve25519.Hash([]byte(InitialHashString))
	require.Equal(h, s.Hash())
	// the seed MixKey moved the chaining key past Hash(h)
	require.NotEqual(Curve25519.Hash(h), s.ChainingKey())
}

func TestMixKeyAdvances(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			s := NewSymmetricState(suite)

			ck0 := s.ChainingKey()
			k1 := s.MixKey([]byte("secret"))
			ck1 := s.ChainingKey()
			require.Len(k1, suite.KeySize())
			require.NotEqual(ck0, ck1)
			require.NotEqual(ck0[:suite.KeySize()], k1)

			k2 := s.MixKey([]byte("secret"))
			require.NotEqual(k1, k2)
			require.NotEqual(ck1, s.ChainingKey())
		})
	}
}

func TestEncryptAndHash(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			sender := NewSymmetricState(suite)
			receiver := NewSymmetricState(suite)

			key := sender.MixKey([]byte("dh"))
			require.Equal(key, receiver.MixKey([]byte("dh")))

			ct, err := sender.EncryptAndHash(key, 5, []byte("static key"))
			require.NoError(err)
			pt, err := receiver.DecryptAndHash(key, 5, ct)
			require.NoError(err)
			require.Equal([]byte("static key"), pt)
			require.Equal(sender.Hash(), receiver.Hash())

			// the transcript is the associated data, so replaying the same
			// ciphertext into the advanced state fails
			_, err = receiver.DecryptAndHash(key, 5, ct)
			require.ErrorIs(err, ErrAuthentication)
		})
	}
}

func TestSymmetricStateWipe(t *testing.T) {
	s := NewSymmetricState(GMSM)
	s.Wipe()
	require.Equal(t, make([]byte, hashSize), s.Hash())
	require.Equal(t, make([]byte, hashSize), s.ChainingKey())
}
