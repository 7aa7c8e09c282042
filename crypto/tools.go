package crypto

import (
	"encoding/binary"
	"io"
)

// zeroKeys fills all slices passed in with zeros.
func zeroKeys(keys ...[]byte) {
	for _, key := range keys {
		for i := range key {
			key[i] = 0
		}
	}
}

func randBytes(rand io.Reader, n int) ([]byte, error) {
	out := make([]byte, n)
	_, err := io.ReadFull(rand, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func randUint32(rand io.Reader) (uint32, error) {
	b, err := randBytes(rand, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
