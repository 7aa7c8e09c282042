package crypto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderOffsets(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(24, offEphemeral)
	assert.Equal(88, offStatic)
	assert.Equal(168, offTimestamp)
	assert.Equal(192, offReserved2)
	assert.Equal(208, offHMAC)
	assert.Equal(HeaderSize, offHMAC+HMACFieldSize)
}

func TestHeaderEncode(t *testing.T) {
	require := require.New(t)

	h := &Header{
		Preamble:     0x01020304,
		Type:         PacketKnock,
		PayloadSize:  8,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Flags:        FlagCompressed,
		Counter:      0x1122334455667788,
	}
	h.Ephemeral[0] = 0xaa
	h.Static[79] = 0xbb
	h.Timestamp[23] = 0xcc
	h.HMAC[31] = 0xdd

	b := h.Bytes()
	require.Len(b, HeaderSize)
	require.Equal([]byte{0x01, 0x02, 0x03, 0x04}, b[0:4])
	// 0x01020304 ^ 0x00010008
	require.Equal([]byte{0x01, 0x03, 0x03, 0x0c}, b[4:8])
	require.Equal([]byte{1, 0}, b[8:10])
	require.Equal([]byte{0, 2}, b[10:12])
	require.Equal(make([]byte, 4), b[12:16])
	require.Equal(uint64(0x1122334455667788), binary.BigEndian.Uint64(b[16:24]))
	require.Equal(byte(0xaa), b[24])
	require.Equal(byte(0xbb), b[167])
	require.Equal(byte(0xcc), b[191])
	require.Equal(make([]byte, 16), b[192:208])
	require.Equal(byte(0xdd), b[239])

	decoded, err := DecodeHeader(b)
	require.NoError(err)
	require.Equal(h, decoded)
}

func TestHeaderPreambleHidesTypeAndSize(t *testing.T) {
	a := &Header{Preamble: 1, Type: PacketKnock, PayloadSize: 8, VersionMajor: VersionMajor}
	b := &Header{Preamble: 2, Type: PacketKnock, PayloadSize: 8, VersionMajor: VersionMajor}
	require.NotEqual(t, a.Bytes()[4:8], b.Bytes()[4:8])
}

func TestDecodeHeaderRejects(t *testing.T) {
	valid := (&Header{Type: PacketAck, VersionMajor: VersionMajor}).Bytes()

	testCases := []struct {
		desc   string
		mutate func([]byte) []byte
	}{
		{desc: "short", mutate: func(b []byte) []byte { return b[:HeaderSize-1] }},
		{desc: "major version", mutate: func(b []byte) []byte { b[offVersion] = 2; return b }},
		{desc: "first reserved", mutate: func(b []byte) []byte { b[offReserved1+3] = 1; return b }},
		{desc: "second reserved", mutate: func(b []byte) []byte { b[offReserved2] = 1; return b }},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			b := tC.mutate(append([]byte(nil), valid...))
			_, err := DecodeHeader(b)
			require.ErrorIs(t, err, ErrMalformedPacket)
		})
	}

	// a newer minor version is still accepted
	b := append([]byte(nil), valid...)
	b[offVersion+1] = 7
	h, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, uint8(7), h.VersionMinor)
}
