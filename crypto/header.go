package crypto

import (
	"encoding/binary"
	"fmt"
)

// Header layout. Every integer is big endian.
//
//	 0  preamble            4   random per packet
//	 4  type|size ^ pre     4   type<<16 | payloadSize, XOR preamble
//	 8  version            2   major, minor
//	10  flags              2
//	12  reserved           4
//	16  counter            8   low 8 bytes of every AEAD nonce
//	24  ephemeral         64   public key, zero padded
//	88  static            80   sealed static public key, zero padded
//	168 timestamp         24   sealed big endian unix nanoseconds
//	192 reserved          16
//	208 hmac              32
const (
	offPreamble    = 0
	offTypeAndSize = 4
	offVersion     = 8
	offFlags       = 10
	offReserved1   = 12
	offCounter     = 16
	offEphemeral   = 24
	offStatic      = offEphemeral + EphemeralFieldSize
	offTimestamp   = offStatic + StaticFieldSize
	offReserved2   = offTimestamp + TimestampFieldSize
	offHMAC        = offReserved2 + 16

	// EphemeralFieldSize fits the widest public key of both suites
	EphemeralFieldSize = 64
	// StaticFieldSize fits the widest sealed public key of both suites
	StaticFieldSize = EphemeralFieldSize + TagSize
	// TimestampFieldSize is a sealed 8 byte timestamp
	TimestampFieldSize = timestampSize + TagSize
	// HMACFieldSize is the header tag size
	HMACFieldSize = hashSize
)

// Header is the decoded form of the fixed 240 byte packet header.
type Header struct {
	Preamble     uint32
	Type         PacketType
	PayloadSize  uint16
	VersionMajor uint8
	VersionMinor uint8
	Flags        uint16
	Counter      uint64

	Ephemeral [EphemeralFieldSize]byte
	Static    [StaticFieldSize]byte
	Timestamp [TimestampFieldSize]byte
	HMAC      [HMACFieldSize]byte
}

// typeAndSize packs the logical type and payload size the way they are
// masked on the wire
func (h *Header) typeAndSize() uint32 {
	return uint32(h.Type)<<16 | uint32(h.PayloadSize)
}

// Encode writes the header into dst, which must hold HeaderSize bytes.
// Reserved bytes are zeroed.
func (h *Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	h.encodePrefix(dst)
	copy(dst[offEphemeral:offStatic], h.Ephemeral[:])
	copy(dst[offStatic:offTimestamp], h.Static[:])
	copy(dst[offTimestamp:offReserved2], h.Timestamp[:])
	zeroKeys(dst[offReserved2:offHMAC])
	copy(dst[offHMAC:HeaderSize], h.HMAC[:])
}

// encodePrefix writes everything in front of the ephemeral key. These bytes
// are mixed into the transcript, so type, flags and counter are covered by
// every AEAD tag of the packet.
func (h *Header) encodePrefix(dst []byte) {
	binary.BigEndian.PutUint32(dst[offPreamble:], h.Preamble)
	binary.BigEndian.PutUint32(dst[offTypeAndSize:], h.Preamble^h.typeAndSize())
	dst[offVersion] = h.VersionMajor
	dst[offVersion+1] = h.VersionMinor
	binary.BigEndian.PutUint16(dst[offFlags:], h.Flags)
	zeroKeys(dst[offReserved1:offCounter])
	binary.BigEndian.PutUint64(dst[offCounter:], h.Counter)
}

// Bytes returns the encoded header
func (h *Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	h.Encode(b)
	return b
}

// DecodeHeader parses the first HeaderSize bytes of b. It checks framing
// only; the header MAC is verified by the Parser.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedPacket, len(b))
	}
	h := &Header{
		Preamble:     binary.BigEndian.Uint32(b[offPreamble:]),
		VersionMajor: b[offVersion],
		VersionMinor: b[offVersion+1],
		Flags:        binary.BigEndian.Uint16(b[offFlags:]),
		Counter:      binary.BigEndian.Uint64(b[offCounter:]),
	}
	if h.VersionMajor != VersionMajor {
		return nil, fmt.Errorf("%w: version %d.%d", ErrMalformedPacket, h.VersionMajor, h.VersionMinor)
	}
	if !isZero(b[offReserved1:offCounter]) || !isZero(b[offReserved2:offHMAC]) {
		return nil, fmt.Errorf("%w: reserved bytes set", ErrMalformedPacket)
	}
	ts := binary.BigEndian.Uint32(b[offTypeAndSize:]) ^ h.Preamble
	h.Type = PacketType(ts >> 16)
	h.PayloadSize = uint16(ts)

	copy(h.Ephemeral[:], b[offEphemeral:offStatic])
	copy(h.Static[:], b[offStatic:offTimestamp])
	copy(h.Timestamp[:], b[offTimestamp:offReserved2])
	copy(h.HMAC[:], b[offHMAC:HeaderSize])
	return h, nil
}

// transcriptPrefix returns the header bytes mixed into the transcript
func transcriptPrefix(encoded []byte) []byte {
	return encoded[:offEphemeral]
}

// macInput is the part of an encoded header covered by the header MAC
func macInput(encoded []byte) []byte {
	return encoded[:offHMAC]
}
