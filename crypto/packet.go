package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Builder seals messages into packets. It is safe for concurrent use; the
// only state shared between calls is the Counter and the last timestamp.
type Builder struct {
	suite   CipherSuite
	counter *Counter
	rand    io.Reader
	now     func() time.Time

	lastTimestamp atomic.Int64
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithRand replaces crypto/rand as the source of ephemeral keys and preambles
func WithRand(r io.Reader) BuilderOption {
	return func(b *Builder) { b.rand = r }
}

// WithClock replaces time.Now for packet timestamps
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder drawing counters from counter.
func NewBuilder(suite CipherSuite, counter *Counter, opts ...BuilderOption) *Builder {
	b := &Builder{
		suite:   suite,
		counter: counter,
		rand:    rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates a packet carrying msg from local to the owner of remotePub.
//
// The static public key of local, a timestamp and the payload are sealed
// under three keys ratcheted from an ephemeral-static and a static-static
// exchange. The returned slice is HeaderSize + payload + TagSize bytes.
func (b *Builder) Build(msg *Message, local *KeyPair, remotePub []byte) ([]byte, error) {
	suite := b.suite
	if len(msg.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(msg.Payload), MaxPayloadSize)
	}
	if err := checkKeyPair(suite, local); err != nil {
		return nil, err
	}
	if err := checkSize("remote public key", remotePub, suite.PublicKeySize()); err != nil {
		return nil, err
	}

	payload := msg.Payload
	flags := msg.Flags & FlagExtended
	if msg.Compress {
		if c, ok := compress(payload); ok {
			payload = c
			flags |= FlagCompressed
		}
	}

	preamble, err := randUint32(b.rand)
	if err != nil {
		return nil, err
	}
	ephem, err := suite.GenerateKeyPair(b.rand)
	if err != nil {
		return nil, err
	}
	defer ephem.Wipe()

	// the nonce of every seal below depends on this, so it is fixed first
	counter := b.counter.Next()

	hdr := &Header{
		Preamble:     preamble,
		Type:         msg.Type,
		PayloadSize:  uint16(len(payload)),
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Flags:        flags,
		Counter:      counter,
	}

	packet := make([]byte, HeaderSize+len(payload)+TagSize)
	hdr.encodePrefix(packet)

	sym := NewSymmetricState(suite)
	defer sym.Wipe()
	sym.MixHash(remotePub)
	sym.MixHash(transcriptPrefix(packet))

	copy(hdr.Ephemeral[:], ephem.Public)
	sym.MixHash(ephem.Public)
	zeroKeys(sym.MixKey(ephem.Public))

	// seal staticPub
	secret, err := suite.DH(ephem.Private, remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: remote public key: %v", ErrInvalidKeySize, err)
	}
	key := sym.MixKey(secret)
	zeroKeys(secret)
	sealed, err := sym.EncryptAndHash(key, counter, local.Public)
	zeroKeys(key)
	if err != nil {
		return nil, err
	}
	copy(hdr.Static[:], sealed)

	// seal timestamp
	secret, err = suite.DH(local.Private, remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: remote public key: %v", ErrInvalidKeySize, err)
	}
	key = sym.MixKey(secret)
	zeroKeys(secret)
	var timestamp [timestampSize]byte
	binary.BigEndian.PutUint64(timestamp[:], uint64(b.timestamp()))
	sealed, err = sym.EncryptAndHash(key, counter, timestamp[:])
	zeroKeys(key)
	if err != nil {
		return nil, err
	}
	copy(hdr.Timestamp[:], sealed)

	// seal payload, keyed by everything sent so far
	key = sym.MixKey(sealed)
	body, err := suite.Seal(key, counter, payload, sym.Hash())
	zeroKeys(key)
	if err != nil {
		return nil, err
	}

	hdr.Encode(packet)
	mac := suite.HMAC(headerMACKey(suite, hdr.Ephemeral[:]), macInput(packet))
	copy(hdr.HMAC[:], mac)
	copy(packet[offHMAC:HeaderSize], mac)
	copy(packet[HeaderSize:], body)
	return packet, nil
}

// timestamp returns the current time in nanoseconds, bumped past the last
// value this builder used
func (b *Builder) timestamp() int64 {
	for {
		last := b.lastTimestamp.Load()
		ts := b.now().UnixNano()
		if ts <= last {
			ts = last + 1
		}
		if b.lastTimestamp.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// Parser opens packets built by a Builder of the same suite.
type Parser struct {
	suite CipherSuite
}

// NewParser creates a Parser
func NewParser(suite CipherSuite) *Parser {
	return &Parser{suite: suite}
}

// Parse opens packet with the receiver's key pair. If expectedRemote is not
// nil the sender's static key must equal it. Framing errors and header MAC
// mismatches return ErrMalformedPacket; any AEAD failure returns
// ErrAuthentication and nothing of the packet is returned.
//
// The timestamp is only decrypted; freshness is the caller's policy.
func (p *Parser) Parse(packet []byte, local *KeyPair, expectedRemote []byte) (*Message, error) {
	suite := p.suite
	if err := checkKeyPair(suite, local); err != nil {
		return nil, err
	}
	if expectedRemote != nil {
		if err := checkSize("expected remote key", expectedRemote, suite.PublicKeySize()); err != nil {
			return nil, err
		}
	}
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedPacket, len(packet), MaxPacketSize)
	}

	hdr, err := DecodeHeader(packet)
	if err != nil {
		return nil, err
	}
	if len(packet) != HeaderSize+int(hdr.PayloadSize)+TagSize {
		return nil, fmt.Errorf("%w: length %d does not match payload size %d", ErrMalformedPacket, len(packet), hdr.PayloadSize)
	}
	mac := suite.HMAC(headerMACKey(suite, hdr.Ephemeral[:]), macInput(packet))
	if !hmac.Equal(mac, hdr.HMAC[:]) {
		return nil, fmt.Errorf("%w: header mac mismatch", ErrMalformedPacket)
	}
	pubSize := suite.PublicKeySize()
	staticSize := pubSize + TagSize
	if !isZero(hdr.Ephemeral[pubSize:]) || !isZero(hdr.Static[staticSize:]) {
		return nil, fmt.Errorf("%w: key padding set", ErrMalformedPacket)
	}
	counter := hdr.Counter

	sym := NewSymmetricState(suite)
	defer sym.Wipe()
	sym.MixHash(local.Public)
	sym.MixHash(transcriptPrefix(packet))

	ephemPub := hdr.Ephemeral[:pubSize]
	sym.MixHash(ephemPub)
	zeroKeys(sym.MixKey(ephemPub))

	// open staticPub
	secret, err := suite.DH(local.Private, ephemPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key", ErrAuthentication)
	}
	key := sym.MixKey(secret)
	zeroKeys(secret)
	sender, err := sym.DecryptAndHash(key, counter, hdr.Static[:staticSize])
	zeroKeys(key)
	if err != nil {
		return nil, fmt.Errorf("%w: static key", ErrAuthentication)
	}
	if expectedRemote != nil && subtle.ConstantTimeCompare(sender, expectedRemote) != 1 {
		return nil, fmt.Errorf("%w: unexpected sender", ErrAuthentication)
	}

	// open timestamp
	secret, err = suite.DH(local.Private, sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender key", ErrAuthentication)
	}
	key = sym.MixKey(secret)
	zeroKeys(secret)
	timestamp, err := sym.DecryptAndHash(key, counter, hdr.Timestamp[:])
	zeroKeys(key)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp", ErrAuthentication)
	}

	// open payload
	key = sym.MixKey(hdr.Timestamp[:])
	payload, err := suite.Open(key, counter, packet[HeaderSize:], sym.Hash())
	zeroKeys(key)
	if err != nil {
		return nil, fmt.Errorf("%w: payload", ErrAuthentication)
	}
	if hdr.Flags&FlagCompressed != 0 {
		payload, err = decompress(payload)
		if err != nil {
			return nil, err
		}
	}

	return &Message{
		Type:      hdr.Type,
		Flags:     hdr.Flags,
		Compress:  hdr.Flags&FlagCompressed != 0,
		Payload:   payload,
		Counter:   counter,
		SenderKey: sender,
		Timestamp: int64(binary.BigEndian.Uint64(timestamp)),
	}, nil
}

// headerMACKey only depends on public values so a receiver can reject a
// corrupted header before doing any DH
func headerMACKey(suite CipherSuite, ephemeral []byte) []byte {
	return suite.Hash(suite.Hash([]byte(InitialHashString)), ephemeral)
}

func checkKeyPair(suite CipherSuite, k *KeyPair) error {
	if k == nil {
		return fmt.Errorf("%w: missing key pair", ErrInvalidKeySize)
	}
	if err := checkSize("private key", k.Private, suite.PrivateKeySize()); err != nil {
		return err
	}
	return checkSize("public key", k.Public, suite.PublicKeySize())
}
