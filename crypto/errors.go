package crypto

import "errors"

var (
	// ErrInvalidKeySize occurs when a key does not match the suite's size
	ErrInvalidKeySize = errors.New("nhp/crypto: invalid key size")
	// ErrMalformedPacket represents length, version, framing and header MAC errors
	ErrMalformedPacket = errors.New("nhp/crypto: malformed packet")
	// ErrAuthentication represents all AEAD failures on a well formed packet
	ErrAuthentication = errors.New("nhp/crypto: authentication failure")
	// ErrPayloadTooLarge occurs when a payload does not fit in a packet
	ErrPayloadTooLarge = errors.New("nhp/crypto: payload too large")
	// ErrUnknownScheme occurs when a cipher suite name is not recognised
	ErrUnknownScheme = errors.New("nhp/crypto: unknown cipher scheme")
)

// ErrorKind returns a short label for err that is safe to log or use as a
// metric label. It never contains key material.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidKeySize):
		return "invalid_key_size"
	case errors.Is(err, ErrMalformedPacket):
		return "malformed"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	default:
		return "internal"
	}
}
