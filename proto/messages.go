// Package proto defines the CBOR bodies carried inside knock protocol
// packets.
package proto

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/malcolmseyd/nhp-go/crypto"
)

// Error codes carried in AckResponse.ErrCode.
const (
	CodeOK             = 0
	CodeUnknownAgent   = 1
	CodeUnknownService = 2
	CodeDenied         = 3
	CodeBadRequest     = 4
	CodeInternal       = 5
)

// ErrBadBody occurs when a payload is not a valid message body
var ErrBadBody = errors.New("nhp/proto: bad message body")

// KnockRequest asks the server to open a resource for the sending agent.
type KnockRequest struct {
	UserID         string `cbor:"1,keyasint,omitempty"`
	DeviceID       string `cbor:"2,keyasint,omitempty"`
	OrganizationID string `cbor:"3,keyasint,omitempty"`
	AuthServiceID  string `cbor:"4,keyasint"`
	ResourceID     string `cbor:"5,keyasint"`
}

// AckResponse is the server's decision on a knock.
type AckResponse struct {
	ErrCode int    `cbor:"1,keyasint"`
	ErrMsg  string `cbor:"2,keyasint,omitempty"`
	// ResourceHosts maps host names of the resource to their addresses
	ResourceHosts map[string]string `cbor:"3,keyasint,omitempty"`
	// OpenTime is how long, in seconds, the resource stays open
	OpenTime uint32 `cbor:"4,keyasint,omitempty"`
	// AgentAddr is the agent's address as seen by the server
	AgentAddr string `cbor:"5,keyasint,omitempty"`
	// ResourceID and KnockCounter echo the knock this ack answers
	ResourceID   string `cbor:"6,keyasint,omitempty"`
	KnockCounter uint64 `cbor:"7,keyasint"`
}

// Answers reports whether the ack was sent in reply to the knock numbered
// counter asking for resourceID.
func (a *AckResponse) Answers(counter uint64, resourceID string) bool {
	return a.KnockCounter == counter && a.ResourceID == resourceID
}

// OK reports whether the knock was granted
func (a *AckResponse) OK() bool {
	return a.ErrCode == CodeOK
}

// Err returns nil for a granted knock, otherwise an error describing the
// refusal
func (a *AckResponse) Err() error {
	if a.OK() {
		return nil
	}
	return &RefusedError{Code: a.ErrCode, Msg: a.ErrMsg}
}

// RefusedError is a knock the server answered with a non-zero code.
type RefusedError struct {
	Code int
	Msg  string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("nhp/proto: knock refused (%d): %s", e.Code, e.Msg)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 256,
		MaxMapPairs:      256,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes a message body. Bodies too large for a packet are
// rejected here rather than by the packet builder.
func Marshal(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > crypto.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", crypto.ErrPayloadTooLarge, len(b))
	}
	return b, nil
}

// Unmarshal decodes a message body into v. Trailing bytes are an error.
func Unmarshal(b []byte, v interface{}) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return nil
}

// ReplyType returns the packet type a server answers t with, and false when
// t expects no reply.
func ReplyType(t crypto.PacketType) (crypto.PacketType, bool) {
	switch t {
	case crypto.PacketKnock, crypto.PacketReknock:
		return crypto.PacketAck, true
	case crypto.PacketAccessOpen:
		return crypto.PacketAccessResult, true
	case crypto.PacketList:
		return crypto.PacketListResult, true
	case crypto.PacketRegister:
		return crypto.PacketRegisterAck, true
	}
	return 0, false
}
