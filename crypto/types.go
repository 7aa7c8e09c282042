package crypto

import "strconv"

// PacketType identifies the purpose of a packet. It travels obfuscated in
// the header together with the payload size.
type PacketType uint16

const (
	// PacketKeepAlive carries no payload and keeps a knock alive
	PacketKeepAlive PacketType = iota
	// PacketKnock is sent by an agent to request access to a resource
	PacketKnock
	// PacketAck is the server's answer to a knock
	PacketAck
	// PacketAccessOpen asks an access controller to open a resource
	PacketAccessOpen
	// PacketAccessResult is the access controller's answer
	PacketAccessResult
	// PacketList asks for the resources an agent may knock on
	PacketList
	// PacketListResult answers PacketList
	PacketListResult
	// PacketCookie is sent by an overloaded server instead of an ack
	PacketCookie
	// PacketReknock repeats a knock carrying a cookie
	PacketReknock
	// PacketExit tells the server an agent is leaving
	PacketExit
	// PacketRegister enrols a new agent key
	PacketRegister
	// PacketRegisterAck answers PacketRegister
	PacketRegisterAck
)

var packetTypeNames = [...]string{
	PacketKeepAlive:    "KPL",
	PacketKnock:        "KNK",
	PacketAck:          "ACK",
	PacketAccessOpen:   "AOP",
	PacketAccessResult: "ART",
	PacketList:         "LST",
	PacketListResult:   "LRT",
	PacketCookie:       "COK",
	PacketReknock:      "RKN",
	PacketExit:         "EXT",
	PacketRegister:     "REG",
	PacketRegisterAck:  "RAK",
}

func (t PacketType) String() string {
	if int(t) < len(packetTypeNames) {
		return packetTypeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

const (
	// HeaderSize is the fixed size of every packet header, for both suites
	HeaderSize = 240
	// MaxPacketSize bounds a whole packet so it fits a single datagram
	MaxPacketSize = 4096
	// TagSize is the AEAD tag size of both suites
	TagSize = 16
	// MaxPayloadSize is the largest payload a packet can carry
	MaxPayloadSize = MaxPacketSize - HeaderSize - TagSize

	// VersionMajor must match on both sides
	VersionMajor = 1
	// VersionMinor is informational
	VersionMinor = 0

	hashSize      = 32
	nonceSize     = 12
	timestampSize = 8

	// InitialHashString seeds the chain hash of every packet
	InitialHashString = "NHP hashgen v.20230421@deepcloudsdp.gov.cn"
	// InitialChainKeyString seeds the chain key of every packet
	InitialChainKeyString = "NHP keygen v.20230421@clouddeep.cn"
)

// Flags carried in the header.
const (
	// FlagExtended is reserved for extended headers and passed through as is
	FlagExtended uint16 = 1 << 0
	// FlagCompressed marks a zstd compressed payload
	FlagCompressed uint16 = 1 << 1
)

// Message is the plaintext content of a packet.
type Message struct {
	Type PacketType
	// Flags as found in the header. On Build only FlagExtended is honoured,
	// FlagCompressed is set by Build itself when Compress is requested.
	Flags    uint16
	Compress bool
	Payload  []byte

	// Set by Parse.
	Counter   uint64
	SenderKey []byte
	Timestamp int64
}
