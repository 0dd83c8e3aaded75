package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Protocol constants
const (
	// Header size without the optional signature block
	HeaderSize = 19

	// Signature block size (Ed25519)
	SignatureSize = 64

	// Maximum hop budget for any packet
	MaxTTL = 7
)

// Packet types (stable wire values)
const (
	PacketTypeKeyExchange      uint8 = 0x01
	PacketTypeAnnounce         uint8 = 0x02
	PacketTypeLeave            uint8 = 0x03
	PacketTypeMessage          uint8 = 0x04
	PacketTypeFragmentStart    uint8 = 0x05
	PacketTypeFragmentContinue uint8 = 0x06
	PacketTypeFragmentEnd      uint8 = 0x07
	PacketTypeDeliveryAck      uint8 = 0x0A
	PacketTypeReadReceipt      uint8 = 0x0C
)

// Packet flags
const (
	FlagHasSignature uint8 = 0x01
)

// PeerID represents a node identifier (4 bytes, rendered as 8 hex chars)
type PeerID [4]byte

// BroadcastID is the reserved recipient for broadcast packets
var BroadcastID = PeerID{0xFF, 0xFF, 0xFF, 0xFF}

// GeneratePeerID generates a random peer ID, never equal to BroadcastID
func GeneratePeerID() PeerID {
	var id PeerID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			// Fallback: derive from the clock if crypto/rand fails
			binary.BigEndian.PutUint32(id[:], uint32(time.Now().UnixNano()))
		}
		if id != BroadcastID {
			return id
		}
	}
}

// PeerIDFromString parses an 8-char lowercase hex peer ID
func PeerIDFromString(s string) (PeerID, bool) {
	var id PeerID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

// String renders the peer ID as 8 lowercase hex characters
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// IsBroadcast checks whether the ID is the broadcast sentinel
func (id PeerID) IsBroadcast() bool {
	return id == BroadcastID
}

// NowUnixMilli returns current time in Unix milliseconds
func NowUnixMilli() uint64 {
	return uint64(time.Now().UnixMilli())
}
