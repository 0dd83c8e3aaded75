package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedPacket covers every decode failure: truncated input, an
// unknown packet type, or a hop budget outside the protocol range.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet represents a unit of mesh traffic. Packets are immutable value
// objects; relaying produces a fresh packet via WithTTL.
type Packet struct {
	Type        uint8
	SenderID    PeerID
	RecipientID PeerID
	Timestamp   uint64 // Unix milliseconds
	TTL         uint8
	Signature   []byte // nil or exactly SignatureSize bytes
	Payload     []byte
}

// NewPacket creates an unsigned packet stamped with the current time
func NewPacket(pktType uint8, sender, recipient PeerID, ttl uint8, payload []byte) *Packet {
	return &Packet{
		Type:        pktType,
		SenderID:    sender,
		RecipientID: recipient,
		Timestamp:   NowUnixMilli(),
		TTL:         ttl,
		Payload:     payload,
	}
}

// WithTTL returns a copy of the packet with the given ttl
func (p *Packet) WithTTL(ttl uint8) *Packet {
	clone := *p
	clone.TTL = ttl
	return &clone
}

// IsValidType reports whether t is one of the nine known packet types
func IsValidType(t uint8) bool {
	switch t {
	case PacketTypeKeyExchange, PacketTypeAnnounce, PacketTypeLeave,
		PacketTypeMessage, PacketTypeFragmentStart, PacketTypeFragmentContinue,
		PacketTypeFragmentEnd, PacketTypeDeliveryAck, PacketTypeReadReceipt:
		return true
	}
	return false
}

// Encode serializes the packet to its wire representation.
// Field order: type | senderID | recipientID | timestamp | ttl | flags |
// [signature] | payload. Encoding is total for in-invariant packets.
func (p *Packet) Encode() []byte {
	size := HeaderSize + len(p.Payload)
	var flags uint8
	if len(p.Signature) == SignatureSize {
		flags |= FlagHasSignature
		size += SignatureSize
	}

	buf := make([]byte, size)
	offset := 0

	buf[offset] = p.Type
	offset++

	copy(buf[offset:], p.SenderID[:])
	offset += 4

	copy(buf[offset:], p.RecipientID[:])
	offset += 4

	binary.BigEndian.PutUint64(buf[offset:], p.Timestamp)
	offset += 8

	buf[offset] = p.TTL
	offset++

	buf[offset] = flags
	offset++

	if flags&FlagHasSignature != 0 {
		copy(buf[offset:], p.Signature)
		offset += SignatureSize
	}

	copy(buf[offset:], p.Payload)

	return buf
}

// Decode parses a wire packet. It fails with ErrMalformedPacket on truncated
// input, an unknown type, or a ttl above MaxTTL; payload bytes are never
// interpreted here.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, ErrMalformedPacket
	}

	p := &Packet{}
	offset := 0

	p.Type = buf[offset]
	offset++
	if !IsValidType(p.Type) {
		return nil, ErrMalformedPacket
	}

	copy(p.SenderID[:], buf[offset:offset+4])
	offset += 4

	copy(p.RecipientID[:], buf[offset:offset+4])
	offset += 4

	p.Timestamp = binary.BigEndian.Uint64(buf[offset:])
	offset += 8

	p.TTL = buf[offset]
	offset++
	if p.TTL > MaxTTL {
		return nil, ErrMalformedPacket
	}

	flags := buf[offset]
	offset++

	if flags&FlagHasSignature != 0 {
		if len(buf) < offset+SignatureSize {
			return nil, ErrMalformedPacket
		}
		p.Signature = make([]byte, SignatureSize)
		copy(p.Signature, buf[offset:offset+SignatureSize])
		offset += SignatureSize
	}

	p.Payload = make([]byte, len(buf)-offset)
	copy(p.Payload, buf[offset:])

	return p, nil
}

// SignedBytes returns the bytes covered by the packet signature: the wire
// encoding with the signature block omitted and the ttl byte zeroed. The
// ttl is mutated at every relay hop, so it cannot be under the signature.
func (p *Packet) SignedBytes() []byte {
	unsigned := *p
	unsigned.Signature = nil
	unsigned.TTL = 0
	return unsigned.Encode()
}
