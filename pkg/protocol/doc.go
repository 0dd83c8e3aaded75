// Package protocol implements the Zentalk mesh wire format.
//
// The package defines the packet codec shared by every node on the mesh,
// the application-level message payloads, and the traffic padding applied
// to private messages. The format is fixed-order binary, big-endian, and
// bit-exact across implementations.
//
// # Packet Format
//
// Every packet is laid out as:
//   - Type (1 byte): packet type
//   - SenderID (4 bytes): originating peer ID
//   - RecipientID (4 bytes): target peer ID, or 0xFFFFFFFF for broadcast
//   - Timestamp (8 bytes): Unix milliseconds
//   - TTL (1 byte): remaining hop budget, 0-7
//   - Flags (1 byte): bit 0 set when a signature block follows
//   - Signature (64 bytes, optional): Ed25519 signature over the packet
//     encoding with the signature omitted and the TTL byte zeroed, so the
//     signature survives relay hops
//   - Payload (variable): opaque bytes, interpreted by the consumer
//
// # Packet Types
//
// Connection choreography:
//   - KeyExchange: per-peer session establishment material
//   - Announce: identity broadcast carrying this node's nickname
//   - Leave: departure notice, flooded to the local neighborhood only
//
// Content:
//   - Message: chat content (see Message), plaintext or encrypted
//   - DeliveryAck / ReadReceipt: acknowledgment records
//
// Fragmentation:
//   - FragmentStart / FragmentContinue / FragmentEnd: chunks of an
//     oversized packet, each independently relayable
//
// # Relay Semantics
//
// Packets are immutable values. A relay hop produces a new packet with TTL
// decremented by one; a packet at TTL 0 is delivered locally but never
// relayed. TTL never exceeds 7 on transmission.
package protocol
