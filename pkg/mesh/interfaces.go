package mesh

import (
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// Transport is the connection-manager capability the mesh engine runs on.
// It is an unreliable, duplicate-prone, broadcast-oriented channel with no
// ordering guarantee; the engine never assumes delivery.
type Transport interface {
	// StartServices brings the transport up; false means the engine cannot
	// start (surfaced to the application, not retried here).
	StartServices() bool

	// StopServices tears the transport down.
	StopServices()

	// BroadcastPacket sends one encoded packet to every reachable device.
	BroadcastPacket(pkt *protocol.Packet) error

	// SetReceiver registers the inbound sink. Must be called before
	// StartServices.
	SetReceiver(r Receiver)
}

// Receiver accepts inbound traffic from the transport. Implementations must
// tolerate concurrent delivery of packets from different and the same peer.
type Receiver interface {
	OnPacketReceived(pkt *protocol.Packet, fromPeer protocol.PeerID, handle string)
	OnDeviceConnected(handle string)
}

// EncryptionService is the opaque provider of key material and the
// underlying authenticated-encryption and signature primitives. The engine
// never manipulates raw key bytes except through this capability.
type EncryptionService interface {
	PublicKeyData() []byte
	AddPeerKey(peerID string, data []byte) error
	HasSession(peerID string) bool
	RemovePeer(peerID string)
	Encrypt(data []byte, peerID string) ([]byte, error)
	Decrypt(data []byte, peerID string) ([]byte, error)
	Sign(data []byte) []byte
	Verify(data, signature []byte, peerID string) bool
}

// Delegate receives upward callbacks from the engine. All callbacks may be
// invoked from inbound-processing goroutines; implementations must be safe
// for concurrent use.
type Delegate interface {
	// DidReceiveMessage surfaces a decoded chat message.
	DidReceiveMessage(msg *protocol.Message)

	// PeerConnected fires when a previously unknown peer is seen.
	PeerConnected(id protocol.PeerID, nickname string)

	// PeerDisconnected fires when a peer times out or leaves.
	PeerDisconnected(id protocol.PeerID, nickname string)

	// PeerListUpdated fires after any change to the set of known peers.
	PeerListUpdated(ids []protocol.PeerID)

	// LeaveReceived surfaces a channel-leave notice.
	LeaveReceived(id protocol.PeerID, nickname string)

	// DeliveryAckReceived surfaces an acknowledgment for a sent message.
	DeliveryAckReceived(ack *protocol.DeliveryAck)

	// ReadReceiptReceived surfaces a read receipt for a sent message.
	ReadReceiptReceived(receipt *protocol.ReadReceipt)

	// DecryptChannelMessage asks the application for the plaintext of an
	// encrypted channel message; false when the channel key is unknown.
	DecryptChannelMessage(encrypted []byte, channel string) ([]byte, bool)

	// NicknameForPeer asks the application for a display name when the
	// registry holds none; empty when the application has none either.
	NicknameForPeer(id protocol.PeerID) string

	// IsFavorite reports whether the application marked the peer as a
	// favorite, making it eligible for store-and-forward caching.
	IsFavorite(id protocol.PeerID) bool
}
