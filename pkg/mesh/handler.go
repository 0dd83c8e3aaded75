package mesh

import (
	"log"
	"sync/atomic"

	"github.com/ZentaChain/zentalk-mesh/pkg/crypto"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// Acknowledgments propagate on a reduced hop budget
const ackTTL = 3

// MessageHandler interprets application-level packet types and applies the
// relay policy uniformly: every successfully processed, still-relayable
// packet is forwarded with its ttl decremented, whether or not it was also
// consumed locally. The mesh relies on every node relaying to extend reach.
type MessageHandler struct {
	ownID    protocol.PeerID
	nickname func() string

	security *SecurityManager
	registry *PeerRegistry
	cache    *MessageCache
	delegate Delegate
	transmit func(*protocol.Packet)

	relayedCount uint64
	droppedCount uint64
}

// NewMessageHandler wires the handler to its collaborators. transmit is the
// normal outbound send path owned by the coordinator.
func NewMessageHandler(ownID protocol.PeerID, nickname func() string, security *SecurityManager,
	registry *PeerRegistry, cache *MessageCache, delegate Delegate, transmit func(*protocol.Packet)) *MessageHandler {
	return &MessageHandler{
		ownID:    ownID,
		nickname: nickname,
		security: security,
		registry: registry,
		cache:    cache,
		delegate: delegate,
		transmit: transmit,
	}
}

// HandleAnnounce processes an identity broadcast carrying a nickname
func (h *MessageHandler) HandleAnnounce(pkt *protocol.Packet) {
	nickname := string(pkt.Payload)
	if nickname == "" {
		atomic.AddUint64(&h.droppedCount, 1)
		return
	}

	// The dispatcher may already have created a bare record for this
	// sender; the first announce carrying a nickname still counts as the
	// peer's arrival.
	known := h.registry.Nickname(pkt.SenderID) != ""
	isNew := h.registry.AddOrUpdatePeer(pkt.SenderID, nickname)
	if isNew || !known {
		log.Printf("New peer %s announced as %q", pkt.SenderID, nickname)
		h.delegate.PeerConnected(pkt.SenderID, nickname)
		h.delegate.PeerListUpdated(h.registry.AllPeers())
	}

	h.relayIfNeeded(pkt)
}

// HandleMessage processes a chat message packet
func (h *MessageHandler) HandleMessage(pkt *protocol.Packet) {
	switch {
	case pkt.RecipientID == h.ownID:
		h.handlePrivateMessage(pkt)
	case pkt.RecipientID.IsBroadcast():
		h.handleBroadcastMessage(pkt)
	default:
		// Addressed to someone else: payload is not ours to read
		h.relayIfNeeded(pkt)
	}
}

func (h *MessageHandler) handlePrivateMessage(pkt *protocol.Packet) {
	plaintext, ok := h.security.DecryptFromPeer(pkt.Payload, pkt.SenderID)
	if !ok {
		log.Printf("Cannot decrypt private message from %s (no session)", pkt.SenderID)
		atomic.AddUint64(&h.droppedCount, 1)
		return
	}

	msg, err := protocol.DecodeMessage(protocol.Unpad(plaintext))
	if err != nil {
		log.Printf("Malformed private message from %s: %v", pkt.SenderID, err)
		atomic.AddUint64(&h.droppedCount, 1)
		return
	}

	h.registry.AddOrUpdatePeer(pkt.SenderID, msg.SenderNickname)
	h.delegate.DidReceiveMessage(msg)
	h.sendDeliveryAck(msg, pkt)
	h.relayIfNeeded(pkt)
}

func (h *MessageHandler) handleBroadcastMessage(pkt *protocol.Packet) {
	msg, err := protocol.DecodeMessage(pkt.Payload)
	if err != nil {
		log.Printf("Malformed broadcast message from %s: %v", pkt.SenderID, err)
		atomic.AddUint64(&h.droppedCount, 1)
		return
	}

	if msg.IsEncrypted && msg.Channel != "" {
		plaintext, ok := h.delegate.DecryptChannelMessage(msg.EncryptedContent, msg.Channel)
		if !ok {
			// Not a member of the channel; still relay for those who are
			h.relayIfNeeded(pkt)
			return
		}
		msg.Content = string(plaintext)
	}

	h.registry.AddOrUpdatePeer(pkt.SenderID, msg.SenderNickname)
	h.delegate.DidReceiveMessage(msg)
	h.relayIfNeeded(pkt)
}

// HandleLeave processes a departure notice
func (h *MessageHandler) HandleLeave(pkt *protocol.Packet) {
	nickname := string(pkt.Payload)
	if nickname == "" {
		nickname = h.registry.Nickname(pkt.SenderID)
	}
	if nickname == "" {
		nickname = h.delegate.NicknameForPeer(pkt.SenderID)
	}

	h.delegate.LeaveReceived(pkt.SenderID, nickname)
	h.registry.RemovePeer(pkt.SenderID)
	h.security.RemovePeer(pkt.SenderID)
	h.delegate.PeerDisconnected(pkt.SenderID, nickname)
	h.delegate.PeerListUpdated(h.registry.AllPeers())

	h.relayIfNeeded(pkt)
}

// HandleDeliveryAck processes a delivery acknowledgment
func (h *MessageHandler) HandleDeliveryAck(pkt *protocol.Packet) {
	if pkt.RecipientID == h.ownID {
		ack, err := protocol.DecodeDeliveryAck(pkt.Payload)
		if err != nil {
			log.Printf("Malformed delivery ack from %s: %v", pkt.SenderID, err)
			atomic.AddUint64(&h.droppedCount, 1)
			return
		}
		h.delegate.DeliveryAckReceived(ack)
	}

	h.relayIfNeeded(pkt)
}

// HandleReadReceipt processes a read receipt
func (h *MessageHandler) HandleReadReceipt(pkt *protocol.Packet) {
	if pkt.RecipientID == h.ownID {
		receipt, err := protocol.DecodeReadReceipt(pkt.Payload)
		if err != nil {
			log.Printf("Malformed read receipt from %s: %v", pkt.SenderID, err)
			atomic.AddUint64(&h.droppedCount, 1)
			return
		}
		h.delegate.ReadReceiptReceived(receipt)
	}

	h.relayIfNeeded(pkt)
}

// RelayedCount returns the number of packets this node has relayed
func (h *MessageHandler) RelayedCount() uint64 {
	return atomic.LoadUint64(&h.relayedCount)
}

// DroppedCount returns the number of packets dropped during handling
func (h *MessageHandler) DroppedCount() uint64 {
	return atomic.LoadUint64(&h.droppedCount)
}

// relayIfNeeded forwards a processed packet with ttl decremented by one.
// A packet at ttl 0 is never relayed. Signatures are not re-verified here
// (the dispatcher already did), but loop suppression is re-applied.
func (h *MessageHandler) relayIfNeeded(pkt *protocol.Packet) {
	if pkt.TTL == 0 {
		return
	}
	if !h.security.ShouldRelay(pkt, pkt.SenderID) {
		return
	}

	h.transmit(pkt.WithTTL(pkt.TTL - 1))
	atomic.AddUint64(&h.relayedCount, 1)
}

// sendDeliveryAck confirms receipt of a private message to its sender
func (h *MessageHandler) sendDeliveryAck(msg *protocol.Message, pkt *protocol.Packet) {
	ack := &protocol.DeliveryAck{
		OriginalMessageID: msg.ID,
		AckID:             crypto.HashString(append([]byte(msg.ID), h.ownID[:]...))[:16],
		RecipientID:       h.ownID,
		RecipientNickname: h.nickname(),
		HopCount:          protocol.MaxTTL - pkt.TTL,
		Timestamp:         protocol.NowUnixMilli(),
	}

	ackPkt := protocol.NewPacket(protocol.PacketTypeDeliveryAck, h.ownID, pkt.SenderID, ackTTL, ack.Encode())
	ackPkt.Signature = h.security.SignPacket(ackPkt.SignedBytes())
	h.transmit(ackPkt)
}
