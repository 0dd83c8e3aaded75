package mesh

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/crypto"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// ReplayWindow bounds how long a packet digest is remembered. A packet with
// an identical sender, timestamp, and payload inside the window is dropped;
// after the window a fresh timestamp from the same sender is accepted.
const ReplayWindow = 5 * time.Minute

// SecurityManager owns per-peer cryptographic sessions, packet
// signing/verification, and duplicate/replay suppression.
type SecurityManager struct {
	enc EncryptionService

	mu        sync.Mutex
	processed map[string]time.Time // peerID:digest -> first seen
	relayed   map[string]time.Time // peerID:digest -> relayed at
	sessions  map[protocol.PeerID]bool
	lastPrune time.Time
}

// NewSecurityManager wraps the encryption capability
func NewSecurityManager(enc EncryptionService) *SecurityManager {
	return &SecurityManager{
		enc:       enc,
		processed: make(map[string]time.Time),
		relayed:   make(map[string]time.Time),
		sessions:  make(map[protocol.PeerID]bool),
		lastPrune: time.Now(),
	}
}

// HandleKeyExchange derives a session for the peer from the exchanged key
// material. Returns true only when a new session was established, gating
// the one-time post-exchange announce and cache-flush sequence; re-keying
// with the same peer is idempotent.
func (s *SecurityManager) HandleKeyExchange(pkt *protocol.Packet, peerID protocol.PeerID) bool {
	if err := s.enc.AddPeerKey(peerID.String(), pkt.Payload); err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[peerID] {
		return false
	}
	s.sessions[peerID] = true
	return true
}

// HasSession reports whether a session exists for the peer
func (s *SecurityManager) HasSession(peerID protocol.PeerID) bool {
	return s.enc.HasSession(peerID.String())
}

// SessionCount returns the number of established sessions
func (s *SecurityManager) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EncryptForPeer encrypts data for the peer. Absence (false) means no
// session exists yet: "cannot send yet", not a failure.
func (s *SecurityManager) EncryptForPeer(data []byte, peerID protocol.PeerID) ([]byte, bool) {
	if !s.enc.HasSession(peerID.String()) {
		return nil, false
	}
	ciphertext, err := s.enc.Encrypt(data, peerID.String())
	if err != nil {
		return nil, false
	}
	return ciphertext, true
}

// DecryptFromPeer decrypts data from the peer; false when no session exists
// or the ciphertext does not authenticate.
func (s *SecurityManager) DecryptFromPeer(data []byte, peerID protocol.PeerID) ([]byte, bool) {
	if !s.enc.HasSession(peerID.String()) {
		return nil, false
	}
	plaintext, err := s.enc.Decrypt(data, peerID.String())
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// SignPacket signs data with this node's signing key
func (s *SecurityManager) SignPacket(data []byte) []byte {
	return s.enc.Sign(data)
}

// VerifySignature verifies the packet signature against the claimed
// sender's known verification key; false if no key is known or the
// signature is invalid.
func (s *SecurityManager) VerifySignature(pkt *protocol.Packet, peerID protocol.PeerID) bool {
	if len(pkt.Signature) == 0 {
		return false
	}
	return s.enc.Verify(pkt.SignedBytes(), pkt.Signature, peerID.String())
}

// ValidatePacket is the composite gate applied to every inbound packet
// before any further processing: structural validity, signature where the
// type requires one, and replay suppression.
func (s *SecurityManager) ValidatePacket(pkt *protocol.Packet, peerID protocol.PeerID) bool {
	if pkt == nil || !protocol.IsValidType(pkt.Type) || pkt.TTL > protocol.MaxTTL {
		return false
	}
	if pkt.SenderID.IsBroadcast() {
		return false
	}

	// Verify signatures whenever the sender's key is known; content types
	// demand one once a session exists. Key exchange and fragments carry
	// their authentication inside the payload.
	if s.enc.HasSession(peerID.String()) {
		switch pkt.Type {
		case protocol.PacketTypeMessage, protocol.PacketTypeLeave,
			protocol.PacketTypeDeliveryAck, protocol.PacketTypeReadReceipt:
			if !s.VerifySignature(pkt, peerID) {
				return false
			}
		default:
			if len(pkt.Signature) > 0 && !s.VerifySignature(pkt, peerID) {
				return false
			}
		}
	}

	return s.markProcessed(pkt, peerID)
}

// ShouldRelay re-applies loop suppression immediately before a relay:
// true at most once per packet digest within the replay window.
func (s *SecurityManager) ShouldRelay(pkt *protocol.Packet, peerID protocol.PeerID) bool {
	key := replayKey(pkt, peerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seen, ok := s.relayed[key]; ok && time.Since(seen) < ReplayWindow {
		return false
	}
	s.relayed[key] = time.Now()
	return true
}

// RemovePeer prunes all per-peer security state
func (s *SecurityManager) RemovePeer(peerID protocol.PeerID) {
	s.enc.RemovePeer(peerID.String())

	prefix := peerID.String() + ":"
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, peerID)
	for key := range s.processed {
		if strings.HasPrefix(key, prefix) {
			delete(s.processed, key)
		}
	}
	for key := range s.relayed {
		if strings.HasPrefix(key, prefix) {
			delete(s.relayed, key)
		}
	}
}

// Shutdown discards replay and session bookkeeping
func (s *SecurityManager) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]time.Time)
	s.relayed = make(map[string]time.Time)
	s.sessions = make(map[protocol.PeerID]bool)
}

// markProcessed records the packet digest, rejecting duplicates inside the
// replay window. Duplicate-broadcast storms are inherent to a flooding
// relay topology; this is the engine's defense.
func (s *SecurityManager) markProcessed(pkt *protocol.Packet, peerID protocol.PeerID) bool {
	key := replayKey(pkt, peerID)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > ReplayWindow {
		for k, seen := range s.processed {
			if now.Sub(seen) > ReplayWindow {
				delete(s.processed, k)
			}
		}
		for k, seen := range s.relayed {
			if now.Sub(seen) > ReplayWindow {
				delete(s.relayed, k)
			}
		}
		s.lastPrune = now
	}

	if seen, ok := s.processed[key]; ok && now.Sub(seen) < ReplayWindow {
		return false
	}
	s.processed[key] = now
	return true
}

func replayKey(pkt *protocol.Packet, peerID protocol.PeerID) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], pkt.Timestamp)

	digest := make([]byte, 0, len(pkt.SenderID)+8+len(pkt.Payload))
	digest = append(digest, pkt.SenderID[:]...)
	digest = append(digest, ts[:]...)
	digest = append(digest, pkt.Payload...)

	return peerID.String() + ":" + crypto.HashString(digest)
}
