package mesh

import (
	"testing"

	"github.com/ZentaChain/zentalk-mesh/pkg/crypto"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

func newSecurityPair(t *testing.T) (*SecurityManager, *crypto.Service, protocol.PeerID) {
	t.Helper()

	local, err := crypto.NewService()
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	remote, err := crypto.NewService()
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	sm := NewSecurityManager(local)
	remoteID := protocol.PeerID{0xB0, 0xB0, 0xB0, 0xB0}

	kx := protocol.NewPacket(protocol.PacketTypeKeyExchange, remoteID, protocol.BroadcastID, 1, remote.PublicKeyData())
	if !sm.HandleKeyExchange(kx, remoteID) {
		t.Fatal("HandleKeyExchange() = false for a new session")
	}

	return sm, remote, remoteID
}

func TestHandleKeyExchangeIdempotent(t *testing.T) {
	sm, remote, remoteID := newSecurityPair(t)

	kx := protocol.NewPacket(protocol.PacketTypeKeyExchange, remoteID, protocol.BroadcastID, 1, remote.PublicKeyData())
	if sm.HandleKeyExchange(kx, remoteID) {
		t.Error("HandleKeyExchange() = true on re-key, want false")
	}
	if sm.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", sm.SessionCount())
	}
}

func TestHandleKeyExchangeBadMaterial(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)
	remoteID := protocol.PeerID{1, 2, 3, 4}

	kx := protocol.NewPacket(protocol.PacketTypeKeyExchange, remoteID, protocol.BroadcastID, 1, []byte("garbage"))
	if sm.HandleKeyExchange(kx, remoteID) {
		t.Error("HandleKeyExchange() accepted malformed key material")
	}
	if sm.HasSession(remoteID) {
		t.Error("HasSession() = true after rejected key material")
	}
}

func TestEncryptDecryptRoundTripWithSession(t *testing.T) {
	local, _ := crypto.NewService()
	remote, _ := crypto.NewService()

	smLocal := NewSecurityManager(local)
	smRemote := NewSecurityManager(remote)
	localID := protocol.PeerID{0xA1, 0xA1, 0xA1, 0xA1}
	remoteID := protocol.PeerID{0xB2, 0xB2, 0xB2, 0xB2}

	kxRemote := protocol.NewPacket(protocol.PacketTypeKeyExchange, remoteID, protocol.BroadcastID, 1, remote.PublicKeyData())
	smLocal.HandleKeyExchange(kxRemote, remoteID)
	kxLocal := protocol.NewPacket(protocol.PacketTypeKeyExchange, localID, protocol.BroadcastID, 1, local.PublicKeyData())
	smRemote.HandleKeyExchange(kxLocal, localID)

	ciphertext, ok := smLocal.EncryptForPeer([]byte("secret"), remoteID)
	if !ok {
		t.Fatal("EncryptForPeer() = false with session")
	}
	plaintext, ok := smRemote.DecryptFromPeer(ciphertext, localID)
	if !ok {
		t.Fatal("DecryptFromPeer() = false for authentic ciphertext")
	}
	if string(plaintext) != "secret" {
		t.Errorf("DecryptFromPeer() = %q, want %q", plaintext, "secret")
	}
}

func TestEncryptForPeerWithoutSession(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)

	if _, ok := sm.EncryptForPeer([]byte("data"), protocol.PeerID{9, 9, 9, 9}); ok {
		t.Error("EncryptForPeer() = true without a session")
	}
	if _, ok := sm.DecryptFromPeer([]byte("data"), protocol.PeerID{9, 9, 9, 9}); ok {
		t.Error("DecryptFromPeer() = true without a session")
	}
}

func TestValidatePacketStructure(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)
	sender := protocol.PeerID{1, 2, 3, 4}

	if sm.ValidatePacket(nil, sender) {
		t.Error("ValidatePacket(nil) = true")
	}

	badType := protocol.NewPacket(protocol.PacketTypeMessage, sender, protocol.BroadcastID, 4, []byte("x"))
	badType.Type = 0x42
	if sm.ValidatePacket(badType, sender) {
		t.Error("ValidatePacket() accepted an unknown type")
	}

	badTTL := protocol.NewPacket(protocol.PacketTypeMessage, sender, protocol.BroadcastID, 4, []byte("x"))
	badTTL.TTL = protocol.MaxTTL + 1
	if sm.ValidatePacket(badTTL, sender) {
		t.Error("ValidatePacket() accepted ttl above the maximum")
	}

	fromBroadcast := protocol.NewPacket(protocol.PacketTypeMessage, protocol.BroadcastID, sender, 4, []byte("x"))
	if sm.ValidatePacket(fromBroadcast, protocol.BroadcastID) {
		t.Error("ValidatePacket() accepted the broadcast sender")
	}
}

func TestValidatePacketSignatureRequiredWithSession(t *testing.T) {
	sm, remote, remoteID := newSecurityPair(t)

	unsigned := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, 4, []byte("chat"))
	if sm.ValidatePacket(unsigned, remoteID) {
		t.Error("ValidatePacket() accepted an unsigned message from a session peer")
	}

	signed := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, 4, []byte("chat"))
	signed.Signature = remote.Sign(signed.SignedBytes())
	if !sm.ValidatePacket(signed, remoteID) {
		t.Error("ValidatePacket() rejected a correctly signed message")
	}

	forged := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, 4, []byte("other"))
	forged.Signature = remote.Sign([]byte("not these bytes"))
	if sm.ValidatePacket(forged, remoteID) {
		t.Error("ValidatePacket() accepted a forged signature")
	}
}

func TestValidatePacketSignedRelaySurvivesHopDecrement(t *testing.T) {
	sm, remote, remoteID := newSecurityPair(t)

	// Signed at the origin with the full hop budget, received here after
	// one relay hop decremented the ttl. The signature must still hold.
	origin := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, protocol.MaxTTL, []byte("chat"))
	origin.Signature = remote.Sign(origin.SignedBytes())

	relayed := origin.WithTTL(origin.TTL - 1)
	if !sm.VerifySignature(relayed, remoteID) {
		t.Error("VerifySignature() = false for a once-relayed signed packet")
	}
	if !sm.ValidatePacket(relayed, remoteID) {
		t.Error("ValidatePacket() rejected a once-relayed signed packet")
	}

	// The last deliverable hop arrives at ttl 0; only the replay window
	// may reject it, never the signature
	spent := origin.WithTTL(0)
	if !sm.VerifySignature(spent, remoteID) {
		t.Error("VerifySignature() = false at ttl 0")
	}
}

func TestValidatePacketUnsignedBeforeSession(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)
	sender := protocol.PeerID{5, 5, 5, 5}

	// Before any key exchange there is no key to verify against; announces
	// and messages pass on structure alone.
	pkt := protocol.NewPacket(protocol.PacketTypeAnnounce, sender, protocol.BroadcastID, 3, []byte("alice"))
	if !sm.ValidatePacket(pkt, sender) {
		t.Error("ValidatePacket() rejected a pre-session announce")
	}
}

func TestValidatePacketReplaySuppression(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)
	sender := protocol.PeerID{1, 2, 3, 4}

	pkt := protocol.NewPacket(protocol.PacketTypeMessage, sender, protocol.BroadcastID, 4, []byte("once"))
	if !sm.ValidatePacket(pkt, sender) {
		t.Fatal("ValidatePacket() rejected the first delivery")
	}

	// Same sender, timestamp, payload: a relayed duplicate
	dup := pkt.WithTTL(pkt.TTL - 1)
	if sm.ValidatePacket(dup, sender) {
		t.Error("ValidatePacket() accepted a duplicate inside the replay window")
	}

	// A different payload from the same sender is new traffic
	fresh := protocol.NewPacket(protocol.PacketTypeMessage, sender, protocol.BroadcastID, 4, []byte("twice"))
	if !sm.ValidatePacket(fresh, sender) {
		t.Error("ValidatePacket() rejected distinct traffic from the same sender")
	}
}

func TestShouldRelayOncePerDigest(t *testing.T) {
	local, _ := crypto.NewService()
	sm := NewSecurityManager(local)
	sender := protocol.PeerID{1, 2, 3, 4}

	pkt := protocol.NewPacket(protocol.PacketTypeMessage, sender, protocol.BroadcastID, 4, []byte("relay me"))

	// Relay bookkeeping is independent of receive bookkeeping
	if !sm.ValidatePacket(pkt, sender) {
		t.Fatal("ValidatePacket() rejected the packet")
	}
	if !sm.ShouldRelay(pkt, sender) {
		t.Error("ShouldRelay() = false on first relay decision")
	}
	if sm.ShouldRelay(pkt, sender) {
		t.Error("ShouldRelay() = true on second relay decision")
	}
}

func TestSecurityRemovePeer(t *testing.T) {
	sm, remote, remoteID := newSecurityPair(t)

	pkt := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, 4, []byte("chat"))
	pkt.Signature = remote.Sign(pkt.SignedBytes())
	if !sm.ValidatePacket(pkt, remoteID) {
		t.Fatal("ValidatePacket() rejected a signed message")
	}

	sm.RemovePeer(remoteID)

	if sm.HasSession(remoteID) {
		t.Error("HasSession() = true after RemovePeer")
	}
	if sm.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d after RemovePeer, want 0", sm.SessionCount())
	}

	// Replay state for the peer is pruned: the same digest passes again
	// (now unsigned, since the session is gone)
	replay := protocol.NewPacket(protocol.PacketTypeMessage, remoteID, protocol.BroadcastID, 4, []byte("chat"))
	replay.Timestamp = pkt.Timestamp
	replay.Signature = pkt.Signature
	if !sm.ValidatePacket(replay, remoteID) {
		t.Error("ValidatePacket() still remembers digests for a removed peer")
	}
}
