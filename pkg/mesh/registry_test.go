package mesh

import (
	"testing"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

func TestRegistryAddOrUpdatePeer(t *testing.T) {
	r := NewPeerRegistry(DefaultFreshnessWindow)
	id := protocol.PeerID{1, 2, 3, 4}

	if !r.AddOrUpdatePeer(id, "alice") {
		t.Error("AddOrUpdatePeer() = false for a new peer, want true")
	}
	if r.AddOrUpdatePeer(id, "alice") {
		t.Error("AddOrUpdatePeer() = true for a known peer, want false")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if nick := r.Nickname(id); nick != "alice" {
		t.Errorf("Nickname() = %q, want %q", nick, "alice")
	}
}

func TestRegistryEmptyNicknamePreserved(t *testing.T) {
	r := NewPeerRegistry(DefaultFreshnessWindow)
	id := protocol.PeerID{1, 2, 3, 4}

	r.AddOrUpdatePeer(id, "alice")
	r.AddOrUpdatePeer(id, "")
	if nick := r.Nickname(id); nick != "alice" {
		t.Errorf("Nickname() = %q after empty update, want %q", nick, "alice")
	}

	r.AddOrUpdatePeer(id, "alice2")
	if nick := r.Nickname(id); nick != "alice2" {
		t.Errorf("Nickname() = %q, want %q", nick, "alice2")
	}
}

func TestRegistryFreshness(t *testing.T) {
	r := NewPeerRegistry(50 * time.Millisecond)
	id := protocol.PeerID{1, 2, 3, 4}

	r.AddOrUpdatePeer(id, "alice")
	if !r.IsActive(id) {
		t.Error("IsActive() = false immediately after sighting")
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}

	time.Sleep(60 * time.Millisecond)

	if r.IsActive(id) {
		t.Error("IsActive() = true past the freshness window")
	}
	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
	// Inactive is not forgotten
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	r.UpdateLastSeen(id)
	if !r.IsActive(id) {
		t.Error("IsActive() = false after UpdateLastSeen")
	}
}

func TestRegistryAnnouncedTo(t *testing.T) {
	r := NewPeerRegistry(DefaultFreshnessWindow)
	id := protocol.PeerID{1, 2, 3, 4}

	if r.HasAnnouncedTo(id) {
		t.Error("HasAnnouncedTo() = true for unknown peer")
	}

	r.MarkAnnouncedTo(id)
	if !r.HasAnnouncedTo(id) {
		t.Error("HasAnnouncedTo() = false after MarkAnnouncedTo")
	}
	// Marking an unknown peer creates its record
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	r.RemovePeer(id)
	if r.HasAnnouncedTo(id) {
		t.Error("HasAnnouncedTo() = true after RemovePeer")
	}
}

func TestRegistrySweepStale(t *testing.T) {
	r := NewPeerRegistry(DefaultFreshnessWindow)
	stale := protocol.PeerID{1, 1, 1, 1}
	fresh := protocol.PeerID{2, 2, 2, 2}

	r.AddOrUpdatePeer(stale, "old")
	time.Sleep(30 * time.Millisecond)
	r.AddOrUpdatePeer(fresh, "new")

	removed := r.SweepStale(20 * time.Millisecond)
	if len(removed) != 1 {
		t.Fatalf("SweepStale() removed %d peers, want 1", len(removed))
	}
	if removed[stale] != "old" {
		t.Errorf("SweepStale() removed[%s] = %q, want %q", stale, removed[stale], "old")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d after sweep, want 1", r.Count())
	}
	if r.Nickname(fresh) != "new" {
		t.Error("SweepStale() removed a fresh peer")
	}
}

func TestRegistrySnapshots(t *testing.T) {
	r := NewPeerRegistry(DefaultFreshnessWindow)
	a := protocol.PeerID{1, 1, 1, 1}
	b := protocol.PeerID{2, 2, 2, 2}
	r.AddOrUpdatePeer(a, "alice")
	r.AddOrUpdatePeer(b, "bob")

	if got := len(r.AllPeers()); got != 2 {
		t.Errorf("AllPeers() length = %d, want 2", got)
	}
	if got := len(r.ActivePeers()); got != 2 {
		t.Errorf("ActivePeers() length = %d, want 2", got)
	}

	nicks := r.AllNicknames()
	if nicks[a] != "alice" || nicks[b] != "bob" {
		t.Errorf("AllNicknames() = %v", nicks)
	}
}
