package mesh

import (
	"fmt"
	"testing"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

func newTestCache(favorites ...protocol.PeerID) (*MessageCache, *PeerRegistry) {
	registry := NewPeerRegistry(50 * time.Millisecond)
	favs := make(map[protocol.PeerID]bool, len(favorites))
	for _, id := range favorites {
		favs[id] = true
	}
	cache := NewMessageCache(registry, func(id protocol.PeerID) bool { return favs[id] })
	return cache, registry
}

func privatePacket(recipient protocol.PeerID, body string) *protocol.Packet {
	return protocol.NewPacket(protocol.PacketTypeMessage,
		protocol.PeerID{0xA, 0xA, 0xA, 0xA}, recipient, protocol.MaxTTL, []byte(body))
}

func TestShouldCacheForPeer(t *testing.T) {
	favorite := protocol.PeerID{1, 1, 1, 1}
	regular := protocol.PeerID{2, 2, 2, 2}
	cache, registry := newTestCache(favorite)

	// Offline favorite: cache
	if !cache.ShouldCacheForPeer(favorite) {
		t.Error("ShouldCacheForPeer() = false for an offline favorite")
	}

	// Active favorite: no caching
	registry.AddOrUpdatePeer(favorite, "fav")
	if cache.ShouldCacheForPeer(favorite) {
		t.Error("ShouldCacheForPeer() = true for an active favorite")
	}

	// Non-favorite, offline or not: never
	if cache.ShouldCacheForPeer(regular) {
		t.Error("ShouldCacheForPeer() = true for a non-favorite")
	}

	// Broadcast is never cacheable
	if cache.ShouldCacheForPeer(protocol.BroadcastID) {
		t.Error("ShouldCacheForPeer() = true for broadcast")
	}
}

func TestCacheFlushInOrder(t *testing.T) {
	favorite := protocol.PeerID{1, 1, 1, 1}
	other := protocol.PeerID{3, 3, 3, 3}
	cache, _ := newTestCache(favorite, other)

	cache.CacheMessage(privatePacket(favorite, "first"), "m1")
	cache.CacheMessage(privatePacket(favorite, "second"), "m2")
	cache.CacheMessage(privatePacket(other, "elsewhere"), "m3")
	cache.CacheMessage(privatePacket(favorite, "third"), "m4")

	if cache.Depth() != 4 {
		t.Errorf("Depth() = %d, want 4", cache.Depth())
	}

	var sent []string
	n := cache.SendCachedMessages(favorite, func(pkt *protocol.Packet) {
		sent = append(sent, string(pkt.Payload))
	})

	if n != 3 {
		t.Fatalf("SendCachedMessages() = %d, want 3", n)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("flush order[%d] = %q, want %q", i, sent[i], want[i])
		}
	}

	// Entries for other peers stay put
	if cache.Depth() != 1 {
		t.Errorf("Depth() = %d after flush, want 1", cache.Depth())
	}

	// A second flush has nothing left
	if n := cache.SendCachedMessages(favorite, func(*protocol.Packet) {}); n != 0 {
		t.Errorf("second SendCachedMessages() = %d, want 0", n)
	}
}

func TestCacheDuplicateMessageID(t *testing.T) {
	favorite := protocol.PeerID{1, 1, 1, 1}
	cache, _ := newTestCache(favorite)

	cache.CacheMessage(privatePacket(favorite, "original"), "m1")
	cache.CacheMessage(privatePacket(favorite, "duplicate"), "m1")

	if cache.Depth() != 1 {
		t.Errorf("Depth() = %d after duplicate ID, want 1", cache.Depth())
	}
}

func TestCacheCapacityEvictsOldest(t *testing.T) {
	favorite := protocol.PeerID{1, 1, 1, 1}
	cache, _ := newTestCache(favorite)

	for i := 0; i < DefaultCacheCapacity+10; i++ {
		cache.CacheMessage(privatePacket(favorite, fmt.Sprintf("msg-%d", i)), fmt.Sprintf("id-%d", i))
	}

	if cache.Depth() != DefaultCacheCapacity {
		t.Fatalf("Depth() = %d, want %d", cache.Depth(), DefaultCacheCapacity)
	}

	var first string
	cache.SendCachedMessages(favorite, func(pkt *protocol.Packet) {
		if first == "" {
			first = string(pkt.Payload)
		}
	})
	if first != "msg-10" {
		t.Errorf("oldest surviving entry = %q, want %q", first, "msg-10")
	}
}

type fakeSpool struct {
	entries map[string][]SpoolEntry
	closed  bool
}

func newFakeSpool() *fakeSpool {
	return &fakeSpool{entries: make(map[string][]SpoolEntry)}
}

func (f *fakeSpool) Enqueue(recipient, messageID string, packet []byte) error {
	for _, e := range f.entries[recipient] {
		if e.MessageID == messageID {
			return nil
		}
	}
	f.entries[recipient] = append(f.entries[recipient], SpoolEntry{MessageID: messageID, Packet: packet})
	return nil
}

func (f *fakeSpool) Drain(recipient string) ([]SpoolEntry, error) {
	out := f.entries[recipient]
	delete(f.entries, recipient)
	return out, nil
}

func (f *fakeSpool) Total() (int, error) {
	total := 0
	for _, v := range f.entries {
		total += len(v)
	}
	return total, nil
}

func (f *fakeSpool) Close() error {
	f.closed = true
	return nil
}

func TestCacheWithSpool(t *testing.T) {
	favorite := protocol.PeerID{1, 1, 1, 1}
	cache, _ := newTestCache(favorite)
	spool := newFakeSpool()
	cache.AttachSpool(spool)

	cache.CacheMessage(privatePacket(favorite, "durable"), "m1")

	if cache.Depth() != 1 {
		t.Errorf("Depth() = %d, want 1", cache.Depth())
	}

	var sent []string
	n := cache.SendCachedMessages(favorite, func(pkt *protocol.Packet) {
		sent = append(sent, string(pkt.Payload))
	})
	if n != 1 || sent[0] != "durable" {
		t.Errorf("SendCachedMessages() = %d %v, want 1 [durable]", n, sent)
	}

	cache.Shutdown()
	if !spool.closed {
		t.Error("Shutdown() did not close the spool")
	}
}
