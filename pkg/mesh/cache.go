package mesh

import (
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// DefaultCacheCapacity bounds in-memory store-and-forward entries; the
// oldest entry is evicted first.
const DefaultCacheCapacity = 100

// SpoolEntry is one durably spooled packet
type SpoolEntry struct {
	MessageID string
	Packet    []byte
}

// Spool is an optional durable backend for the store-and-forward cache.
// Implemented by pkg/store on SQLite.
type Spool interface {
	// Enqueue stores one encoded packet for a recipient.
	Enqueue(recipient, messageID string, packet []byte) error

	// Drain returns a recipient's packets in enqueue order and removes them.
	Drain(recipient string) ([]SpoolEntry, error)

	// Total returns the number of spooled packets across all recipients.
	Total() (int, error)

	// Close releases the backend.
	Close() error
}

type cacheEntry struct {
	packet    *protocol.Packet
	messageID string
	target    protocol.PeerID
	cachedAt  time.Time
}

// MessageCache buffers messages addressed to currently-unreachable favorite
// peers and flushes them on reconnection. It is the system's only
// delivery-durability mechanism.
type MessageCache struct {
	registry   *PeerRegistry
	isFavorite func(protocol.PeerID) bool

	mu       sync.Mutex
	entries  []*cacheEntry
	capacity int
	spool    Spool
}

// NewMessageCache creates a cache bound to the registry's liveness view.
// isFavorite consults the application's favorite designation.
func NewMessageCache(registry *PeerRegistry, isFavorite func(protocol.PeerID) bool) *MessageCache {
	return &MessageCache{
		registry:   registry,
		isFavorite: isFavorite,
		capacity:   DefaultCacheCapacity,
	}
}

// AttachSpool adds a durable backend; entries then survive restarts and
// inherit the spool's expiry policy.
func (c *MessageCache) AttachSpool(spool Spool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spool = spool
}

// ShouldCacheForPeer reports whether messages for this peer should be
// cached: the application marks it favorite and it is not currently active.
func (c *MessageCache) ShouldCacheForPeer(id protocol.PeerID) bool {
	if id.IsBroadcast() {
		return false
	}
	return c.isFavorite(id) && !c.registry.IsActive(id)
}

// CacheMessage inserts a packet for later delivery, subject to the
// capacity bound (FIFO eviction).
func (c *MessageCache) CacheMessage(pkt *protocol.Packet, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spool != nil {
		err := c.spool.Enqueue(pkt.RecipientID.String(), messageID, pkt.Encode())
		if err == nil {
			return
		}
		log.Printf("Spool enqueue failed, falling back to memory: %v", err)
	}

	for _, entry := range c.entries {
		if entry.messageID == messageID {
			return
		}
	}

	if len(c.entries) >= c.capacity {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, &cacheEntry{
		packet:    pkt,
		messageID: messageID,
		target:    pkt.RecipientID,
		cachedAt:  time.Now(),
	})
}

// SendCachedMessages delivers all entries targeted at the peer in original
// enqueue order through the provided outbound path, then clears them.
func (c *MessageCache) SendCachedMessages(id protocol.PeerID, send func(*protocol.Packet)) int {
	packets := c.takeFor(id)
	for _, pkt := range packets {
		send(pkt)
	}
	return len(packets)
}

// Depth returns the number of cached entries
func (c *MessageCache) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spool != nil {
		if total, err := c.spool.Total(); err == nil {
			return total + len(c.entries)
		}
	}
	return len(c.entries)
}

// Shutdown closes the durable backend, if any
func (c *MessageCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spool != nil {
		if err := c.spool.Close(); err != nil {
			log.Printf("Spool close failed: %v", err)
		}
		c.spool = nil
	}
	c.entries = nil
}

func (c *MessageCache) takeFor(id protocol.PeerID) []*protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	var packets []*protocol.Packet

	if c.spool != nil {
		spooled, err := c.spool.Drain(id.String())
		if err != nil {
			log.Printf("Spool drain failed for %s: %v", id, err)
		}
		for _, entry := range spooled {
			pkt, err := protocol.Decode(entry.Packet)
			if err != nil {
				log.Printf("Dropping undecodable spooled packet %s: %v", entry.MessageID, err)
				continue
			}
			packets = append(packets, pkt)
		}
	}

	remaining := c.entries[:0]
	for _, entry := range c.entries {
		if entry.target == id {
			packets = append(packets, entry.packet)
		} else {
			remaining = append(remaining, entry)
		}
	}
	c.entries = remaining

	return packets
}
