package mesh

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// Fragment payload layout:
//   fragmentID: 8 bytes | index: 2 bytes | total: 2 bytes |
//   originalType: 1 byte | chunk: remaining bytes
const fragmentHeaderSize = 8 + 2 + 2 + 1

const (
	// DefaultMaxChunkSize keeps each fragment within a conservative
	// single-frame budget on short-range transports.
	DefaultMaxChunkSize = 400

	// Incomplete groups older than this are evicted; a correctness bound
	// against truncated sequences and partial-fragment flooding.
	fragmentGroupTimeout = 30 * time.Second

	// Maximum concurrent in-flight groups across all peers
	maxFragmentGroups = 64
)

type fragmentKey struct {
	sender protocol.PeerID
	fragID uint64
}

type fragmentGroup struct {
	chunks   map[int][]byte
	total    int
	origType uint8
	created  time.Time
}

// FragmentAssembler splits oversized packets into relayable chunks and
// reassembles them on receipt. Partial state is expected and retained until
// complete or evicted.
type FragmentAssembler struct {
	mu     sync.Mutex
	groups map[fragmentKey]*fragmentGroup
}

// NewFragmentAssembler creates an empty assembler
func NewFragmentAssembler() *FragmentAssembler {
	return &FragmentAssembler{
		groups: make(map[fragmentKey]*fragmentGroup),
	}
}

// Fragmentize splits the packet's full wire encoding into an ordered
// sequence of fragment packets, each independently relayable. maxChunk <= 0
// selects DefaultMaxChunkSize.
func Fragmentize(pkt *protocol.Packet, maxChunk int) []*protocol.Packet {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkSize
	}

	encoded := pkt.Encode()
	total := (len(encoded) + maxChunk - 1) / maxChunk
	if total < 2 {
		// Nothing to split; callers check size before fragmenting
		return []*protocol.Packet{pkt}
	}

	var fragID uint64
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err == nil {
		fragID = binary.BigEndian.Uint64(idBytes[:])
	} else {
		fragID = uint64(time.Now().UnixNano())
	}

	fragments := make([]*protocol.Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunk
		end := start + maxChunk
		if end > len(encoded) {
			end = len(encoded)
		}

		payload := make([]byte, fragmentHeaderSize+end-start)
		binary.BigEndian.PutUint64(payload[0:8], fragID)
		binary.BigEndian.PutUint16(payload[8:10], uint16(i))
		binary.BigEndian.PutUint16(payload[10:12], uint16(total))
		payload[12] = pkt.Type
		copy(payload[fragmentHeaderSize:], encoded[start:end])

		fragType := protocol.PacketTypeFragmentContinue
		switch i {
		case 0:
			fragType = protocol.PacketTypeFragmentStart
		case total - 1:
			fragType = protocol.PacketTypeFragmentEnd
		}

		fragments = append(fragments, protocol.NewPacket(fragType, pkt.SenderID, pkt.RecipientID, pkt.TTL, payload))
	}

	return fragments
}

// HandleFragment accumulates one fragment chunk. It returns the fully
// reassembled packet only once a gap-free, complete sequence is held;
// otherwise (nil, false), which is not an error. Out-of-order and duplicate
// chunks are tolerated.
func (a *FragmentAssembler) HandleFragment(pkt *protocol.Packet) (*protocol.Packet, bool) {
	if len(pkt.Payload) < fragmentHeaderSize {
		return nil, false
	}

	fragID := binary.BigEndian.Uint64(pkt.Payload[0:8])
	index := int(binary.BigEndian.Uint16(pkt.Payload[8:10]))
	total := int(binary.BigEndian.Uint16(pkt.Payload[10:12]))
	origType := pkt.Payload[12]
	chunk := pkt.Payload[fragmentHeaderSize:]

	if total == 0 || index >= total {
		return nil, false
	}

	key := fragmentKey{sender: pkt.SenderID, fragID: fragID}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictLocked()

	group, ok := a.groups[key]
	if !ok {
		group = &fragmentGroup{
			chunks:   make(map[int][]byte),
			total:    total,
			origType: origType,
			created:  time.Now(),
		}
		a.groups[key] = group
	}
	if group.total != total {
		// Conflicting metadata for the same group; keep the first claim
		return nil, false
	}

	// Idempotent insert by index
	if _, dup := group.chunks[index]; !dup {
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		group.chunks[index] = buf
	}

	if len(group.chunks) < group.total {
		return nil, false
	}

	// Complete: join chunks in order and decode the original packet
	var encoded []byte
	for i := 0; i < group.total; i++ {
		part, ok := group.chunks[i]
		if !ok {
			return nil, false
		}
		encoded = append(encoded, part...)
	}
	delete(a.groups, key)

	original, err := protocol.Decode(encoded)
	if err != nil {
		log.Printf("Reassembled packet from %s failed to decode: %v", pkt.SenderID, err)
		return nil, false
	}
	if original.Type != group.origType {
		log.Printf("Reassembled packet type mismatch from %s", pkt.SenderID)
		return nil, false
	}

	return original, true
}

// PendingGroups returns the number of in-flight fragment groups
func (a *FragmentAssembler) PendingGroups() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// evictLocked drops timed-out groups and, if still over the cap, the oldest
func (a *FragmentAssembler) evictLocked() {
	for key, group := range a.groups {
		if time.Since(group.created) > fragmentGroupTimeout {
			delete(a.groups, key)
		}
	}

	for len(a.groups) >= maxFragmentGroups {
		var oldestKey fragmentKey
		var oldest time.Time
		first := true
		for key, group := range a.groups {
			if first || group.created.Before(oldest) {
				oldestKey = key
				oldest = group.created
				first = false
			}
		}
		delete(a.groups, oldestKey)
	}
}

// Shutdown discards all partial state
func (a *FragmentAssembler) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups = make(map[fragmentKey]*fragmentGroup)
}
