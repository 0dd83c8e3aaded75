package mesh

import (
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// DefaultFreshnessWindow bounds how long a silent peer counts as active
const DefaultFreshnessWindow = 30 * time.Second

type peerRecord struct {
	nickname    string
	lastSeen    time.Time
	announcedTo bool
}

// PeerRegistry tracks known peers, their nicknames, liveness, and per-peer
// protocol flags. It is the single source of truth for peer liveness and is
// safe for concurrent use from multiple inbound-processing paths.
type PeerRegistry struct {
	mu        sync.RWMutex
	peers     map[protocol.PeerID]*peerRecord
	freshness time.Duration
}

// NewPeerRegistry creates a registry with the given freshness window
func NewPeerRegistry(freshness time.Duration) *PeerRegistry {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &PeerRegistry{
		peers:     make(map[protocol.PeerID]*peerRecord),
		freshness: freshness,
	}
}

// AddOrUpdatePeer records a peer sighting. Returns true when the peer was
// not previously known. Nickname updates are last-writer-wins.
func (r *PeerRegistry) AddOrUpdatePeer(id protocol.PeerID, nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.peers[id]
	if !exists {
		r.peers[id] = &peerRecord{nickname: nickname, lastSeen: time.Now()}
		return true
	}

	if nickname != "" {
		rec.nickname = nickname
	}
	rec.lastSeen = time.Now()
	return false
}

// RemovePeer removes a peer from the registry
func (r *PeerRegistry) RemovePeer(id protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// UpdateLastSeen refreshes the peer's liveness timestamp
func (r *PeerRegistry) UpdateLastSeen(id protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.lastSeen = time.Now()
	}
}

// IsActive reports whether the peer was seen within the freshness window
func (r *PeerRegistry) IsActive(id protocol.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[id]
	return ok && time.Since(rec.lastSeen) < r.freshness
}

// ActiveCount returns the number of currently active peers
func (r *PeerRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.peers {
		if time.Since(rec.lastSeen) < r.freshness {
			count++
		}
	}
	return count
}

// Count returns the number of known peers, active or not
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ActivePeers returns the IDs of all currently active peers
func (r *PeerRegistry) ActivePeers() []protocol.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]protocol.PeerID, 0, len(r.peers))
	for id, rec := range r.peers {
		if time.Since(rec.lastSeen) < r.freshness {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllPeers returns the IDs of every known peer
func (r *PeerRegistry) AllPeers() []protocol.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]protocol.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// AllNicknames returns a snapshot of peer ID to nickname
func (r *PeerRegistry) AllNicknames() map[protocol.PeerID]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nicknames := make(map[protocol.PeerID]string, len(r.peers))
	for id, rec := range r.peers {
		nicknames[id] = rec.nickname
	}
	return nicknames
}

// Nickname returns the peer's last known nickname
func (r *PeerRegistry) Nickname(id protocol.PeerID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.peers[id]; ok {
		return rec.nickname
	}
	return ""
}

// HasAnnouncedTo reports whether an announce was already sent to the peer
func (r *PeerRegistry) HasAnnouncedTo(id protocol.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[id]
	return ok && rec.announcedTo
}

// MarkAnnouncedTo records that an announce was sent to the peer, so that
// redundant announce traffic is suppressed. Marking an unknown peer creates
// its record.
func (r *PeerRegistry) MarkAnnouncedTo(id protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	if !ok {
		rec = &peerRecord{lastSeen: time.Now()}
		r.peers[id] = rec
	}
	rec.announcedTo = true
}

// SweepStale removes peers not seen for staleAfter and returns them with
// their last known nicknames.
func (r *PeerRegistry) SweepStale(staleAfter time.Duration) map[protocol.PeerID]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make(map[protocol.PeerID]string)
	for id, rec := range r.peers {
		if time.Since(rec.lastSeen) > staleAfter {
			removed[id] = rec.nickname
			delete(r.peers, id)
		}
	}
	return removed
}

// Shutdown clears the registry
func (r *PeerRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[protocol.PeerID]*peerRecord)
}
