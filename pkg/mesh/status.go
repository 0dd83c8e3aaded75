package mesh

import (
	"fmt"
	"log"
	"time"
)

// StatusReport is a point-in-time aggregate of every component's internal
// counters. Diagnostic only; not part of the protocol.
type StatusReport struct {
	PeerID                string    `json:"peerId"`
	Nickname              string    `json:"nickname"`
	Uptime                string    `json:"uptime"`
	KnownPeers            int       `json:"knownPeers"`
	ActivePeers           int       `json:"activePeers"`
	ActiveSessions        int       `json:"activeSessions"`
	CacheDepth            int       `json:"cacheDepth"`
	PendingFragmentGroups int       `json:"pendingFragmentGroups"`
	PacketsReceived       uint64    `json:"packetsReceived"`
	PacketsRejected       uint64    `json:"packetsRejected"`
	PacketsRelayed        uint64    `json:"packetsRelayed"`
	PacketsDropped        uint64    `json:"packetsDropped"`
	GeneratedAt           time.Time `json:"generatedAt"`
}

// StatusReport assembles the diagnostic report on demand
func (c *Coordinator) StatusReport() StatusReport {
	return StatusReport{
		PeerID:                c.ownID.String(),
		Nickname:              c.nickname,
		Uptime:                time.Since(c.startTime).Round(time.Second).String(),
		KnownPeers:            c.registry.Count(),
		ActivePeers:           c.registry.ActiveCount(),
		ActiveSessions:        c.security.SessionCount(),
		CacheDepth:            c.cache.Depth(),
		PendingFragmentGroups: c.fragments.PendingGroups(),
		PacketsReceived:       c.dispatcher.ReceivedCount(),
		PacketsRejected:       c.dispatcher.RejectedCount(),
		PacketsRelayed:        c.handler.RelayedCount(),
		PacketsDropped:        c.handler.DroppedCount(),
		GeneratedAt:           time.Now(),
	}
}

// String renders the report human-readable
func (r StatusReport) String() string {
	return fmt.Sprintf(
		"peer=%s nick=%q up=%s peers=%d/%d sessions=%d cache=%d fragments=%d rx=%d rejected=%d relayed=%d dropped=%d",
		r.PeerID, r.Nickname, r.Uptime, r.ActivePeers, r.KnownPeers, r.ActiveSessions,
		r.CacheDepth, r.PendingFragmentGroups, r.PacketsReceived, r.PacketsRejected,
		r.PacketsRelayed, r.PacketsDropped)
}

// StartStatusTicker logs the aggregate report on a fixed interval until
// shutdown
func (c *Coordinator) StartStatusTicker(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				log.Printf("📊 %s", c.StatusReport())
			case <-c.ctx.Done():
				return
			}
		}
	}()
}
