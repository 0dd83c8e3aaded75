// Package transport adapts libp2p gossipsub to the mesh Transport
// capability: a broadcast-oriented, unreliable, duplicate-prone channel
// with no ordering guarantee, which is exactly what the engine assumes.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/routing"

	"github.com/ZentaChain/zentalk-mesh/pkg/mesh"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

// Topic namespace shared by all mesh nodes on a rendezvous
const topicPrefix = "zentalk-mesh/v1/"

// Config controls the gossip transport
type Config struct {
	ListenPort     int
	Rendezvous     string   // mesh name; nodes sharing it find each other
	BootstrapAddrs []string // optional multiaddrs of known nodes
}

// GossipTransport implements mesh.Transport over a libp2p gossipsub topic
type GossipTransport struct {
	cfg      Config
	receiver mesh.Receiver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	host  host.Host
	dht   *dht.IpfsDHT
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewGossipTransport creates an inert transport; StartServices brings it up
func NewGossipTransport(cfg Config) *GossipTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &GossipTransport{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetReceiver registers the inbound sink; must precede StartServices
func (t *GossipTransport) SetReceiver(r mesh.Receiver) {
	t.receiver = r
}

// StartServices creates the libp2p host, joins the mesh topic, and starts
// the inbound and discovery loops. Returns false on any setup failure; the
// engine surfaces that to the application without retrying.
func (t *GossipTransport) StartServices() bool {
	if t.receiver == nil {
		log.Printf("Transport started without a receiver")
		return false
	}

	var idht *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", t.cfg.ListenPort),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", t.cfg.ListenPort),
		),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(t.ctx, h, dht.Mode(dht.ModeServer))
			return idht, err
		}),
	)
	if err != nil {
		log.Printf("Failed to create libp2p host: %v", err)
		return false
	}
	t.host = h
	t.dht = idht

	ps, err := pubsub.NewGossipSub(t.ctx, h)
	if err != nil {
		log.Printf("Failed to create gossipsub: %v", err)
		_ = h.Close()
		return false
	}
	t.ps = ps

	topic, err := ps.Join(topicPrefix + t.cfg.Rendezvous)
	if err != nil {
		log.Printf("Failed to join mesh topic: %v", err)
		_ = h.Close()
		return false
	}
	t.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		log.Printf("Failed to subscribe to mesh topic: %v", err)
		_ = h.Close()
		return false
	}
	t.sub = sub

	log.Printf("Transport up: host %s, topic %q", h.ID(), topicPrefix+t.cfg.Rendezvous)
	for _, addr := range h.Addrs() {
		log.Printf("   listening on %s/p2p/%s", addr, h.ID())
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.peerEventLoop()

	t.startDiscovery()

	return true
}

// StopServices tears the transport down
func (t *GossipTransport) StopServices() {
	t.cancel()
	if t.sub != nil {
		t.sub.Cancel()
	}
	if t.topic != nil {
		_ = t.topic.Close()
	}
	if t.dht != nil {
		_ = t.dht.Close()
	}
	if t.host != nil {
		_ = t.host.Close()
	}
	t.wg.Wait()
}

// BroadcastPacket publishes one encoded packet to every subscribed device
func (t *GossipTransport) BroadcastPacket(pkt *protocol.Packet) error {
	if t.topic == nil {
		return fmt.Errorf("transport not started")
	}
	return t.topic.Publish(t.ctx, pkt.Encode())
}

// readLoop surfaces inbound frames. Malformed packets are dropped here,
// before dispatch.
func (t *GossipTransport) readLoop() {
	defer t.wg.Done()

	for {
		msg, err := t.sub.Next(t.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}

		pkt, err := protocol.Decode(msg.Data)
		if err != nil {
			log.Printf("Dropping malformed frame from %s: %v", msg.ReceivedFrom, err)
			continue
		}

		t.receiver.OnPacketReceived(pkt, pkt.SenderID, msg.ReceivedFrom.String())
	}
}

// peerEventLoop reports devices joining the mesh topic
func (t *GossipTransport) peerEventLoop() {
	defer t.wg.Done()

	handler, err := t.topic.EventHandler()
	if err != nil {
		log.Printf("Failed to watch topic events: %v", err)
		return
	}

	for {
		ev, err := handler.NextPeerEvent(t.ctx)
		if err != nil {
			return
		}
		if ev.Type == pubsub.PeerJoin {
			t.receiver.OnDeviceConnected(ev.Peer.String())
		}
	}
}
