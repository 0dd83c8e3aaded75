package transport

import (
	"context"
	"log"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
)

const discoveryInterval = 20 * time.Second

// startDiscovery connects any configured bootstrap nodes, bootstraps the
// DHT, and keeps searching the rendezvous namespace for mesh peers.
func (t *GossipTransport) startDiscovery() {
	for _, addr := range t.cfg.BootstrapAddrs {
		if err := t.connectToAddr(addr); err != nil {
			log.Printf("Bootstrap connect to %s failed: %v", addr, err)
		}
	}

	if err := t.dht.Bootstrap(t.ctx); err != nil {
		log.Printf("DHT bootstrap warning: %v", err)
	}

	t.wg.Add(1)
	go t.findPeersLoop()
}

// findPeersLoop advertises this node under the rendezvous namespace and
// dials every peer found there.
func (t *GossipTransport) findPeersLoop() {
	defer t.wg.Done()

	namespace := topicPrefix + t.cfg.Rendezvous
	routingDiscovery := discovery.NewRoutingDiscovery(t.dht)
	util.Advertise(t.ctx, routingDiscovery, namespace)

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			peerChan, err := routingDiscovery.FindPeers(t.ctx, namespace)
			if err != nil {
				continue
			}
			t.dialDiscovered(peerChan)
		}
	}
}

func (t *GossipTransport) dialDiscovered(peerChan <-chan peer.AddrInfo) {
	for p := range peerChan {
		if p.ID == t.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if t.host.Network().Connectedness(p.ID) == network.Connected {
			continue
		}

		go func(info peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
			defer cancel()
			if err := t.host.Connect(ctx, info); err == nil {
				log.Printf("Connected to mesh peer %s", info.ID)
			}
		}(p)
	}
}

// connectToAddr dials a full multiaddr including the /p2p/ component
func (t *GossipTransport) connectToAddr(addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()
	return t.host.Connect(ctx, *info)
}
