package mesh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/crypto"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
)

const (
	// Announces propagate on a deliberately lower hop budget than messages
	announceTTL = 3

	// Leave notices reach the local neighborhood only
	leaveTTL = 1

	// Grace period for the leave packet to egress before teardown
	shutdownGrace = 200 * time.Millisecond

	// Post-key-exchange choreography: the peer must learn our identity
	// before receiving cached content.
	directAnnounceDelay = 100 * time.Millisecond
	cacheFlushDelay     = 500 * time.Millisecond

	// Encoded packets above this size are fragmented before transmission
	maxSinglePacketSize = DefaultMaxChunkSize

	staleSweepInterval = 30 * time.Second
	staleAfter         = 3 * time.Minute
)

var ErrNoSession = errors.New("no session established with peer")

// Config assembles a Coordinator's collaborators
type Config struct {
	Nickname   string
	Transport  Transport
	Encryption EncryptionService
	Delegate   Delegate
	Spool      Spool // optional durable store-and-forward backend
}

// Coordinator is the mesh façade: it owns this node's identity, composes
// and signs/encrypts outbound packets, runs the announce and key-exchange
// choreography, and wires every component to the transport and application.
type Coordinator struct {
	ownID    protocol.PeerID
	nickname string

	transport Transport
	delegate  Delegate

	registry   *PeerRegistry
	fragments  *FragmentAssembler
	security   *SecurityManager
	cache      *MessageCache
	handler    *MessageHandler
	dispatcher *Dispatcher

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// NewCoordinator builds and wires the full engine. The returned coordinator
// is inert until Start.
func NewCoordinator(cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		ownID:     protocol.GeneratePeerID(),
		nickname:  cfg.Nickname,
		transport: cfg.Transport,
		delegate:  cfg.Delegate,
		ctx:       ctx,
		cancel:    cancel,
	}

	c.registry = NewPeerRegistry(DefaultFreshnessWindow)
	c.fragments = NewFragmentAssembler()
	c.security = NewSecurityManager(cfg.Encryption)
	c.cache = NewMessageCache(c.registry, cfg.Delegate.IsFavorite)
	if cfg.Spool != nil {
		c.cache.AttachSpool(cfg.Spool)
	}
	c.handler = NewMessageHandler(c.ownID, c.Nickname, c.security, c.registry, c.cache,
		cfg.Delegate, c.transmitJittered)
	c.dispatcher = NewDispatcher(c.security, c.registry, c.fragments, c.handler, c.handleKeyExchange)

	cfg.Transport.SetReceiver(c)

	return c
}

// PeerID returns this node's identifier
func (c *Coordinator) PeerID() protocol.PeerID {
	return c.ownID
}

// Nickname returns this node's display name
func (c *Coordinator) Nickname() string {
	return c.nickname
}

// Registry exposes the peer registry for read-side application queries
func (c *Coordinator) Registry() *PeerRegistry {
	return c.registry
}

// Start brings the transport up and runs the startup announce schedule:
// three transmissions with increasing randomized jitter, surviving the
// transport's unreliability.
func (c *Coordinator) Start() error {
	if !c.transport.StartServices() {
		return fmt.Errorf("transport failed to start")
	}
	c.startTime = time.Now()

	log.Printf("Mesh started: peer %s (%q)", c.ownID, c.nickname)

	c.afterJitter(0, 100*time.Millisecond, func() { c.sendAnnounce(protocol.BroadcastID) })
	c.afterJitter(500*time.Millisecond, time.Second, func() { c.sendAnnounce(protocol.BroadcastID) })
	c.afterJitter(time.Second, 1500*time.Millisecond, func() { c.sendAnnounce(protocol.BroadcastID) })

	c.wg.Add(1)
	go c.sweepLoop()

	return nil
}

// OnPacketReceived dispatches each inbound packet on its own goroutine
func (c *Coordinator) OnPacketReceived(pkt *protocol.Packet, fromPeer protocol.PeerID, handle string) {
	go c.dispatcher.HandlePacket(pkt, fromPeer)
}

// OnDeviceConnected starts the session choreography with a newly reachable
// device by offering this node's key material.
func (c *Coordinator) OnDeviceConnected(handle string) {
	c.sendKeyExchange()
}

// SendBroadcastMessage composes, signs, and floods a public chat message at
// the full hop budget. Returns the client-generated message ID.
func (c *Coordinator) SendBroadcastMessage(content string, mentions []string, channel string) (string, error) {
	msg := &protocol.Message{
		ID:             newMessageID(),
		SenderNickname: c.nickname,
		SenderPeerID:   c.ownID,
		Content:        content,
		Timestamp:      protocol.NowUnixMilli(),
		Mentions:       mentions,
		Channel:        channel,
	}

	payload, err := msg.Encode()
	if err != nil {
		return "", err
	}

	pkt := protocol.NewPacket(protocol.PacketTypeMessage, c.ownID, protocol.BroadcastID, protocol.MaxTTL, payload)
	pkt.Signature = c.security.SignPacket(pkt.SignedBytes())

	c.sendLarge(pkt)
	return msg.ID, nil
}

// SendPrivateMessage pads, encrypts, and signs a direct message for the
// recipient's session. With no session established nothing is transmitted
// and nothing is cached. An offline favorite recipient gets the packet
// spooled before transmission.
func (c *Coordinator) SendPrivateMessage(content string, recipient protocol.PeerID, recipientNickname string) (string, error) {
	msg := &protocol.Message{
		ID:                newMessageID(),
		SenderNickname:    c.nickname,
		SenderPeerID:      c.ownID,
		Content:           content,
		Timestamp:         protocol.NowUnixMilli(),
		IsPrivate:         true,
		RecipientNickname: recipientNickname,
	}

	payload, err := msg.Encode()
	if err != nil {
		return "", err
	}

	padded := protocol.Pad(payload, protocol.OptimalBlockSize(len(payload)))
	ciphertext, ok := c.security.EncryptForPeer(padded, recipient)
	if !ok {
		return "", ErrNoSession
	}

	pkt := protocol.NewPacket(protocol.PacketTypeMessage, c.ownID, recipient, protocol.MaxTTL, ciphertext)
	pkt.Signature = c.security.SignPacket(pkt.SignedBytes())

	if c.cache.ShouldCacheForPeer(recipient) {
		c.cache.CacheMessage(pkt, msg.ID)
	}

	c.sendLarge(pkt)
	return msg.ID, nil
}

// SendReadReceipt tells a message's sender it has been read
func (c *Coordinator) SendReadReceipt(originalMessageID string, to protocol.PeerID) {
	receipt := &protocol.ReadReceipt{
		OriginalMessageID: originalMessageID,
		ReceiptID:         newMessageID(),
		ReaderID:          c.ownID,
		ReaderNickname:    c.nickname,
		Timestamp:         protocol.NowUnixMilli(),
	}

	pkt := protocol.NewPacket(protocol.PacketTypeReadReceipt, c.ownID, to, ackTTL, receipt.Encode())
	pkt.Signature = c.security.SignPacket(pkt.SignedBytes())
	c.transmitJittered(pkt)
}

// Shutdown floods a leave notice to the immediate neighborhood, waits a
// short grace period for it to egress, then tears components down in fixed
// order so none observes a torn-down dependency.
func (c *Coordinator) Shutdown() {
	leave := protocol.NewPacket(protocol.PacketTypeLeave, c.ownID, protocol.BroadcastID, leaveTTL, []byte(c.nickname))
	leave.Signature = c.security.SignPacket(leave.SignedBytes())
	c.transmitNow(leave)

	time.Sleep(shutdownGrace)

	c.dispatcher.Shutdown()
	c.fragments.Shutdown()
	c.cache.Shutdown()
	c.security.Shutdown()
	c.registry.Shutdown()

	c.cancel()
	c.transport.StopServices()
	c.wg.Wait()

	log.Printf("Mesh stopped: peer %s", c.ownID)
}

// handleKeyExchange runs once per validated key exchange packet. On a newly
// established session it schedules the one-time direct announce followed by
// the cached-message flush; ordering matters, the peer must know this
// node's identity before receiving cached content.
func (c *Coordinator) handleKeyExchange(pkt *protocol.Packet, peerID protocol.PeerID) {
	isNew := c.security.HandleKeyExchange(pkt, peerID)
	if !isNew {
		return
	}

	log.Printf("Session established with %s", peerID)

	c.after(directAnnounceDelay, func() {
		if !c.registry.HasAnnouncedTo(peerID) {
			c.registry.MarkAnnouncedTo(peerID)
			c.sendAnnounce(peerID)
		}
	})
	c.after(cacheFlushDelay, func() {
		if n := c.cache.SendCachedMessages(peerID, c.transmitNow); n > 0 {
			log.Printf("Flushed %d cached messages to %s", n, peerID)
		}
	})
}

// sendAnnounce signs and sends this node's identity to the recipient
func (c *Coordinator) sendAnnounce(recipient protocol.PeerID) {
	pkt := protocol.NewPacket(protocol.PacketTypeAnnounce, c.ownID, recipient, announceTTL, []byte(c.nickname))
	pkt.Signature = c.security.SignPacket(pkt.SignedBytes())
	c.transmitNow(pkt)
}

// sendKeyExchange broadcasts this node's public key material one hop out
func (c *Coordinator) sendKeyExchange() {
	pkt := protocol.NewPacket(protocol.PacketTypeKeyExchange, c.ownID, protocol.BroadcastID, leaveTTL,
		c.security.enc.PublicKeyData())
	c.transmitNow(pkt)
}

// sendLarge fragments oversized packets; every chunk is independently
// relayable and jitter-delayed like any other transmission.
func (c *Coordinator) sendLarge(pkt *protocol.Packet) {
	if len(pkt.Encode()) <= maxSinglePacketSize {
		c.transmitJittered(pkt)
		return
	}
	for _, frag := range Fragmentize(pkt, DefaultMaxChunkSize) {
		c.transmitJittered(frag)
	}
}

// transmitJittered applies a randomized send delay before transmission to
// desynchronize simultaneous senders on a shared broadcast medium.
func (c *Coordinator) transmitJittered(pkt *protocol.Packet) {
	c.afterJitter(50*time.Millisecond, 500*time.Millisecond, func() {
		c.transmitNow(pkt)
	})
}

func (c *Coordinator) transmitNow(pkt *protocol.Packet) {
	if err := c.transport.BroadcastPacket(pkt); err != nil {
		log.Printf("Broadcast failed: %v", err)
	}
}

// after runs fn once after a fixed cooperative delay, unless shut down
func (c *Coordinator) after(delay time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			fn()
		case <-c.ctx.Done():
		}
	}()
}

// afterJitter runs fn once after a uniformly random delay in [min, max)
func (c *Coordinator) afterJitter(min, max time.Duration, fn func()) {
	delay := min
	if max > min {
		delay += time.Duration(mrand.Int64N(int64(max - min)))
	}
	c.after(delay, fn)
}

// sweepLoop expires silent peers on the liveness timeout
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := c.registry.SweepStale(staleAfter)
			for id, nickname := range removed {
				if nickname == "" {
					nickname = c.delegate.NicknameForPeer(id)
				}
				c.security.RemovePeer(id)
				c.delegate.PeerDisconnected(id, nickname)
			}
			if len(removed) > 0 {
				c.delegate.PeerListUpdated(c.registry.AllPeers())
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func newMessageID() string {
	nonce, err := crypto.GenerateNonce(8)
	if err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(nonce)
}
