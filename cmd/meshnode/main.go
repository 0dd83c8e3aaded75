package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ZentaChain/zentalk-mesh/pkg/api"
	"github.com/ZentaChain/zentalk-mesh/pkg/crypto"
	"github.com/ZentaChain/zentalk-mesh/pkg/mesh"
	"github.com/ZentaChain/zentalk-mesh/pkg/protocol"
	"github.com/ZentaChain/zentalk-mesh/pkg/store"
	"github.com/ZentaChain/zentalk-mesh/pkg/transport"
)

const (
	defaultPort       = 9460
	defaultAPIPort    = 8080
	defaultRendezvous = "zentalk"
	statusInterval    = time.Minute
)

var (
	port       = flag.Int("port", defaultPort, "Transport listen port")
	apiPort    = flag.Int("api-port", defaultAPIPort, "Diagnostics HTTP port (0 disables)")
	nickname   = flag.String("nickname", "", "Display name announced to the mesh (required)")
	dataDir    = flag.String("data", "./data", "Data directory for the message spool")
	rendezvous = flag.String("rendezvous", defaultRendezvous, "Mesh name; nodes sharing it find each other")
	bootstrap  = flag.String("bootstrap", "", "Comma-separated multiaddrs of known nodes")
	favorites  = flag.String("favorites", "", "Comma-separated peer IDs eligible for store-and-forward")
	noSpool    = flag.Bool("no-spool", false, "Disable the durable message spool")
)

func main() {
	flag.Parse()

	printBanner()

	if *nickname == "" {
		log.Fatal("Error: -nickname flag is required")
	}

	enc, err := crypto.NewService()
	if err != nil {
		log.Fatalf("Failed to generate identity keys: %v", err)
	}
	log.Println("✓ Identity key pair generated")

	// Durable spool for offline favorite peers
	var spool *store.Spool
	if !*noSpool {
		if err := os.MkdirAll(*dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		spoolPath := filepath.Join(*dataDir, fmt.Sprintf("meshnode-%d-spool.db", *port))
		spool, err = store.NewSpool(spoolPath, 0)
		if err != nil {
			log.Fatalf("Failed to open message spool: %v", err)
		}
		log.Printf("📬 Message spool initialized at %s (TTL: %v)", spoolPath, store.DefaultTTL)
	} else {
		log.Println("⚠️  Durable spool disabled; cached messages are memory-only")
	}

	gossip := transport.NewGossipTransport(transport.Config{
		ListenPort:     *port,
		Rendezvous:     *rendezvous,
		BootstrapAddrs: splitList(*bootstrap),
	})

	delegate := newLoggingDelegate(splitList(*favorites))

	cfg := mesh.Config{
		Nickname:   *nickname,
		Transport:  gossip,
		Encryption: enc,
		Delegate:   delegate,
	}
	if spool != nil {
		cfg.Spool = spool
	}
	coordinator := mesh.NewCoordinator(cfg)

	if err := coordinator.Start(); err != nil {
		log.Fatalf("Failed to start mesh: %v", err)
	}
	coordinator.StartStatusTicker(statusInterval)

	log.Printf("✓ Mesh node running as %q (peer %s)", *nickname, coordinator.PeerID())

	var diag *api.Server
	if *apiPort > 0 {
		apiCfg := api.DefaultConfig()
		apiCfg.Port = *apiPort
		diag = api.NewServer(coordinator, apiCfg)
		diag.Start()
		log.Printf("✓ Diagnostics API on port %d", *apiPort)
	}

	waitForShutdown(coordinator, diag, spool)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║           Zentalk Mesh Node v1.0                 ║")
	fmt.Println("║      Privacy-preserving decentralized chat       ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func splitList(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(csv, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func waitForShutdown(coordinator *mesh.Coordinator, diag *api.Server, spool *store.Spool) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	if diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := diag.Stop(ctx); err != nil {
			log.Printf("Error stopping diagnostics API: %v", err)
		}
		cancel()
	}

	coordinator.Shutdown()
	log.Println("✓ Mesh engine stopped")

	if spool != nil {
		if err := spool.Close(); err != nil {
			log.Printf("Error closing spool: %v", err)
		} else {
			log.Println("✓ Message spool closed")
		}
	}

	log.Println("Goodbye! 👋")
	os.Exit(0)
}

// loggingDelegate is the headless application layer: it logs every mesh
// event and answers favorite lookups from the -favorites flag.
type loggingDelegate struct {
	mu        sync.RWMutex
	favorites map[string]bool
}

func newLoggingDelegate(favoriteIDs []string) *loggingDelegate {
	favs := make(map[string]bool, len(favoriteIDs))
	for _, id := range favoriteIDs {
		favs[strings.ToLower(id)] = true
	}
	return &loggingDelegate{favorites: favs}
}

func (d *loggingDelegate) DidReceiveMessage(msg *protocol.Message) {
	if msg.IsPrivate {
		log.Printf("💬 [private] %s: %s", msg.SenderNickname, msg.Content)
		return
	}
	if msg.Channel != "" {
		log.Printf("💬 [%s] %s: %s", msg.Channel, msg.SenderNickname, msg.Content)
		return
	}
	log.Printf("💬 %s: %s", msg.SenderNickname, msg.Content)
}

func (d *loggingDelegate) PeerConnected(id protocol.PeerID, nickname string) {
	log.Printf("👋 Peer joined: %s (%q)", id, nickname)
}

func (d *loggingDelegate) PeerDisconnected(id protocol.PeerID, nickname string) {
	log.Printf("👋 Peer left: %s (%q)", id, nickname)
}

func (d *loggingDelegate) PeerListUpdated(ids []protocol.PeerID) {
	log.Printf("Peer list updated: %d known", len(ids))
}

func (d *loggingDelegate) LeaveReceived(id protocol.PeerID, nickname string) {
	log.Printf("Peer %s (%q) left the channel", id, nickname)
}

func (d *loggingDelegate) DeliveryAckReceived(ack *protocol.DeliveryAck) {
	log.Printf("✓ Delivered to %s after %d hops (message %s)",
		ack.RecipientNickname, ack.HopCount, ack.OriginalMessageID)
}

func (d *loggingDelegate) ReadReceiptReceived(receipt *protocol.ReadReceipt) {
	log.Printf("✓ Read by %s (message %s)", receipt.ReaderNickname, receipt.OriginalMessageID)
}

func (d *loggingDelegate) DecryptChannelMessage(encrypted []byte, channel string) ([]byte, bool) {
	// Headless node holds no channel keys
	return nil, false
}

func (d *loggingDelegate) NicknameForPeer(id protocol.PeerID) string {
	return ""
}

func (d *loggingDelegate) IsFavorite(id protocol.PeerID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.favorites[strings.ToLower(id.String())]
}
