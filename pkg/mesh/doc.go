// Package mesh implements the Zentalk mesh protocol engine.
//
// The engine relays encrypted chat messages between nearby devices over a
// broadcast-oriented, unreliable transport, forming a multi-hop mesh when
// no direct link exists between sender and recipient. There is no central
// coordinator: reach comes from every node re-flooding validated packets
// with a decremented hop budget.
//
// # Components
//
//   - PeerRegistry: known peers, nicknames, liveness, announce flags
//   - FragmentAssembler: splitting and reassembly of oversized packets
//   - SecurityManager: per-peer sessions, signing, replay suppression
//   - MessageCache: store-and-forward for offline favorite peers
//   - MessageHandler: application packet types and the relay policy
//   - Dispatcher: the single validated entry point for inbound packets
//   - Coordinator: identity, outbound composition, wiring, lifecycle
//
// The transport, the cryptographic primitives, and the application sit
// behind the Transport, EncryptionService, and Delegate capabilities; the
// engine owns no I/O and no key bytes of its own.
//
// # Concurrency
//
// Inbound packets are processed on independent goroutines, including
// concurrent packets from the same peer. Each component guards its own
// state; cross-component sequencing (announce before cache flush) is
// expressed as explicit ordered delays, never a blocking call chain.
package mesh
