package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// CombinedKeySize is the size of the public key material exchanged
	// between peers: X25519 agreement key followed by Ed25519 signing key.
	CombinedKeySize = 32 + ed25519.PublicKeySize

	sessionKeySize = 32
)

var (
	ErrInvalidKey = errors.New("invalid key material")
	ErrNoPeerKey  = errors.New("no key known for peer")
)

// Service provides the cryptographic capability consumed by the mesh
// engine: key agreement, authenticated encryption, and signatures. The
// engine never touches raw key bytes except through this type.
type Service struct {
	agreementPrivate [32]byte
	agreementPublic  [32]byte
	signingKey       ed25519.PrivateKey
	verifyKey        ed25519.PublicKey

	mu          sync.RWMutex
	peerVerify  map[string]ed25519.PublicKey
	sessionKeys map[string][]byte
}

// NewService generates a fresh key pair set for this node
func NewService() (*Service, error) {
	s := &Service{
		peerVerify:  make(map[string]ed25519.PublicKey),
		sessionKeys: make(map[string][]byte),
	}

	if _, err := rand.Read(s.agreementPrivate[:]); err != nil {
		return nil, fmt.Errorf("failed to generate agreement key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.agreementPublic, &s.agreementPrivate)

	verifyKey, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	s.signingKey = signingKey
	s.verifyKey = verifyKey

	return s, nil
}

// PublicKeyData returns the combined key material to place in a key
// exchange payload: [X25519 public (32)] + [Ed25519 public (32)].
func (s *Service) PublicKeyData() []byte {
	data := make([]byte, CombinedKeySize)
	copy(data[:32], s.agreementPublic[:])
	copy(data[32:], s.verifyKey)
	return data
}

// AddPeerKey ingests a peer's combined key material and derives the shared
// session key. Re-adding the same material is idempotent.
func (s *Service) AddPeerKey(peerID string, data []byte) error {
	if len(data) != CombinedKeySize {
		return ErrInvalidKey
	}

	var peerAgreement [32]byte
	copy(peerAgreement[:], data[:32])

	shared, err := curve25519.X25519(s.agreementPrivate[:], peerAgreement[:])
	if err != nil {
		return fmt.Errorf("key agreement failed: %w", err)
	}

	// HKDF over the raw DH output, bound to the protocol label
	kdf := hkdf.New(newBlake2b, shared, nil, []byte("zentalk-mesh-session-v1"))
	sessionKey := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(kdf, sessionKey); err != nil {
		return fmt.Errorf("session key derivation failed: %w", err)
	}

	verify := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(verify, data[32:])

	s.mu.Lock()
	s.peerVerify[peerID] = verify
	s.sessionKeys[peerID] = sessionKey
	s.mu.Unlock()

	return nil
}

// HasSession reports whether a session key exists for the peer
func (s *Service) HasSession(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessionKeys[peerID]
	return ok
}

// RemovePeer drops the peer's session and verification key
func (s *Service) RemovePeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peerVerify, peerID)
	delete(s.sessionKeys, peerID)
}

// Encrypt encrypts data for a peer using the established session key
func (s *Service) Encrypt(data []byte, peerID string) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.sessionKeys[peerID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoPeerKey
	}
	return AESEncryptGCM(data, key)
}

// Decrypt decrypts data from a peer using the established session key
func (s *Service) Decrypt(data []byte, peerID string) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.sessionKeys[peerID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoPeerKey
	}
	return AESDecryptGCM(data, key)
}

// Sign signs data with this node's Ed25519 signing key
func (s *Service) Sign(data []byte) []byte {
	return ed25519.Sign(s.signingKey, data)
}

// Verify verifies a signature against the peer's known verification key.
// Returns false when no key is known for the peer.
func (s *Service) Verify(data, signature []byte, peerID string) bool {
	s.mu.RLock()
	verify, ok := s.peerVerify[peerID]
	s.mu.RUnlock()
	if !ok || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(verify, data, signature)
}

func newBlake2b() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails on oversized keys; we pass none
		panic(err)
	}
	return h
}
