// Package store provides the durable backend for the mesh
// store-and-forward cache: a SQLite spool of encoded packets awaiting
// delivery to offline favorite peers.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-mesh/pkg/mesh"
)

// DefaultTTL is how long a spooled packet stays deliverable
const DefaultTTL = 7 * 24 * time.Hour

// Spool is a SQLite-backed packet queue implementing mesh.Spool
type Spool struct {
	db        *sql.DB
	ttl       time.Duration
	stop      chan struct{}
	closeOnce sync.Once
}

// NewSpool opens (creating if needed) a spool database. ttl of zero selects
// DefaultTTL.
func NewSpool(dbPath string, ttl time.Duration) (*Spool, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	s := &Spool{
		db:   db,
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	go s.cleanupExpired()

	return s, nil
}

func (s *Spool) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spooled_packets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient TEXT NOT NULL,
		message_id TEXT UNIQUE NOT NULL,
		packet BLOB NOT NULL,
		queued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spool_recipient ON spooled_packets(recipient);
	CREATE INDEX IF NOT EXISTS idx_spool_expires ON spooled_packets(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create spool schema: %v", err)
	}

	return nil
}

// Enqueue stores one encoded packet for a recipient. Re-enqueueing the same
// message ID is a no-op.
func (s *Spool) Enqueue(recipient, messageID string, packet []byte) error {
	now := time.Now().Unix()
	expiresAt := now + int64(s.ttl.Seconds())

	query := `
		INSERT OR IGNORE INTO spooled_packets (recipient, message_id, packet, queued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := s.db.Exec(query, recipient, messageID, packet, now, expiresAt); err != nil {
		return fmt.Errorf("failed to spool packet: %v", err)
	}

	log.Printf("📬 Spooled message %s for offline peer %s (expires in %v)", messageID, recipient, s.ttl)
	return nil
}

// Drain returns a recipient's unexpired packets in enqueue order and
// removes them.
func (s *Spool) Drain(recipient string) ([]mesh.SpoolEntry, error) {
	now := time.Now().Unix()

	rows, err := s.db.Query(`
		SELECT message_id, packet
		FROM spooled_packets
		WHERE recipient = ? AND expires_at > ?
		ORDER BY id ASC
	`, recipient, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool: %v", err)
	}
	defer rows.Close()

	var entries []mesh.SpoolEntry
	for rows.Next() {
		var entry mesh.SpoolEntry
		if err := rows.Scan(&entry.MessageID, &entry.Packet); err != nil {
			return nil, fmt.Errorf("failed to scan spooled packet: %v", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM spooled_packets WHERE recipient = ?`, recipient); err != nil {
		return nil, fmt.Errorf("failed to clear spool: %v", err)
	}

	return entries, nil
}

// Count returns the number of unexpired packets spooled for a recipient
func (s *Spool) Count(recipient string) (int, error) {
	now := time.Now().Unix()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM spooled_packets WHERE recipient = ? AND expires_at > ?`,
		recipient, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count spool: %v", err)
	}

	return count, nil
}

// Total returns the number of unexpired packets across all recipients
func (s *Spool) Total() (int, error) {
	now := time.Now().Unix()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM spooled_packets WHERE expires_at > ?`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count spool: %v", err)
	}

	return count, nil
}

// cleanupExpired periodically removes expired packets
func (s *Spool) cleanupExpired() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := s.db.Exec(`DELETE FROM spooled_packets WHERE expires_at <= ?`, time.Now().Unix())
			if err != nil {
				log.Printf("Failed to clean up expired spool entries: %v", err)
				continue
			}
			if count, _ := result.RowsAffected(); count > 0 {
				log.Printf("🧹 Cleaned up %d expired spool entries", count)
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the cleanup loop and closes the database. It is safe to call
// more than once; the coordinator and the process teardown may both own a
// reference to the same spool.
func (s *Spool) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	return s.db.Close()
}
