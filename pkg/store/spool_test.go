package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestSpool(t *testing.T, ttl time.Duration) *Spool {
	t.Helper()

	s, err := NewSpool(filepath.Join(t.TempDir(), "spool.db"), ttl)
	if err != nil {
		t.Fatalf("NewSpool() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSpoolEnqueueDrain(t *testing.T) {
	s := newTestSpool(t, 0)

	packets := [][]byte{
		[]byte("packet one"),
		[]byte("packet two"),
		[]byte("packet three"),
	}
	for i, pkt := range packets {
		if err := s.Enqueue("aabbccdd", fmt.Sprintf("msg-%d", i), pkt); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	count, err := s.Count("aabbccdd")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	entries, err := s.Drain("aabbccdd")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Drain() returned %d entries, want 3", len(entries))
	}

	// Enqueue order preserved
	for i, entry := range entries {
		if entry.MessageID != fmt.Sprintf("msg-%d", i) {
			t.Errorf("entry %d MessageID = %q, want msg-%d", i, entry.MessageID, i)
		}
		if !bytes.Equal(entry.Packet, packets[i]) {
			t.Errorf("entry %d packet mismatch", i)
		}
	}

	// Drain removes
	count, _ = s.Count("aabbccdd")
	if count != 0 {
		t.Errorf("Count() = %d after drain, want 0", count)
	}
}

func TestSpoolDuplicateMessageID(t *testing.T) {
	s := newTestSpool(t, 0)

	if err := s.Enqueue("aabbccdd", "msg-1", []byte("original")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Enqueue("aabbccdd", "msg-1", []byte("duplicate")); err != nil {
		t.Fatalf("Enqueue() duplicate error = %v", err)
	}

	entries, err := s.Drain("aabbccdd")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Drain() returned %d entries after duplicate, want 1", len(entries))
	}
	if !bytes.Equal(entries[0].Packet, []byte("original")) {
		t.Error("duplicate enqueue replaced the original packet")
	}
}

func TestSpoolPerRecipientIsolation(t *testing.T) {
	s := newTestSpool(t, 0)

	_ = s.Enqueue("aaaa0000", "msg-a", []byte("for a"))
	_ = s.Enqueue("bbbb0000", "msg-b", []byte("for b"))

	total, err := s.Total()
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if total != 2 {
		t.Errorf("Total() = %d, want 2", total)
	}

	entries, err := s.Drain("aaaa0000")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(entries) != 1 || entries[0].MessageID != "msg-a" {
		t.Errorf("Drain(aaaa0000) = %v", entries)
	}

	count, _ := s.Count("bbbb0000")
	if count != 1 {
		t.Errorf("Count(bbbb0000) = %d after draining another recipient, want 1", count)
	}
}

func TestSpoolExpiry(t *testing.T) {
	s := newTestSpool(t, time.Second)

	if err := s.Enqueue("aabbccdd", "msg-1", []byte("short lived")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	entries, err := s.Drain("aabbccdd")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Drain() returned %d expired entries, want 0", len(entries))
	}
}

func TestSpoolCloseIdempotent(t *testing.T) {
	s, err := NewSpool(filepath.Join(t.TempDir(), "spool.db"), 0)
	if err != nil {
		t.Fatalf("NewSpool() error = %v", err)
	}

	// The coordinator shuts the spool down and process teardown closes it
	// again; the second call must not panic
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() second call error = %v", err)
	}
}

func TestSpoolReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	s, err := NewSpool(path, 0)
	if err != nil {
		t.Fatalf("NewSpool() error = %v", err)
	}
	if err := s.Enqueue("aabbccdd", "msg-1", []byte("durable")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSpool(path, 0)
	if err != nil {
		t.Fatalf("NewSpool() reopen error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Drain("aabbccdd")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(entries) != 1 || !bytes.Equal(entries[0].Packet, []byte("durable")) {
		t.Error("spooled packet did not survive a restart")
	}
}
