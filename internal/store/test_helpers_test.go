package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/msgpass/internal/clock"
	"github.com/roach88/msgpass/internal/message"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMessage creates a vector-stamped message with minimal fields.
func createTestMessage(src, dest string, seq int64, ts ...int64) message.TimedMessage {
	return message.TimedMessage{
		Message:   message.Message{Source: src, Destination: dest, Kind: "ping", Seq: seq, Payload: []byte("hello")},
		Timestamp: clock.Vector(ts...),
	}
}
