// Package testutil provides shared test helpers for record stores and messaging.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/starford/dispatchd/internal/messaging"
	"github.com/starford/dispatchd/internal/storage"
)

// TestStore creates a temporary SQLite record store that is automatically cleaned up.
func TestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "dispatchd-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := storage.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Call is one recorded Messenger invocation.
type Call struct {
	Kind      string // "post", "update" or "dm"
	Target    string // channel or user id
	Timestamp string
	Text      string
}

// Messenger is an in-memory messaging.Messenger that records every call.
// Fail maps a call kind to the error it should return.
type Messenger struct {
	mu    sync.Mutex
	calls []Call
	seq   int

	Fail map[string]error
}

var _ messaging.Messenger = (*Messenger)(nil)

// NewMessenger returns an empty recorder.
func NewMessenger() *Messenger {
	return &Messenger{Fail: map[string]error{}}
}

// PostMessage records the post and returns a fresh timestamp.
func (m *Messenger) PostMessage(_ context.Context, channel, text string) (messaging.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail["post"]; err != nil {
		return messaging.Post{}, err
	}
	m.seq++
	ts := fmt.Sprintf("1700000000.%06d", m.seq)
	m.calls = append(m.calls, Call{Kind: "post", Target: channel, Timestamp: ts, Text: text})
	return messaging.Post{Channel: channel, Timestamp: ts}, nil
}

// UpdateMessage records the update.
func (m *Messenger) UpdateMessage(_ context.Context, channel, timestamp, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail["update"]; err != nil {
		return err
	}
	m.calls = append(m.calls, Call{Kind: "update", Target: channel, Timestamp: timestamp, Text: text})
	return nil
}

// DirectMessage records the DM.
func (m *Messenger) DirectMessage(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail["dm"]; err != nil {
		return err
	}
	m.calls = append(m.calls, Call{Kind: "dm", Target: userID, Text: text})
	return nil
}

// Calls returns a copy of every recorded call.
func (m *Messenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the recorded calls of one kind.
func (m *Messenger) CallsOf(kind string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded calls.
func (m *Messenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
