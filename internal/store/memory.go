package store

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps events in a slice guarded by a read-write mutex. Events
// are never dropped or replaced, so memory grows with every poll tick until
// the store is discarded.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds ev to the transcript.
//
// The event's Index is set to its position. A zero At is replaced with the
// current time.
func (m *MemoryStore) Append(ev Event) Event {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.mu.Lock()
	ev.Index = len(m.events)
	m.events = append(m.events, ev)
	m.mu.Unlock()

	return ev
}

// All returns a snapshot of the transcript in append order.
func (m *MemoryStore) All() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, len(m.events))
	copy(events, m.events)
	return events
}

// Len returns the number of recorded events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
