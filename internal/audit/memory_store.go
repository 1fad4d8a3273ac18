package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory audit store for demo/development mode.
type MemoryStore struct {
	events []*Event
	mu     sync.Mutex
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(ctx context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

// Events returns a snapshot of all recorded events (test helper).
func (m *MemoryStore) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}
