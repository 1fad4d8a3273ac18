package intent

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory intent store for demo/development mode.
type MemoryStore struct {
	intents map[string]*Intent
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory intent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

func (m *MemoryStore) Insert(ctx context.Context, it *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[it.ID] = copyIntent(it)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntent(it), nil
}

func (m *MemoryStore) Update(ctx context.Context, it *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.intents[it.ID]; !ok {
		return ErrNotFound
	}
	m.intents[it.ID] = copyIntent(it)
	return nil
}

func copyIntent(it *Intent) *Intent {
	cp := *it
	cp.Phases = append([]Phase(nil), it.Phases...)
	if it.Escrow != nil {
		e := *it.Escrow
		cp.Escrow = &e
	}
	if it.Metadata != nil {
		cp.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
