package escroworder

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	orders     map[int64]*Order
	byIntent   map[string]int64
	proofs     map[int64][]*DeliveryProof
	milestones map[int64]map[int]*Milestone
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[int64]*Order),
		byIntent:   make(map[string]int64),
		proofs:     make(map[int64][]*DeliveryProof),
		milestones: make(map[int64]map[int]*Milestone),
	}
}

func (m *MemoryStore) InsertOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ID] = copyOrder(o)
	if o.IntentID != "" {
		m.byIntent[o.IntentID] = o.ID
	}
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) GetOrderByIntent(ctx context.Context, intentID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIntent[intentID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(m.orders[id]), nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemoryStore) InsertProof(ctx context.Context, p *DeliveryProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.proofs[p.OrderID] = append(m.proofs[p.OrderID], &cp)
	return nil
}

func (m *MemoryStore) LatestProof(ctx context.Context, orderID int64) (*DeliveryProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	proofs := m.proofs[orderID]
	if len(proofs) == 0 {
		return nil, nil
	}
	cp := *proofs[len(proofs)-1]
	return &cp, nil
}

func (m *MemoryStore) InsertMilestone(ctx context.Context, ms *Milestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.milestones[ms.OrderID]
	if !ok {
		byIndex = make(map[int]*Milestone)
		m.milestones[ms.OrderID] = byIndex
	}
	if _, exists := byIndex[ms.Index]; exists {
		return ErrMilestoneExists
	}
	cp := *ms
	byIndex[ms.Index] = &cp
	return nil
}

func (m *MemoryStore) GetMilestone(ctx context.Context, orderID int64, index int) (*Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.milestones[orderID][index]
	if !ok {
		return nil, ErrMilestoneNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *MemoryStore) ListMilestones(ctx context.Context, orderID int64) ([]*Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Milestone
	for _, ms := range m.milestones[orderID] {
		cp := *ms
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Index < out[k].Index })
	return out, nil
}

func (m *MemoryStore) UpdateMilestone(ctx context.Context, ms *Milestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.milestones[ms.OrderID][ms.Index]; !ok {
		return ErrMilestoneNotFound
	}
	cp := *ms
	m.milestones[ms.OrderID][ms.Index] = &cp
	return nil
}

func copyOrder(o *Order) *Order {
	cp := *o
	return &cp
}
