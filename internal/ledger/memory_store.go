package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
// A single mutex serializes ApplyEntry, which is the store-level atomicity
// guarantee the engine depends on.
type MemoryStore struct {
	accounts map[string]*Account
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
	}
}

func (m *MemoryStore) ApplyEntry(ctx context.Context, merchantID string, t EntryType, amount, reference, description string) (*Entry, error) {
	availDelta, reservedDelta, err := Deltas(t)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[merchantID]
	if !ok {
		acct = &Account{
			MerchantID: merchantID,
			Available:  "0",
			Pending:    "0",
			Reserved:   "0",
			TotalIn:    "0",
			TotalOut:   "0",
		}
		m.accounts[merchantID] = acct
	}

	avail, _ := money.Parse(acct.Available)
	reserved, _ := money.Parse(acct.Reserved)
	totalIn, _ := money.Parse(acct.TotalIn)
	totalOut, _ := money.Parse(acct.TotalOut)
	amt, _ := money.Parse(amount)

	before := money.Format(avail)

	switch availDelta {
	case 1:
		avail.Add(avail, amt)
	case -1:
		avail.Sub(avail, amt)
	}
	switch reservedDelta {
	case 1:
		reserved.Add(reserved, amt)
	case -1:
		reserved.Sub(reserved, amt)
	}
	inDelta, outDelta := flowDeltas(t)
	if inDelta == 1 {
		totalIn.Add(totalIn, amt)
	}
	if outDelta == 1 {
		totalOut.Add(totalOut, amt)
	}

	acct.Available = money.Format(avail)
	acct.Reserved = money.Format(reserved)
	acct.TotalIn = money.Format(totalIn)
	acct.TotalOut = money.Format(totalOut)
	acct.UpdatedAt = time.Now()

	entry := &Entry{
		ID:            idgen.WithPrefix("ent_"),
		MerchantID:    merchantID,
		Type:          t,
		Amount:        amount,
		Reference:     reference,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  money.Format(avail),
		CreatedAt:     time.Now(),
	}
	m.entries = append(m.entries, entry)

	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, merchantID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[merchantID]; ok {
		cp := *acct
		return &cp, nil
	}
	return &Account{
		MerchantID: merchantID,
		Available:  "0.000000",
		Pending:    "0.000000",
		Reserved:   "0.000000",
		TotalIn:    "0.000000",
		TotalOut:   "0.000000",
		UpdatedAt:  time.Now(),
	}, nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, merchantID string, filter EntryFilter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		e := m.entries[i]
		if e.MerchantID != merchantID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Reference != "" && e.Reference != filter.Reference {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// sumEntries is a test helper: net signed movement on available for a merchant.
func (m *MemoryStore) sumEntries(merchantID string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := new(big.Int)
	for _, e := range m.entries {
		if e.MerchantID != merchantID {
			continue
		}
		availDelta, _, _ := Deltas(e.Type)
		amt, _ := money.Parse(e.Amount)
		switch availDelta {
		case 1:
			total.Add(total, amt)
		case -1:
			total.Sub(total, amt)
		}
	}
	return total
}
