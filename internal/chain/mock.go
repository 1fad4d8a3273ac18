package chain

import (
	"context"
	"sync"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
)

// MockAdapter is the no-chain-configured implementation. Every call succeeds
// deterministically and state is kept in memory, so the full payment
// lifecycle can run without an RPC endpoint.
type MockAdapter struct {
	orders      map[int64]*OrderState
	settlements map[int64]*SettlementState
	receipts    map[string]ReceiptStatus
	mu          sync.Mutex
}

// NewMockAdapter creates a new mock chain adapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		orders:      make(map[int64]*OrderState),
		settlements: make(map[int64]*SettlementState),
		receipts:    make(map[string]ReceiptStatus),
	}
}

// RegisterOrder seeds the mock contract with an order record. Called by the
// escrow lifecycle when an order is created in mock mode.
func (m *MockAdapter) RegisterOrder(orderID int64, buyer, amount string, autoRelease bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[orderID] = &OrderState{
		OrderID:       orderID,
		Buyer:         buyer,
		Amount:        amount,
		AutoReleaseOn: autoRelease,
	}
}

func (m *MockAdapter) GetOrderState(ctx context.Context, orderID int64) (*OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotOnChain
	}
	cp := *st
	return &cp, nil
}

func (m *MockAdapter) GetSettlementState(ctx context.Context, orderID int64) (*SettlementState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.settlements[orderID]
	if !ok {
		return &SettlementState{OrderID: orderID}, nil
	}
	cp := *st
	return &cp, nil
}

func (m *MockAdapter) SubmitDeliveryProof(ctx context.Context, orderID int64, proofHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.orders[orderID]
	if !ok {
		return "", ErrOrderNotOnChain
	}

	tx := m.newTx()
	st.Delivered = true
	st.DeliveredAt = time.Now()
	st.ProofHash = proofHash
	if st.AutoReleaseOn {
		// The mock contract releases instantly on proof.
		st.Released = true
	}
	return tx, nil
}

func (m *MockAdapter) ExecuteSettlement(ctx context.Context, orderID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.orders[orderID]
	if !ok {
		return "", ErrOrderNotOnChain
	}

	tx := m.newTx()
	st.Released = true
	st.SettlementTx = tx
	st.SettledAt = time.Now()
	m.settlements[orderID] = &SettlementState{OrderID: orderID, Executed: true, TxHash: tx}
	return tx, nil
}

func (m *MockAdapter) ConfirmSettlement(ctx context.Context, orderID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return "", ErrOrderNotOnChain
	}

	tx := m.newTx()
	set, ok := m.settlements[orderID]
	if !ok {
		set = &SettlementState{OrderID: orderID}
		m.settlements[orderID] = set
	}
	set.Confirmed = true
	return tx, nil
}

func (m *MockAdapter) ReceiptStatus(ctx context.Context, txHash string) (ReceiptStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status, ok := m.receipts[txHash]; ok {
		return status, nil
	}
	// Unknown hashes are treated as landed: mock mode never leaves a
	// transaction pending.
	return ReceiptSuccess, nil
}

// SetReceiptStatus overrides the status reported for a hash (test helper).
func (m *MockAdapter) SetReceiptStatus(txHash string, status ReceiptStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txHash] = status
}

func (m *MockAdapter) newTx() string {
	tx := "0x" + idgen.Hex(32)
	m.receipts[tx] = ReceiptSuccess
	return tx
}
