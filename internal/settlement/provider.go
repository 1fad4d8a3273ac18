package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
)

// OffRampRequest asks the provider to sweep funds to a fiat destination.
// InvocationID is the idempotency key: repeated requests with the same id
// must return the original result without moving money twice.
type OffRampRequest struct {
	InvocationID string
	Destination  string
	Amount       string
	Currency     string
}

// OffRampResult is the provider's settlement record.
type OffRampResult struct {
	TransactionID string
	ProcessedAt   time.Time
}

// Provider executes the fiat off-ramp.
type Provider interface {
	ProcessOffRamp(ctx context.Context, req OffRampRequest) (*OffRampResult, error)
}

// MockProvider is the no-provider-configured implementation: deterministic
// success with a little simulated latency, idempotent per invocation id.
type MockProvider struct {
	latency time.Duration
	results map[string]*OffRampResult
	failing map[string]error
	mu      sync.Mutex
}

// NewMockProvider creates a new mock off-ramp provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		latency: 50 * time.Millisecond,
		results: make(map[string]*OffRampResult),
		failing: make(map[string]error),
	}
}

func (m *MockProvider) ProcessOffRamp(ctx context.Context, req OffRampRequest) (*OffRampResult, error) {
	m.mu.Lock()
	if prior, ok := m.results[req.InvocationID]; ok {
		m.mu.Unlock()
		return prior, nil
	}
	if err, ok := m.failing[req.Destination]; ok {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	select {
	case <-time.After(m.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result := &OffRampResult{
		TransactionID: idgen.WithPrefix("po_"),
		ProcessedAt:   time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.results[req.InvocationID]; ok {
		return prior, nil
	}
	m.results[req.InvocationID] = result
	return result, nil
}

// FailDestination makes off-ramps to a destination error (test helper).
func (m *MockProvider) FailDestination(destination string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("off-ramp rejected for %s", destination)
	}
	m.failing[destination] = err
}

// ClearFailure removes a destination failure (test helper).
func (m *MockProvider) ClearFailure(destination string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failing, destination)
}
