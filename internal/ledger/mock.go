package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockClient is an in-memory ledger used in tests and when no ledger service
// is configured. It records every increment and can be told to fail.
type MockClient struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	calls    int
	failNext int
	failErr  error
	delay    time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{balances: make(map[uuid.UUID]decimal.Decimal)}
}

// FailNext makes the following n increment calls return err.
func (m *MockClient) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// SetDelay makes every increment call sleep first, simulating a slow ledger.
func (m *MockClient) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockClient) IncrementBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	m.balances[userID] = m.balances[userID].Add(delta)
	return nil
}

// Balance returns the accumulated balance for a user.
func (m *MockClient) Balance(userID uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

// Calls returns how many increment invocations were made, including failures.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
