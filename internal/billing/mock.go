package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-memory processor used until a real integration is
// configured. It hands out stable external ids and remembers transitions so
// tests can assert on them.
type MockProvider struct {
	mu       sync.Mutex
	subs     map[string]string // externalID -> planName
	canceled map[string]bool
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		subs:     make(map[string]string),
		canceled: make(map[string]bool),
	}
}

func (m *MockProvider) CreateSubscription(ctx context.Context, userID, planName string) (*CheckoutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	externalID := "mock_sub_" + uuid.New().String()
	m.subs[externalID] = planName
	return &CheckoutResult{
		ExternalID:  externalID,
		CheckoutURL: fmt.Sprintf("https://billing.example.com/checkout/%s", externalID),
	}, nil
}

func (m *MockProvider) ChangePlan(ctx context.Context, externalID, planName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[externalID]; !ok {
		return fmt.Errorf("unknown subscription %s", externalID)
	}
	m.subs[externalID] = planName
	return nil
}

func (m *MockProvider) Cancel(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[externalID]; !ok {
		return fmt.Errorf("unknown subscription %s", externalID)
	}
	m.canceled[externalID] = true
	return nil
}

// Canceled reports whether Cancel was called for externalID.
func (m *MockProvider) Canceled(externalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled[externalID]
}
