package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu             sync.RWMutex
	paymentEvents  []*PaymentEvent
	mintEvents     []*MintEvent
	seenIDs        map[string]bool
	publishError   error
	publishMintErr error
	closed         bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seenIDs: make(map[string]bool)}
}

// PublishPayment records the event and returns any configured error.
// Like JetStream, a repeated settlement for the same payment is dropped.
func (m *MockPublisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	id := event.Type + ":" + event.PaymentID
	if m.seenIDs[id] {
		return nil
	}
	m.seenIDs[id] = true
	m.paymentEvents = append(m.paymentEvents, event)
	return nil
}

// PublishMint records the event and returns any configured error.
func (m *MockPublisher) PublishMint(ctx context.Context, event *MintEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishMintErr != nil {
		return m.publishMintErr
	}
	m.mintEvents = append(m.mintEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPaymentEvents returns a copy of all published payment events.
func (m *MockPublisher) GetPaymentEvents() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaymentEvent, len(m.paymentEvents))
	copy(events, m.paymentEvents)
	return events
}

// GetPaymentEventsFor returns events published for one payment id.
func (m *MockPublisher) GetPaymentEventsFor(paymentID string) []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*PaymentEvent
	for _, event := range m.paymentEvents {
		if event.PaymentID == paymentID {
			events = append(events, event)
		}
	}
	return events
}

// GetMintEvents returns a copy of all published mint events.
func (m *MockPublisher) GetMintEvents() []*MintEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*MintEvent, len(m.mintEvents))
	copy(events, m.mintEvents)
	return events
}

// SetPublishError configures the mock to return an error on PublishPayment.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishMintError configures the mock to return an error on PublishMint.
func (m *MockPublisher) SetPublishMintError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishMintErr = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentEvents = nil
	m.mintEvents = nil
	m.seenIDs = make(map[string]bool)
	m.publishError = nil
	m.publishMintErr = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
