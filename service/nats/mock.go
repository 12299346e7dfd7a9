package nats

import (
	"context"
	"sync"

	"github.com/brojonat/voxpay/service/pipeline"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*PaymentEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*PaymentEvent, 0),
	}
}

// PublishEvent records the event and returns any configured error.
func (m *MockPublisher) PublishEvent(ctx context.Context, event *PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishPayment converts and records the outcome.
func (m *MockPublisher) PublishPayment(ctx context.Context, o *pipeline.Outcome) error {
	return m.PublishEvent(ctx, FromOutcome(o))
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaymentEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForSigner returns events published for one signer.
func (m *MockPublisher) GetPublishedEventsForSigner(address string) []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaymentEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Signer == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
