package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*TransferEvent
	publishError    error
	closed          bool
}

var _ Publisher = (*MockPublisher)(nil)

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*TransferEvent, 0),
	}
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// SetPublishError configures the mock to return an error on PublishTransfer.
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
