package bus

import (
	"context"
	"sync"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Memory is an in-process Bus. Delivery is synchronous: Publish returns
// after every subscriber has handled the message. A handler error is
// retried up to MaxDeliver times, mirroring the JetStream consumers.
type Memory struct {
	mu         sync.RWMutex
	published  map[Topic][]Message
	handlers   map[Topic][]Handler
	maxDeliver int
	closed     bool
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		published:  make(map[Topic][]Message),
		handlers:   make(map[Topic][]Handler),
		maxDeliver: 3,
	}
}

// Publish implements Publisher.
func (m *Memory) Publish(ctx context.Context, topic Topic, kind models.Kind, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	msg := Message{Topic: topic, Kind: kind, Payload: data}
	m.published[topic] = append(m.published[topic], msg)

	handlers := make([]Handler, len(m.handlers[topic]))
	copy(handlers, m.handlers[topic])
	m.mu.Unlock()

	// Handlers run outside the lock so they may publish themselves.
	for _, h := range handlers {
		m.deliver(ctx, h, msg)
	}
	return nil
}

// deliver hands msg to h, redelivering on error up to maxDeliver attempts.
func (m *Memory) deliver(ctx context.Context, h Handler, msg Message) {
	for attempt := 0; attempt < m.maxDeliver; attempt++ {
		if err := h(ctx, msg); err == nil {
			return
		}
	}
}

// Subscribe implements Subscriber. Ephemeral subscribers (empty consumer)
// first receive every message already published on the topic.
func (m *Memory) Subscribe(ctx context.Context, topic Topic, consumer string, handler Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.handlers[topic] = append(m.handlers[topic], handler)
	var history []Message
	if consumer == "" {
		history = append(history, m.published[topic]...)
	}
	m.mu.Unlock()

	for _, msg := range history {
		m.deliver(ctx, handler, msg)
	}
	return nil
}

// Purge forgets the retained history of every topic.
func (m *Memory) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.published = make(map[Topic][]Message)
	return nil
}

// Close implements Bus.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of everything published on topic.
func (m *Memory) Messages(topic Topic) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.published[topic]))
	copy(out, m.published[topic])
	return out
}

// Count returns the number of messages published on topic.
func (m *Memory) Count(topic Topic) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.published[topic])
}
