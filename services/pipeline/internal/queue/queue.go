// Package queue provides the hand-off buffer between a stage's consumer and
// its publish loop.
package queue

import "sync"

// Buffer accumulates items from one producer side and hands everything
// accumulated so far to the consumer side in one swap. Push never blocks;
// Ready signals that at least one item arrived since the last wake-up.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// New returns an empty buffer.
func New[T any]() *Buffer[T] {
	return &Buffer[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item and wakes the consumer.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Drain swaps out everything accumulated and leaves the buffer empty.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Ready is signalled after Push. A signal may cover several items.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Len returns the number of pending items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
