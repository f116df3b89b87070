// Package stream fans newly appended audit entries out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"mailvault.org/internal/ledger"
)

const defaultBuffer = 16

// Hub delivers ledger entries to every active subscriber. Slow subscribers
// miss entries instead of blocking the appender.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan ledger.Entry
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New returns an empty hub. A non-positive buffer uses the default size.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[int]chan ledger.Entry), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan ledger.Entry {
	ch := make(chan ledger.Entry, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish hands e to every subscriber with room in its buffer.
func (h *Hub) Publish(e ledger.Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for full buffers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
