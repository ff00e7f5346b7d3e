// Package stream fans committed board events out to connected clients.
package stream

import "sync"

// Hub is the per-process subscriber registry for the push channel. Each
// SSE connection holds one subscription; slow subscribers drop messages
// rather than stall the broadcast.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber and returns its channel together
// with a cancel func that must be called when the connection ends.
func (h *Hub) Subscribe() (ch chan []byte, cancel func()) {
	ch = make(chan []byte, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// Broadcast delivers data to every subscriber. A subscriber whose buffer
// is full misses the message; it resynchronizes from the next snapshot.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
