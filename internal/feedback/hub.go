package feedback

import (
	"sync"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// Hub fans feedback records out to in-process subscribers (the live
// log display). Broadcast never blocks: a subscriber whose buffer is
// full misses the record rather than stalling the consumption loop.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan models.FeedbackRecord
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan models.FeedbackRecord)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an unsubscribe function.
func (h *Hub) Subscribe(buffer int) (<-chan models.FeedbackRecord, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan models.FeedbackRecord, buffer)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Broadcast delivers a record to every subscriber that has room.
func (h *Hub) Broadcast(record models.FeedbackRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- record:
		default:
			// Slow subscriber; drop rather than block the consumer.
		}
	}
}
