package app

import (
	"sync"
	"sync/atomic"

	"github.com/yourusername/wallcache-go/internal/domain"
)

// ProgressHub fans batch progress out to any number of subscribers.
// Publishing never blocks; a subscriber whose buffer is full misses events.
type ProgressHub struct {
	mu          sync.RWMutex
	subscribers map[int]chan domain.ProgressEvent
	nextID      int
	buffer      int
	dropped     atomic.Int64
}

// NewProgressHub creates a hub giving each subscriber buffer pending events
func NewProgressHub(buffer int) *ProgressHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &ProgressHub{
		subscribers: make(map[int]chan domain.ProgressEvent),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *ProgressHub) Subscribe() (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer
func (h *ProgressHub) Publish(ev domain.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *ProgressHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (h *ProgressHub) Dropped() int64 {
	return h.dropped.Load()
}
