package tracker

import (
	"context"
	"sync"

	"github.com/star/azeltrack/internal/metrics"
)

// Hub keeps the most recent sample and fans new samples out to subscribers.
// Delivery never blocks the tracker: a subscriber whose buffer is full misses
// the sample.
type Hub struct {
	mu     sync.RWMutex
	latest *Sample
	subs   map[*Subscription]struct{}
	buffer int
}

// Subscription is a live feed of samples. C is closed by Close.
type Subscription struct {
	C <-chan Sample

	ch   chan Sample
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub whose subscriptions buffer up to buffer samples.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Emit records s as the latest sample and offers it to each subscriber.
func (h *Hub) Emit(_ context.Context, s Sample) error {
	h.mu.Lock()
	h.latest = &s
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- s:
		default:
			metrics.IncSubscriberDrops()
		}
	}
	return nil
}

// Latest returns the most recent sample, and false before the first one.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Sample{}, false
	}
	return *h.latest, true
}

// Subscribe registers a new subscription. The caller must Close it.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Sample, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unregisters the subscription and closes C. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
