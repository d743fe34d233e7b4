// Package events fans completion events out to in-process subscribers such
// as websocket clients.
package events

import (
	"sync"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const defaultHistory = 100

// Hub is a non-blocking broadcaster. A subscriber whose buffer is full
// misses the event instead of stalling the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan domain.CompletionEvent
	nextID      int
	history     []domain.CompletionEvent
	maxHistory  int
	closed      bool
	logger      logger.Logger
}

func NewHub(maxHistory int, log logger.Logger) *Hub {
	if maxHistory <= 0 {
		maxHistory = defaultHistory
	}
	return &Hub{
		subscribers: make(map[int]chan domain.CompletionEvent),
		maxHistory:  maxHistory,
		logger:      log,
	}
}

// Publish implements submitter.EventPublisher.
func (h *Hub) Publish(ev domain.CompletionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.history = append(h.history, ev)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping completion event for slow subscriber", map[string]interface{}{
				"subscriber":    id,
				"submission_id": ev.SubmissionID,
			})
		}
	}
}

// Subscribe returns a channel of future events and a func that releases it.
// The channel is closed on release or when the hub closes.
func (h *Hub) Subscribe(buffer int) (<-chan domain.CompletionEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.CompletionEvent, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(c)
			}
		})
	}
}

// Recent returns up to n of the latest events, oldest first.
func (h *Hub) Recent(n int) []domain.CompletionEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	return append([]domain.CompletionEvent(nil), h.history[len(h.history)-n:]...)
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close releases every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publisher receives completion events.
type Publisher interface {
	Publish(ev domain.CompletionEvent)
}

// Fanout publishes to every non-nil publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ev domain.CompletionEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(ev)
		}
	}
}
