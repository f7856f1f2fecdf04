// Package broadcast fans progress events out to every connected observer.
// There is no per-job routing: clients receive everything and filter by
// job ID on their side.
package broadcast

import (
	"log/slog"
	"sync"

	"mediaforge/internal/models"
)

// Subscriber is the writable half of an observer connection. Both
// *websocket.Conn and test fakes satisfy it.
type Subscriber interface {
	WriteJSON(v any) error
	Close() error
}

// Hub holds the current set of subscribers. Delivery is best-effort: a
// subscriber whose write fails is dropped and closed, never retried.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Subscriber]struct{}

	// wmu serializes writes: events come from many job goroutines but each
	// connection only tolerates one writer at a time.
	wmu sync.Mutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Broadcast pushes the event to every current subscriber. With zero
// subscribers the event is dropped silently.
func (h *Hub) Broadcast(evt models.ProgressEvent) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	h.wmu.Lock()
	defer h.wmu.Unlock()
	for _, s := range subs {
		if err := s.WriteJSON(evt); err != nil {
			h.logger.Debug("dropping unwritable subscriber", "error", err)
			h.Unsubscribe(s)
			_ = s.Close()
		}
	}
}

// Count reports the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
