// ABOUTME: In-memory fan-out of session events to registered listeners
// ABOUTME: Delivers to a snapshot of listeners so callbacks may subscribe or unsubscribe mid-delivery

package conversation

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster holds the listeners of one session. Listeners are invoked
// synchronously, in registration order, on the goroutine that publishes.
type Broadcaster struct {
	mu        sync.RWMutex
	order     []string
	listeners map[string]Listener
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		listeners: make(map[string]Listener),
		logger:    logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a listener and returns its subscription id.
func (b *Broadcaster) Subscribe(l Listener) string {
	subID := uuid.New().String()

	b.mu.Lock()
	b.listeners[subID] = l
	b.order = append(b.order, subID)
	count := len(b.order)
	b.mu.Unlock()

	b.logger.Debug("listener added", "sub_id", subID, "listeners", count)
	return subID
}

// Unsubscribe removes a listener. It reports whether the id was registered.
func (b *Broadcaster) Unsubscribe(subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[subID]; !ok {
		return false
	}
	delete(b.listeners, subID)
	if i := slices.Index(b.order, subID); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}

	b.logger.Debug("listener removed", "sub_id", subID, "listeners", len(b.order))
	return true
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Publish delivers evt to every listener registered when the call began.
// Listeners added during delivery first hear the next event; listeners
// removed during delivery still receive this one.
func (b *Broadcaster) Publish(evt Event) {
	// Copy under read lock so listeners can mutate the set while we deliver
	b.mu.RLock()
	if len(b.order) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]Listener, 0, len(b.order))
	ids := make([]string, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.listeners[id])
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for i, l := range targets {
		if err := l(evt); err != nil {
			b.logger.Warn("listener returned error",
				"sub_id", ids[i],
				"event", evt.Type,
				"error", err)
		}
	}
}

// Close removes every listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.listeners)
	b.order = nil
	b.logger.Debug("broadcaster closed")
}
