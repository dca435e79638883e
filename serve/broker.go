package serve

import (
	"sync"

	fleet "github.com/everydev1618/agentfleet"
)

const maxSubscribers = 50

// EventBroker fans out worker events to SSE subscribers.
type EventBroker struct {
	subscribers map[chan fleet.Event]struct{}
	mu          sync.RWMutex
}

// NewEventBroker creates a new broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subscribers: make(map[chan fleet.Event]struct{}),
	}
}

// Subscribe returns a channel that receives events, or nil when the
// subscriber limit is reached. The caller must call Unsubscribe when done.
func (b *EventBroker) Subscribe() chan fleet.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= maxSubscribers {
		return nil
	}

	ch := make(chan fleet.Event, 64)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *EventBroker) Unsubscribe(ch chan fleet.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Close closes all subscriber channels, causing SSE handlers to exit.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber.
func (b *EventBroker) Publish(event fleet.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, drop event
		}
	}
}
