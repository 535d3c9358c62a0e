// Package bus fans watcher events out to subscribers (console printer,
// overlay stream, snapshot log).
package bus

import (
	"log/slog"
	"sort"
	"sync"
)

// Event is one published event. Name is one of the protocol event names.
type Event struct {
	Name    string
	Payload any
}

// EventHandler receives events. Handlers run on the publisher's goroutine
// and must not block; slow consumers should queue.
type EventHandler func(Event)

// Bus is a synchronous broadcast bus keyed by subscriber ID.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous handler
// with that id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Broadcast delivers ev to every subscriber in ID order. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	handlers := make([]EventHandler, len(ids))
	sort.Strings(ids)
	for i, id := range ids {
		handlers[i] = b.subscribers[id]
	}
	b.mu.RUnlock()

	for i, h := range handlers {
		deliver(ids[i], h, ev)
	}
}

func deliver(id string, h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked", "subscriber", id, "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}
