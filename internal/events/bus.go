// Package events is the in-process notification bus between the portal components.
package events

import (
	"sync"

	"portal/internal/logging"
)

type Topic string

const (
	// DraftChanged carries a DraftChange after an answer was persisted locally.
	DraftChanged Topic = "draft.changed"
	// IdentityChanged fires when the student identity was set, cleared or changed elsewhere.
	IdentityChanged Topic = "identity.changed"
	// StatusChanged carries the new status snapshot.
	StatusChanged Topic = "status.changed"
	// StoreImported fires after a backup was restored into the store.
	StoreImported Topic = "store.imported"
)

type Event struct {
	Topic   Topic
	Payload any
}

// DraftChange is the payload of DraftChanged.
type DraftChange struct {
	AssignmentID string
	SubID        string
	// Stored is false when the draft was blank and the key was removed.
	Stored bool
}

type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously, in subscription order, on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
	log    *logging.Logger
}

func NewBus(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{subs: make(map[Topic][]subscription), log: log.With("component", "events")}
}

// Subscribe registers handler for topic and returns a func that removes it.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.subs[topic]
	kept := make([]subscription, 0, len(current))
	for _, sub := range current {
		if sub.id != id {
			kept = append(kept, sub)
		}
	}
	b.subs[topic] = kept
}

// Publish runs every handler for the event's topic. A panicking handler is logged
// and does not stop delivery to the rest.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Topic]))
	for _, sub := range b.subs[event.Topic] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(event, handler)
	}
}

func (b *Bus) deliver(event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "topic", string(event.Topic), "panic", r)
		}
	}()
	handler(event)
}
