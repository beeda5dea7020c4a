package isolation

import "sync"

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventSessionStarted EventType = iota
	EventSessionStopped
	EventProxyApplied
	EventProxyRestored
	EventTimezoneChanged
	EventLeakWarning
)

// Event carries data about something that happened in the subsystem.
type Event struct {
	Type    EventType
	Payload any
}

// SessionPayload is the payload for session lifecycle events.
type SessionPayload struct {
	Profile string
	Mode    Mode
}

// TimezonePayload is the payload for EventTimezoneChanged.
type TimezonePayload struct {
	Profile  string
	Timezone string
}

// LeakPayload is the payload for EventLeakWarning. Proxy-based modes
// cannot contain WebRTC and similar protocols that open sockets
// directly, so sessions in those modes carry a warning.
type LeakPayload struct {
	Profile string
	Vector  string
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between subsystem components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously.
func (eb *EventBus) Publish(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// PublishAsync fires an event to all subscribed handlers in goroutines.
func (eb *EventBus) PublishAsync(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		go h(e)
	}
}
