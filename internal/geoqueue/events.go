package geoqueue

import "sync"

type EventType string

const (
	EventDuplicateDetected   EventType = "duplicate_detected"
	EventConnectivityChanged EventType = "connectivity_changed"
	EventOutcomeLogged       EventType = "outcome_logged"
)

// Event is a typed notification for host listeners. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type    EventType      `json:"type"`
	Online  *bool          `json:"online,omitempty"`
	Record  string         `json:"record,omitempty"`
	Outcome *OutcomeRecord `json:"outcome,omitempty"`
}

// Bus fans events out to every subscriber. Dispatch is synchronous; a
// listener that must not block the engine should hand off to its own
// channel.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{listeners: map[int]func(Event){}}
}

func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	listeners := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}
}

func (b *Bus) publishDuplicate(record string) {
	b.Publish(Event{Type: EventDuplicateDetected, Record: record})
}

func (b *Bus) publishConnectivity(online bool) {
	b.Publish(Event{Type: EventConnectivityChanged, Online: &online})
}

func (b *Bus) publishOutcome(outcome OutcomeRecord) {
	b.Publish(Event{Type: EventOutcomeLogged, Outcome: &outcome})
}
