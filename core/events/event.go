package events

import (
	"sync"

	"arrayledger/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. logs, journal).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted inside a unit so they can be published once
// the unit has committed, and dropped if it has not.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Multi fans out every event to each of the wrapped emitters.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(ev Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
}
