package events

import "bdnprotocol/core/types"

// Event represents a structured state change emitted by the protocol engines.
type Event interface {
	EventType() string
}

// Renderable is implemented by events that can be flattened into the
// broadcastable attribute form consumed by indexers and RPC.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in emission order until they are drained. The
// protocol facade uses one per request so failed requests publish nothing.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}

// Render converts an event into its attribute form. Events without a
// renderer produce a bare type marker.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderable); ok {
		if rendered := r.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
