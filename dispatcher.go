package channely

import (
	"log/slog"
	"sync"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// Handler is the generic event callback type. For application-defined events
// the data is the raw JSON payload (json.RawMessage); for the reserved
// lifecycle events it is the corresponding typed payload.
type Handler func(event string, data any)

type handlerEntry struct {
	id   uint64
	fn   Handler
	once bool
}

// dispatcher is the keyed callback collection owned by a single Channel.
type dispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]*handlerEntry
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		logger:   logger,
		handlers: make(map[string][]*handlerEntry),
	}
}

// on registers a callback and returns its unsubscribe closure.
func (d *dispatcher) on(event string, fn Handler, once bool) func() {
	d.mu.Lock()
	d.nextID++
	entry := &handlerEntry{id: d.nextID, fn: fn, once: once}
	d.handlers[event] = append(d.handlers[event], entry)
	d.mu.Unlock()

	return func() { d.remove(event, entry.id) }
}

// off removes all callbacks registered for an event.
func (d *dispatcher) off(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// removeAll clears every registration.
func (d *dispatcher) removeAll() {
	d.mu.Lock()
	d.handlers = make(map[string][]*handlerEntry)
	d.mu.Unlock()
}

func (d *dispatcher) remove(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[event]
	for i, e := range entries {
		if e.id == id {
			d.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// dispatch delivers an event to its specific subscribers, then to wildcard
// subscribers. Delivery uses a snapshot of the registrations, so subscribing
// or unsubscribing mid-dispatch never affects the current delivery. Once
// registrations are removed before their callback runs.
func (d *dispatcher) dispatch(event string, data any) {
	for _, entry := range d.snapshot(event) {
		d.invoke(entry, event, data)
	}
	if event == EventWildcard {
		return
	}
	for _, entry := range d.snapshot(EventWildcard) {
		d.invoke(entry, event, data)
	}
}

// snapshot copies the current entries for an event, unsubscribing any
// once-entries so their first invocation is also their last.
func (d *dispatcher) snapshot(event string) []*handlerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[event]
	if len(entries) == 0 {
		return nil
	}
	out := make([]*handlerEntry, len(entries))
	copy(out, entries)

	remaining := entries[:0]
	for _, e := range entries {
		if !e.once {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == 0 {
		delete(d.handlers, event)
	} else {
		d.handlers[event] = remaining
	}
	return out
}

// invoke runs one callback, isolating panics so a failing subscriber never
// prevents the rest from running.
func (d *dispatcher) invoke(entry *handlerEntry, event string, data any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", "event", event, "panic", r)
		}
	}()
	entry.fn(event, data)
}
