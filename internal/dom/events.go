package dom

import (
	"sort"
	"sync"
)

// Event is one input event reported by the view, addressed to a node
// ref assigned by this package.
type Event struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Value  string `json:"value,omitempty"`
	Key    string `json:"key,omitempty"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
}

// Handler consumes one dispatched event.
type Handler func(Event)

// Dispatcher routes view events to listeners registered by app
// sandboxes. Listener identity is the remove func returned by Add, so
// cleanup sweeps can detach exactly what they registered.
type Dispatcher struct {
	mu       sync.RWMutex
	seq      int
	handlers map[string]map[string]map[int]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]map[string]map[int]Handler)}
}

// Add registers a handler for (ref, event) and returns its remove func.
// Removing twice is a no-op.
func (d *Dispatcher) Add(ref, event string, h Handler) func() {
	d.mu.Lock()
	byEvent, ok := d.handlers[ref]
	if !ok {
		byEvent = make(map[string]map[int]Handler)
		d.handlers[ref] = byEvent
	}
	byKey, ok := byEvent[event]
	if !ok {
		byKey = make(map[int]Handler)
		byEvent[event] = byKey
	}
	d.seq++
	key := d.seq
	byKey[key] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		if byEvent, ok := d.handlers[ref]; ok {
			if byKey, ok := byEvent[event]; ok {
				delete(byKey, key)
				if len(byKey) == 0 {
					delete(byEvent, event)
				}
			}
			if len(byEvent) == 0 {
				delete(d.handlers, ref)
			}
		}
		d.mu.Unlock()
	}
}

// Dispatch invokes every handler registered for the event's target, in
// registration order, outside the dispatcher lock. Returns how many
// ran.
func (d *Dispatcher) Dispatch(ev Event) int {
	d.mu.RLock()
	var keys []int
	byKey := map[int]Handler{}
	if byEvent, ok := d.handlers[ev.Target]; ok {
		for k, h := range byEvent[ev.Type] {
			keys = append(keys, k)
			byKey[k] = h
		}
	}
	d.mu.RUnlock()

	sort.Ints(keys)
	for _, k := range keys {
		byKey[k](ev)
	}
	return len(keys)
}

// Count reports the number of registered handlers.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, byEvent := range d.handlers {
		for _, byKey := range byEvent {
			n += len(byKey)
		}
	}
	return n
}

// RemoveTarget drops every handler for a node ref, returning how many
// were removed. Used when a subtree leaves the document.
func (d *Dispatcher) RemoveTarget(ref string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, byKey := range d.handlers[ref] {
		n += len(byKey)
	}
	delete(d.handlers, ref)
	return n
}
