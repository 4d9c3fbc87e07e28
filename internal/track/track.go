// Package track keeps per-app books on the timers and event listeners
// a sandbox creates, so window close can sweep the lot in one call.
// The tracker only records and releases; creating timers and attaching
// listeners stays with the sandbox's capability wrappers.
package track

import (
	"sort"
	"strconv"
	"sync"
)

// Resource describes one tracked item for the resource-manager app.
type Resource struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type timerEntry struct {
	kind   string
	cancel func()
}

type listenerEntry struct {
	target string
	event  string
	remove func()
}

// Tracker records one app's live resources. Safe for concurrent use;
// timer callbacks and sweep can race.
type Tracker struct {
	mu        sync.Mutex
	appID     string
	timers    map[int64]timerEntry
	listeners map[int64]listenerEntry
	nextKey   int64
}

// New creates an empty tracker for one app.
func New(appID string) *Tracker {
	return &Tracker{
		appID:     appID,
		timers:    make(map[int64]timerEntry),
		listeners: make(map[int64]listenerEntry),
	}
}

// AppID returns the owning app.
func (t *Tracker) AppID() string { return t.appID }

// AddTimer registers a live timer under the script-visible id. kind is
// "timeout" or "interval"; cancel stops the underlying timer.
func (t *Tracker) AddTimer(id int64, kind string, cancel func()) {
	t.mu.Lock()
	t.timers[id] = timerEntry{kind: kind, cancel: cancel}
	t.mu.Unlock()
}

// RemoveTimer cancels and forgets one timer. Fired or unknown ids
// return false.
func (t *Tracker) RemoveTimer(id int64) bool {
	t.mu.Lock()
	entry, ok := t.timers[id]
	delete(t.timers, id)
	t.mu.Unlock()

	if ok {
		entry.cancel()
	}
	return ok
}

// ForgetTimer drops a timer without cancelling, for one-shot timers
// that already fired.
func (t *Tracker) ForgetTimer(id int64) {
	t.mu.Lock()
	delete(t.timers, id)
	t.mu.Unlock()
}

// AddListener registers an attached listener and returns its key.
// remove detaches it from the dispatcher.
func (t *Tracker) AddListener(target, event string, remove func()) int64 {
	t.mu.Lock()
	t.nextKey++
	key := t.nextKey
	t.listeners[key] = listenerEntry{target: target, event: event, remove: remove}
	t.mu.Unlock()
	return key
}

// RemoveListener detaches and forgets one listener by key.
func (t *Tracker) RemoveListener(key int64) bool {
	t.mu.Lock()
	entry, ok := t.listeners[key]
	delete(t.listeners, key)
	t.mu.Unlock()

	if ok {
		entry.remove()
	}
	return ok
}

// Sweep cancels every timer and detaches every listener, clears the
// registry, and returns per-category counts. Sweeping an empty tracker
// is a no-op returning zeros.
func (t *Tracker) Sweep() (timers, listeners int) {
	t.mu.Lock()
	pendingTimers := t.timers
	pendingListeners := t.listeners
	t.timers = make(map[int64]timerEntry)
	t.listeners = make(map[int64]listenerEntry)
	t.mu.Unlock()

	for _, entry := range pendingTimers {
		entry.cancel()
	}
	for _, entry := range pendingListeners {
		entry.remove()
	}
	return len(pendingTimers), len(pendingListeners)
}

// Counts reports live totals without touching anything.
func (t *Tracker) Counts() (timers, listeners int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers), len(t.listeners)
}

// Snapshot lists live resources in a stable order for display.
func (t *Tracker) Snapshot() []Resource {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Resource, 0, len(t.timers)+len(t.listeners))

	timerIDs := make([]int64, 0, len(t.timers))
	for id := range t.timers {
		timerIDs = append(timerIDs, id)
	}
	sort.Slice(timerIDs, func(i, j int) bool { return timerIDs[i] < timerIDs[j] })
	for _, id := range timerIDs {
		entry := t.timers[id]
		out = append(out, Resource{
			Kind:   "timer",
			Detail: entry.kind + "#" + strconv.FormatInt(id, 10),
		})
	}

	listenerKeys := make([]int64, 0, len(t.listeners))
	for key := range t.listeners {
		listenerKeys = append(listenerKeys, key)
	}
	sort.Slice(listenerKeys, func(i, j int) bool { return listenerKeys[i] < listenerKeys[j] })
	for _, key := range listenerKeys {
		entry := t.listeners[key]
		out = append(out, Resource{
			Kind:   "listener",
			Detail: entry.target + " " + entry.event,
		})
	}
	return out
}
