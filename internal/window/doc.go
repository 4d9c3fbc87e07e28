// Package window owns the authoritative registry of open app windows
// and every direct manipulation of window geometry, focus, and
// visibility.
//
// The manager is an explicit owned registry: a struct holding the
// window map plus the two global interaction records (drag, resize),
// injected into the gateway rather than living as ambient state. All
// operations are safe for concurrent callers; the manager serializes
// internally and never holds its lock across a network call.
//
// Per-window state machine:
//
//	Opening -> Visible(focused|unfocused) -> Minimized -> Visible -> Closed
//
// with an orthogonal Maximized flag toggleable from Visible. Closed is
// terminal; reopening an app creates a fresh window.
//
// Geometry persistence is debounced per app so drag and resize storms
// collapse into one save of the settled state. Closing always flushes
// synchronously before resources are swept and the window subtree is
// removed from the document.
package window
