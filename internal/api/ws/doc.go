// Package ws streams shell state to browser views and feeds their
// input back into the window manager.
//
// Every connected view sees the same desktop: the hub broadcasts
// document renders and incremental mutations, window state events,
// taskbar snapshots, notifications, and terminal output to all
// clients. Inbound messages carry pointer gestures, viewport sizes,
// window commands, DOM events for app listeners, and terminal I/O.
//
// A bounded history of state events is replayed to late joiners after
// the initial render, so a reconnecting view can rebuild its taskbar
// and toast stack without polling.
//
// Slow consumers are disconnected rather than skipped; a view that
// missed mutations would render a desktop that never catches up, so
// the client reconnects and starts from a fresh render instead.
package ws
