// Package server assembles the shell and owns its lifecycle.
//
// Assembly order matters: the backend client and shared document come
// first, the launch pipeline and managers build on them, and the
// gateway router goes on top. Everything that pushes state to views
// funnels through the ws hub; the wiring here is the only place those
// callbacks are connected.
//
// Lifecycle:
//  1. Load configuration from environment
//  2. Build logger and metrics
//  3. Connect managers to the shared document
//  4. Mount middleware, routes, and the view socket
//  5. Serve until a shutdown signal
//  6. Drain HTTP, disconnect views, end ptys, flush window geometry
package server
