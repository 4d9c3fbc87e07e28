// Package http serves the view gateway's REST surface: login and
// session status, window commands, taskbar and notification reads,
// terminal sessions, developer app exports, and metrics snapshots.
//
// Mutating responses follow the {success, error} envelope the OS
// backend uses, so the view treats both services uniformly. Window
// commands are addressed by app id, not an internal window handle;
// the shell has at most one window per app.
package http
