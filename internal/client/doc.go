// Package client implements the shell's client for the OS backend REST API.
//
// The backend owns persistence (preferences, window state, app settings,
// virtual files, installed apps); the shell only consumes it. The client
// wraps resty with a retrying transport, client-side rate limiting, and a
// circuit breaker so a struggling backend degrades to fast failures that
// the boundary layers turn into notifications.
//
// Endpoint families:
//   - Apps: list, launch, install, refresh, uninstall
//   - Preferences: category/key values, window state, app settings
//   - Virtual files: list, read, write, delete, rename, upload
package client
