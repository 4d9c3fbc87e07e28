// Package types provides shared data structures for the shell service.
//
// This package defines the core types passed between the launch
// pipeline, the window manager, and the gateway, keeping every
// component on one definition of an app and its window.
//
// Core Types:
//   - Manifest: app metadata returned by the launch endpoint
//   - LaunchPayload: full launch response (manifest + metadata + prefs)
//   - Geometry: window rectangle in viewport pixels
//   - WindowState: persisted geometry and maximized flag
//
// State Management:
//   - AppType: app type enum (builtin, user_app, settings, system_service)
//
// Example Usage:
//
//	manifest := types.Manifest{
//	    ID:   "notes",
//	    Name: "Notes",
//	    Type: types.TypeUserApp,
//	}
package types
