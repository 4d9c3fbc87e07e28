/*
Package sandbox executes app scripts in isolated goja runtimes.

# Overview

Each launched app gets one runtime. The rewritten script runs once at
mount inside an async-capable IIFE, under a watchdog interrupt so a
runaway script cannot wedge the shell. Everything the script can touch
is installed explicitly:

  - scoped DOM functions bound to the app's window subtree
  - scoped storage backed by the app-settings endpoints (session
    variants stay in memory)
  - scoped navigation and history that reduce to app reloads
  - capability timers registered with the app's resource tracker
  - a per-app API object bridging settings, notifications, virtual
    files, and the app's socket channel
  - console routed to the shell log, tagged with the app id

# Isolation

Node globals (require, process, module, exports) are scrubbed. After
the one-shot execution, the named top-level functions that resolved to
callables are captured into the handle's registry; markup handlers go
through Handle.Call, so two apps defining the same function name never
cross-invoke.

# Lifecycle

A script error at mount degrades that app to a blank window; it never
aborts the open. Handle.Cleanup sweeps timers and listeners exactly
once and reports the counts.
*/
package sandbox
