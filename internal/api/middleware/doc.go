// Package middleware provides the gateway's HTTP middleware stack.
//
// The stack, in mounting order:
//   - Recovery: panic capture with a JSON error response
//   - RequestLogger: one structured log line per request
//   - Metrics: per-route request counters and latency histograms
//   - CORS: cross-origin access for the shell frontend
//   - RateLimit: per-IP token bucket limiting
//   - Session: gateway login enforcement when auth is enabled
//
// Rate limiting and session checks read their switches from gateway
// configuration, so a disabled feature costs one branch per request.
//
// Example:
//
//	router.Use(middleware.Recovery(log))
//	router.Use(middleware.RequestLogger(log))
//	router.Use(middleware.RateLimit(cfg.RateLimit))
package middleware
