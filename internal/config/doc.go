// Package config provides 12-factor configuration management for the shell.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: gateway HTTP server settings (port, host)
//   - Backend: OS API base URL and client timeouts
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//   - Sandbox: script execution limits
//   - Desktop: viewport, status bar, persistence debounce
//   - DevApps: local developer app directory and watcher
//   - Auth: gateway session settings
//   - Terminal: pty bridge settings
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Gateway on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, BACKEND_URL
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
//   - SANDBOX_TIMEOUT, VIEWPORT_WIDTH, VIEWPORT_HEIGHT
//   - DEV_APPS_DIR, AUTH_ENABLED, TERMINAL_SHELL
package config
