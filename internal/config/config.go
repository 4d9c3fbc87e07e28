package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all shell configuration.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Desktop   DesktopConfig
	DevApps   DevAppsConfig
	Auth      AuthConfig
	Terminal  TerminalConfig
}

// ServerConfig holds gateway HTTP server configuration.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8100"`
	Host           string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins []string `envconfig:"CORS_ORIGINS"`
}

// BackendConfig holds OS API client configuration.
type BackendConfig struct {
	URL        string        `envconfig:"BACKEND_URL" default:"http://localhost:5000"`
	Timeout    time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`
	RetryCount int           `envconfig:"BACKEND_RETRIES" default:"3"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds script execution limits.
type SandboxConfig struct {
	MountTimeout  time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	EnableConsole bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
}

// DesktopConfig holds viewport and window persistence configuration.
type DesktopConfig struct {
	ViewportWidth   int           `envconfig:"VIEWPORT_WIDTH" default:"1920"`
	ViewportHeight  int           `envconfig:"VIEWPORT_HEIGHT" default:"1080"`
	StatusBarHeight int           `envconfig:"STATUS_BAR_HEIGHT" default:"40"`
	SaveDebounce    time.Duration `envconfig:"SAVE_DEBOUNCE" default:"100ms"`
}

// DevAppsConfig holds local developer app loader configuration.
type DevAppsConfig struct {
	Dir   string `envconfig:"DEV_APPS_DIR" default:""`
	Watch bool   `envconfig:"DEV_APPS_WATCH" default:"true"`
}

// AuthConfig holds gateway session configuration. Credentials come
// from numbered AUTH_USER_n variables parsed by the auth package.
type AuthConfig struct {
	Enabled    bool          `envconfig:"AUTH_ENABLED" default:"false"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

// TerminalConfig holds pty bridge configuration.
type TerminalConfig struct {
	Enabled bool   `envconfig:"TERMINAL_ENABLED" default:"true"`
	Shell   string `envconfig:"TERMINAL_SHELL" default:"/bin/bash"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8100",
			Host: "0.0.0.0",
		},
		Backend: BackendConfig{
			URL:        "http://localhost:5000",
			Timeout:    30 * time.Second,
			RetryCount: 3,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			MountTimeout:  5 * time.Second,
			EnableConsole: true,
		},
		Desktop: DesktopConfig{
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			StatusBarHeight: 40,
			SaveDebounce:    100 * time.Millisecond,
		},
		DevApps: DevAppsConfig{
			Dir:   "",
			Watch: true,
		},
		Auth: AuthConfig{
			Enabled:    false,
			SessionTTL: 24 * time.Hour,
		},
		Terminal: TerminalConfig{
			Enabled: true,
			Shell:   "/bin/bash",
		},
	}
}
