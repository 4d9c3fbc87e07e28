package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shell.
type Metrics struct {
	// HTTP metrics (gateway)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Window metrics
	WindowsOpen   prometheus.Gauge
	WindowsOpened prometheus.Counter
	WindowsClosed prometheus.Counter

	// Launch metrics
	Launches       *prometheus.CounterVec
	LaunchDuration prometheus.Histogram

	// Sandbox metrics
	SandboxMounts  prometheus.Counter
	SandboxErrors  prometheus.Counter
	ScriptDuration prometheus.Histogram

	// Cleanup metrics
	TimersCleaned    prometheus.Counter
	ListenersRemoved prometheus.Counter

	// Backend client metrics
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Notification metrics
	Notifications *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Latency rings for the JSON snapshot
	launchLatency *LatencyTracker
	scriptLatency *LatencyTracker

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API.
type Snapshot struct {
	TotalRequests     int64          `json:"total_requests"`
	TotalErrors       int64          `json:"total_errors"`
	OpenWindows       int64          `json:"open_windows"`
	ActiveConnections int64          `json:"active_connections"`
	Launches          int64          `json:"launches"`
	SandboxErrors     int64          `json:"sandbox_errors"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
	LaunchLatency     LatencySummary `json:"launch_latency"`
	ScriptLatency     LatencySummary `json:"script_latency"`
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime:     time.Now(),
		launchLatency: NewLatencyTracker(512),
		scriptLatency: NewLatencyTracker(512),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_http_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shell_http_request_duration_seconds",
				Help:    "Gateway HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WindowsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_windows_open",
				Help: "Number of currently open windows",
			},
		),
		WindowsOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_windows_opened_total",
				Help: "Total number of windows opened",
			},
		),
		WindowsClosed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_windows_closed_total",
				Help: "Total number of windows closed",
			},
		),

		Launches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_launches_total",
				Help: "Total number of app launches by outcome",
			},
			[]string{"status"},
		),
		LaunchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shell_launch_duration_seconds",
				Help:    "App launch duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		SandboxMounts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_sandbox_mounts_total",
				Help: "Total number of sandbox mounts",
			},
		),
		SandboxErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_sandbox_errors_total",
				Help: "Total number of sandbox execution errors",
			},
		),
		ScriptDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shell_script_duration_seconds",
				Help:    "One-shot script execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
			},
		),

		TimersCleaned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_timers_cleaned_total",
				Help: "Total timers cleared during app cleanup",
			},
		),
		ListenersRemoved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_listeners_removed_total",
				Help: "Total listeners removed during app cleanup",
			},
		),

		BackendCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_backend_calls_total",
				Help: "Total number of OS backend calls",
			},
			[]string{"endpoint", "status"},
		),
		BackendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shell_backend_duration_seconds",
				Help:    "OS backend call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_ws_connections",
				Help: "Number of active view stream connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_ws_messages_total",
				Help: "Total number of view stream messages",
			},
			[]string{"direction", "type"},
		),

		Notifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_notifications_total",
				Help: "Total number of notifications by level",
			},
			[]string{"level"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_uptime_seconds",
				Help: "Shell uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records a gateway HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordLaunch records an app launch outcome.
func (m *Metrics) RecordLaunch(status string, duration time.Duration) {
	m.Launches.WithLabelValues(status).Inc()
	m.LaunchDuration.Observe(duration.Seconds())
	m.launchLatency.Observe(duration)

	m.mu.Lock()
	m.snapshot.Launches++
	m.mu.Unlock()
}

// RecordScript records a one-shot sandbox execution.
func (m *Metrics) RecordScript(duration time.Duration, failed bool) {
	m.SandboxMounts.Inc()
	m.ScriptDuration.Observe(duration.Seconds())
	m.scriptLatency.Observe(duration)

	if failed {
		m.SandboxErrors.Inc()
		m.mu.Lock()
		m.snapshot.SandboxErrors++
		m.mu.Unlock()
	}
}

// RecordCleanup records resource counts swept at close.
func (m *Metrics) RecordCleanup(timers, listeners int) {
	m.TimersCleaned.Add(float64(timers))
	m.ListenersRemoved.Add(float64(listeners))
}

// RecordBackendCall records one OS backend call.
func (m *Metrics) RecordBackendCall(endpoint, status string, duration time.Duration) {
	m.BackendCalls.WithLabelValues(endpoint, status).Inc()
	m.BackendDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordWSMessage records a view stream message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordNotification records a notification by level.
func (m *Metrics) RecordNotification(level string) {
	m.Notifications.WithLabelValues(level).Inc()
}

// SetWindowsOpen sets the open-window gauge.
func (m *Metrics) SetWindowsOpen(count int) {
	m.WindowsOpen.Set(float64(count))
	m.mu.Lock()
	m.snapshot.OpenWindows = int64(count)
	m.mu.Unlock()
}

// IncWindowsOpened increments the opened-window counter.
func (m *Metrics) IncWindowsOpened() {
	m.WindowsOpened.Inc()
}

// IncWindowsClosed increments the closed-window counter.
func (m *Metrics) IncWindowsClosed() {
	m.WindowsClosed.Inc()
}

// IncWSConnections increments view stream connections.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements view stream connections.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// GetSnapshot returns current metric values for the JSON API.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	snap.LaunchLatency = m.launchLatency.Summary()
	snap.ScriptLatency = m.scriptLatency.Summary()
	return snap
}
