// Package notify is the shell's notification center. Failures anywhere
// in the launch or window paths are converted into toasts here instead
// of propagating; the view renders whatever the center holds.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/shared/id"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one toast surfaced to the view.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	Level     Level             `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	AppID     string            `json:"app_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Read      bool              `json:"read"`
}

const defaultHistoryLimit = 100

// Center stores recent notifications and fans them out to subscribers.
// All methods are safe for concurrent use.
type Center struct {
	mu      sync.RWMutex
	history []Notification
	limit   int
	subs    map[uint64]chan Notification
	nextSub uint64

	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewCenter creates a notification center with a bounded history.
func NewCenter(log *logging.Logger, metrics *monitoring.Metrics) *Center {
	return &Center{
		limit:   defaultHistoryLimit,
		subs:    make(map[uint64]chan Notification),
		metrics: metrics,
		log:     log.Component("notify"),
	}
}

// Push records a notification and fans it out. The stored copy with its
// assigned id is returned.
func (c *Center) Push(level Level, title, message, appID string) Notification {
	n := Notification{
		ID:        id.NewNotificationID(),
		Level:     level,
		Title:     title,
		Message:   message,
		AppID:     appID,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.history = append(c.history, n)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
			// Slow subscribers miss toasts rather than block the shell.
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordNotification(string(level))
	}

	fields := []zap.Field{
		zap.String("notification_id", n.ID.String()),
		zap.String("title", title),
		zap.String("app_id", appID),
	}
	switch level {
	case LevelError:
		c.log.Error(message, fields...)
	case LevelWarning:
		c.log.Warn(message, fields...)
	default:
		c.log.Info(message, fields...)
	}

	return n
}

// Info pushes an info-level notification.
func (c *Center) Info(title, message, appID string) Notification {
	return c.Push(LevelInfo, title, message, appID)
}

// Warn pushes a warning-level notification.
func (c *Center) Warn(title, message, appID string) Notification {
	return c.Push(LevelWarning, title, message, appID)
}

// Error pushes an error-level notification.
func (c *Center) Error(title, message, appID string) Notification {
	return c.Push(LevelError, title, message, appID)
}

// Recent returns up to limit notifications, newest first. limit <= 0
// returns the full history.
func (c *Center) Recent(limit int) []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Notification, limit)
	for i := 0; i < limit; i++ {
		out[i] = c.history[n-1-i]
	}
	return out
}

// Unread counts notifications not yet marked read.
func (c *Center) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, n := range c.history {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead flags one notification as read. Unknown ids are a no-op.
func (c *Center) MarkRead(nid id.NotificationID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.history {
		if c.history[i].ID == nid {
			c.history[i].Read = true
			return true
		}
	}
	return false
}

// Dismiss removes one notification from the history.
func (c *Center) Dismiss(nid id.NotificationID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.history {
		if c.history[i].ID == nid {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return true
		}
	}
	return false
}

// DismissApp removes every notification originated by one app. Called
// as part of window close so no stale toasts outlive their app.
func (c *Center) DismissApp(appID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.history[:0]
	removed := 0
	for _, n := range c.history {
		if n.AppID == appID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	c.history = kept
	return removed
}

// Subscribe registers a listener for future notifications. The returned
// cancel func unregisters it and closes the channel.
func (c *Center) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	c.mu.Lock()
	key := c.nextSub
	c.nextSub++
	c.subs[key] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[key]; ok {
			delete(c.subs, key)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}
