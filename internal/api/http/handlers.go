package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/api/ws"
	"github.com/nimbusos/shell/internal/apps"
	"github.com/nimbusos/shell/internal/auth"
	"github.com/nimbusos/shell/internal/client"
	"github.com/nimbusos/shell/internal/launch"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/shared/id"
	"github.com/nimbusos/shell/internal/taskbar"
	"github.com/nimbusos/shell/internal/terminal"
	"github.com/nimbusos/shell/internal/window"
)

// Deps bundles everything the gateway handlers act on.
type Deps struct {
	Version  string
	Windows  *window.Manager
	Taskbar  *taskbar.Presenter
	Center   *notify.Center
	Terms    *terminal.Manager
	Registry *apps.Registry
	Loader   *apps.Loader
	Auth     *auth.Store
	Metrics  *monitoring.Metrics
	Stream   *ws.Hub
	Log      *logging.Logger
}

// Handlers is the gateway's REST surface.
type Handlers struct {
	version  string
	windows  *window.Manager
	taskbar  *taskbar.Presenter
	center   *notify.Center
	terms    *terminal.Manager
	registry *apps.Registry
	loader   *apps.Loader
	auth     *auth.Store
	metrics  *monitoring.Metrics
	stream   *ws.Hub
	log      *logging.Logger
	viewLog  *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		version:  d.Version,
		windows:  d.Windows,
		taskbar:  d.Taskbar,
		center:   d.Center,
		terms:    d.Terms,
		registry: d.Registry,
		loader:   d.Loader,
		auth:     d.Auth,
		metrics:  d.Metrics,
		stream:   d.Stream,
		log:      d.Log.Component("gateway"),
		viewLog:  d.Log.Component("view"),
	}
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// Root reports service identity.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "nimbus-shell",
		"version": h.version,
	})
}

// Health reports live counts for probes and the debug overlay.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"windows":      h.windows.Count(),
		"active_app":   h.windows.Active(),
		"terminals":    len(h.terms.List()),
		"view_clients": h.stream.ClientCount(),
		"unread":       h.center.Unread(),
	})
}

// ListWindows returns every window snapshot plus the focused app.
func (h *Handlers) ListWindows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"windows": h.windows.Windows(),
		"active":  h.windows.Active(),
	})
}

// OpenWindow launches an app and registers its window. Blocks until
// the launch pipeline finishes, so the caller sees the real outcome.
func (h *Handlers) OpenWindow(c *gin.Context) {
	appID := c.Param("id")
	if err := h.windows.OpenApp(c.Request.Context(), appID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, client.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, launch.ErrSystemService):
			status = http.StatusForbidden
		case errors.Is(err, window.ErrOpenCancelled):
			status = http.StatusConflict
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appId": appID})
}

// CloseWindow tears an app down: sandbox cleanup, node removal,
// geometry flush.
func (h *Handlers) CloseWindow(c *gin.Context) {
	appID := c.Param("id")
	if err := h.windows.CloseApp(c.Request.Context(), appID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, window.ErrNotOpen) {
			status = http.StatusNotFound
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appId": appID})
}

func (h *Handlers) windowOp(c *gin.Context, op func(string) error) {
	appID := c.Param("id")
	if err := op(appID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, window.ErrNotOpen) {
			status = http.StatusNotFound
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appId": appID})
}

// MinimizeWindow hides a window, keeping its sandbox alive.
func (h *Handlers) MinimizeWindow(c *gin.Context) { h.windowOp(c, h.windows.Minimize) }

// RestoreWindow brings a minimized window back and focuses it.
func (h *Handlers) RestoreWindow(c *gin.Context) { h.windowOp(c, h.windows.Restore) }

// MaximizeWindow toggles between maximized and remembered geometry.
func (h *Handlers) MaximizeWindow(c *gin.Context) { h.windowOp(c, h.windows.ToggleMaximize) }

// FocusWindow raises a window to the top of the z-order.
func (h *Handlers) FocusWindow(c *gin.Context) { h.windowOp(c, h.windows.Focus) }

// Taskbar returns the current strip.
func (h *Handlers) Taskbar(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.taskbar.Snapshot()})
}

// Notifications returns recent notifications, newest first. limit=0
// (the default) returns everything retained.
func (h *Handlers) Notifications(c *gin.Context) {
	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.center.Recent(limit),
		"unread":        h.center.Unread(),
	})
}

// ReadNotification marks one notification read.
func (h *Handlers) ReadNotification(c *gin.Context) {
	nid := id.NotificationID(c.Param("id"))
	if !h.center.MarkRead(nid) {
		fail(c, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DismissNotification drops a notification entirely.
func (h *Handlers) DismissNotification(c *gin.Context) {
	nid := id.NotificationID(c.Param("id"))
	if !h.center.Dismiss(nid) {
		fail(c, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
