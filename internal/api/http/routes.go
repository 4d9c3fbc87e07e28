package http

import "github.com/gin-gonic/gin"

// Register mounts the REST surface. The server wires middleware and
// the view socket separately; this is only the route table.
// loginGuard runs in front of the login handler only, so a shared
// throttle can sit on the one route that takes passwords.
func Register(r gin.IRouter, h *Handlers, loginGuard ...gin.HandlerFunc) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	login := append(append([]gin.HandlerFunc{}, loginGuard...), h.Login)
	r.POST("/login", login...)
	r.POST("/logout", h.Logout)
	r.GET("/api/auth/status", h.AuthStatus)

	r.GET("/windows", h.ListWindows)
	r.POST("/windows/:id/open", h.OpenWindow)
	r.POST("/windows/:id/close", h.CloseWindow)
	r.POST("/windows/:id/minimize", h.MinimizeWindow)
	r.POST("/windows/:id/restore", h.RestoreWindow)
	r.POST("/windows/:id/maximize", h.MaximizeWindow)
	r.POST("/windows/:id/focus", h.FocusWindow)

	r.GET("/taskbar", h.Taskbar)

	r.GET("/notifications", h.Notifications)
	r.POST("/notifications/:id/read", h.ReadNotification)
	r.DELETE("/notifications/:id", h.DismissNotification)

	r.GET("/terminals", h.ListTerminals)
	r.POST("/terminals", h.CreateTerminal)
	r.DELETE("/terminals/:id", h.KillTerminal)

	r.GET("/dev-apps", h.ListDevApps)
	r.POST("/dev-apps/rescan", h.RescanDevApps)
	r.GET("/dev-apps/:id/export", h.ExportDevApp)

	r.POST("/logs", h.ViewLogs)

	r.GET("/metrics/json", h.MetricsJSON)
	r.GET("/stream/status", h.StreamStatus)
}
