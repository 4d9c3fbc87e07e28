package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/apps"
)

// ListDevApps returns the developer apps found on disk.
func (h *Handlers) ListDevApps(c *gin.Context) {
	loaded := h.registry.DevApps()
	out := make([]gin.H, 0, len(loaded))
	for _, app := range loaded {
		out = append(out, gin.H{
			"id":       app.Manifest.ID,
			"name":     app.Manifest.Name,
			"icon":     app.Manifest.Icon,
			"version":  app.Manifest.Version,
			"author":   app.Author,
			"settings": len(app.Settings),
			"dir":      app.Dir,
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": out})
}

// RescanDevApps reloads the dev apps directory on demand. The watcher
// picks up edits on its own; this covers mounts it cannot see.
func (h *Handlers) RescanDevApps(c *gin.Context) {
	if err := h.loader.Scan(); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "apps": len(h.registry.DevApps())})
}

// ExportDevApp packages a dev app for installation through the
// backend. ?compress=true gzips the bundle.
func (h *Handlers) ExportDevApp(c *gin.Context) {
	appID := c.Param("id")
	app, ok := h.registry.DevApp(appID)
	if !ok {
		fail(c, http.StatusNotFound, errors.New("dev app not found"))
		return
	}

	pkg, err := apps.BuildPackage(app)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	compress := c.Query("compress") == "true" || c.Query("compress") == "1"
	data, err := pkg.Encode(compress)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	filename := appID + ".nimbus-app"
	contentType := "application/json"
	if compress {
		filename += ".gz"
		contentType = "application/gzip"
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
}
