package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/shared/id"
	"github.com/nimbusos/shell/internal/terminal"
)

// ListTerminals returns every live PTY session.
func (h *Handlers) ListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terminals": h.terms.List()})
}

type createTerminalRequest struct {
	AppID string `json:"appId"`
	Cols  int    `json:"cols"`
	Rows  int    `json:"rows"`
}

// CreateTerminal spawns a PTY session. Output streams over the view
// socket; this endpoint only establishes the session.
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req createTerminalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, errors.New("malformed terminal request"))
			return
		}
	}

	info, err := h.terms.Create(req.AppID, req.Cols, req.Rows)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "terminal": info})
}

// KillTerminal ends a PTY session.
func (h *Handlers) KillTerminal(c *gin.Context) {
	tid := id.TermID(c.Param("id"))
	if err := h.terms.Kill(tid); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrNotFound) {
			status = http.StatusNotFound
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
