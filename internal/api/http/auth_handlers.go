package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/api/middleware"
	"github.com/nimbusos/shell/internal/shared/id"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks credentials and issues a session token. The token is
// returned in the body and also set as a cookie so browser views
// authenticate without storing it themselves.
func (h *Handlers) Login(c *gin.Context) {
	if !h.auth.Enabled() {
		fail(c, http.StatusConflict, errors.New("authentication is disabled"))
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}

	sess, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		fail(c, http.StatusUnauthorized, err)
		return
	}

	maxAge := int(time.Until(sess.Expires).Seconds())
	c.SetCookie(middleware.SessionCookie, sess.Token.String(), maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   sess.Token,
		"user":    sess.User,
		"expires": sess.Expires,
	})
}

// Logout revokes the caller's session and clears the cookie.
func (h *Handlers) Logout(c *gin.Context) {
	if token := middleware.Token(c); token != "" {
		h.auth.Logout(id.SessionID(token))
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AuthStatus tells the view whether a login screen is needed. Always
// 200 so the view can probe it before any session exists.
func (h *Handlers) AuthStatus(c *gin.Context) {
	resp := gin.H{
		"enabled":       h.auth.Enabled(),
		"authenticated": false,
	}
	if token := middleware.Token(c); token != "" {
		if sess, err := h.auth.Validate(id.SessionID(token)); err == nil {
			resp["authenticated"] = true
			resp["user"] = sess.User
			resp["expires"] = sess.Expires
		}
	}
	c.JSON(http.StatusOK, resp)
}
