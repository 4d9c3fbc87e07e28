package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/auth"
	"github.com/nimbusos/shell/internal/shared/id"
)

// SessionCookie carries the gateway session token in browsers. API
// clients may send the same token as a bearer Authorization header
// instead.
const SessionCookie = "nimbus_session"

// sessionKey is the gin context key the session is stored under.
const sessionKey = "session"

// Session enforces gateway login on every route except the listed
// public ones. With auth disabled in the store it passes everything
// through unchanged.
func Session(store *auth.Store, public ...string) gin.HandlerFunc {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if !store.Enabled() {
			c.Next()
			return
		}
		if _, ok := open[c.FullPath()]; ok {
			c.Next()
			return
		}

		token := Token(c)
		if token == "" {
			unauthorized(c)
			return
		}

		sess, err := store.Validate(id.SessionID(token))
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(sessionKey, sess)
		c.Next()
	}
}

// SessionFrom returns the authenticated session the middleware
// attached to this request, if any.
func SessionFrom(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.Session{}, false
	}
	sess, ok := v.(auth.Session)
	return sess, ok
}

// Token extracts the session token from the request, cookie first,
// bearer header second. Empty when the request carries neither.
func Token(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "authentication required",
	})
}
