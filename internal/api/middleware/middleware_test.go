package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusos/shell/internal/auth"
	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

var (
	metricsOnce sync.Once
	testMetrics *monitoring.Metrics
)

// sharedMetrics returns a process-wide collector; promauto panics on
// duplicate registration, so tests share one instance.
func sharedMetrics() *monitoring.Metrics {
	metricsOnce.Do(func() { testMetrics = monitoring.NewMetrics() })
	return testMetrics
}

func testStore(t *testing.T, enabled bool) *auth.Store {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	users := map[string]string{"ada": string(hash)}
	cfg := config.AuthConfig{Enabled: enabled, SessionTTL: time.Hour}
	return auth.NewStore(cfg, users, logging.NewNop())
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	router := setupRouter()
	router.Use(CORS(nil))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantHeader bool
	}{
		{"simple request with origin", "GET", "http://localhost:3000", http.StatusOK, true},
		{"preflight", "OPTIONS", "http://localhost:3000", http.StatusNoContent, true},
		{"no origin header", "GET", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSRestrictsExplicitOrigins(t *testing.T) {
	router := setupRouter()
	router.Use(CORS([]string{"https://shell.example.com"}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://shell.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://shell.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	router := setupRouter()
	router.Use(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: 2,
		Burst:             2,
		Enabled:           true,
	}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	router := setupRouter()
	router.Use(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		Enabled:           false,
	}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitTracksClientsSeparately(t *testing.T) {
	router := setupRouter()
	router.Use(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		Enabled:           true,
	}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:1234"))
	assert.Equal(t, http.StatusOK, send("192.168.1.2:1234"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.168.1.1:1234"))
}

func TestGlobalRateLimitSharesOneBucket(t *testing.T) {
	router := setupRouter()
	router.Use(GlobalRateLimit(2, 2))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	addrs := []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"}
	codes := make([]int, 0, len(addrs))
	for _, addr := range addrs {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSessionDisabledPassesEverything(t *testing.T) {
	store := testStore(t, false)

	router := setupRouter()
	router.Use(Session(store))
	router.GET("/protected", func(c *gin.Context) {
		_, ok := SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{"authed": ok})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authed":false`)
}

func TestSessionRequiresValidToken(t *testing.T) {
	store := testStore(t, true)

	router := setupRouter()
	router.Use(Session(store))
	router.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication required")

	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer sess_bogus")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionAcceptsCookieAndBearer(t *testing.T) {
	store := testStore(t, true)
	sess, err := store.Login("ada", "hunter2")
	require.NoError(t, err)

	router := setupRouter()
	router.Use(Session(store))
	router.GET("/protected", func(c *gin.Context) {
		got, ok := SessionFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": got.User})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.Token.String()})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"ada"`)

	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token.String())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionPublicPathsStayOpen(t *testing.T) {
	store := testStore(t, true)

	router := setupRouter()
	router.Use(Session(store, "/login", "/health"))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/login", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/protected", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsRecordsRequestsAndErrors(t *testing.T) {
	m := sharedMetrics()
	before := m.GetSnapshot()

	router := setupRouter()
	router.Use(Metrics(m))
	router.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Unregistered path exercises the unmatched-route label.
	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	after := m.GetSnapshot()
	assert.Equal(t, before.TotalRequests+2, after.TotalRequests)
	assert.Equal(t, before.TotalErrors+1, after.TotalErrors)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	router := setupRouter()
	router.Use(Recovery(logging.NewNop()))
	router.GET("/boom", func(c *gin.Context) {
		panic("window manager exploded")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	router := setupRouter()
	router.Use(RequestLogger(logging.NewNop()))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "logged")
	})

	req := httptest.NewRequest("GET", "/test?q=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "logged", w.Body.String())
}
