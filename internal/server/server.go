package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/nimbusos/shell/internal/api/http"
	"github.com/nimbusos/shell/internal/api/middleware"
	"github.com/nimbusos/shell/internal/api/ws"
	"github.com/nimbusos/shell/internal/apps"
	"github.com/nimbusos/shell/internal/auth"
	"github.com/nimbusos/shell/internal/client"
	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/launch"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/rewrite"
	"github.com/nimbusos/shell/internal/sandbox"
	"github.com/nimbusos/shell/internal/taskbar"
	"github.com/nimbusos/shell/internal/terminal"
	"github.com/nimbusos/shell/internal/window"
)

const (
	// Login shares one bucket across all clients; per-IP limits are
	// too generous for password guessing.
	loginRPS   = 5
	loginBurst = 10

	sweepEvery      = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 2 * time.Second
)

// bootMarkup is the document every view renders. Apps mount under
// #desktop; the launch pipeline fails without it.
const bootMarkup = `<!DOCTYPE html>
<html>
<head><title>Nimbus Shell</title></head>
<body>
<div id="desktop"></div>
<div id="status-bar"></div>
</body>
</html>`

// Server wires the whole shell together and owns its lifecycle.
type Server struct {
	cfg *config.Config
	log *logging.Logger

	windows *window.Manager
	terms   *terminal.Manager
	loader  *apps.Loader
	auth    *auth.Store
	hub     *ws.Hub

	httpSrv *http.Server
	cancel  context.CancelFunc
	unsubs  []func()
}

// New assembles the shell: backend client, shared document, launch
// pipeline, managers, and the gateway router on top of them.
func New(cfg *config.Config, version string) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics := monitoring.NewMetrics()
	cli := client.New(cfg.Backend, log, metrics)

	doc, err := dom.NewDocument(bootMarkup)
	if err != nil {
		return nil, fmt.Errorf("parse boot document: %w", err)
	}
	dispatcher := dom.NewDispatcher()

	center := notify.NewCenter(log, metrics)
	mounter := sandbox.NewMounter(cfg.Sandbox, doc, dispatcher, log, metrics)
	orch := launch.New(doc, mounter, rewrite.New(), cli, center, streamURL(cfg.Backend.URL), log, metrics)

	winMgr := window.NewManager(cfg.Desktop, doc, orch, cli, center, log, metrics)
	orch.SetReloader(winMgr)
	orch.SetScaler(winMgr)

	// Adopt the persisted app scale before any window opens. The
	// preference is a percentage; a missing backend falls back to 100.
	scaleCtx, scaleCancel := context.WithTimeout(context.Background(), 5*time.Second)
	winMgr.SetAppScale(cli.GetPreferenceFloat(scaleCtx, "ui", "app_scale", 100) / 100)
	scaleCancel()

	registry := apps.NewRegistry(log)
	registry.SetMonitor(winMgr)
	orch.SetLocal(registry)
	loader := apps.NewLoader(cfg.DevApps, registry, log)

	terms := terminal.NewManager(cfg.Terminal, log)
	store := auth.NewStore(cfg.Auth, auth.LoadUsers(), log)
	presenter := taskbar.NewPresenter(winMgr)

	hub := ws.NewHub(doc, dispatcher, winMgr, terms, log, metrics)

	doc.SetOnMutation(hub.WakeDOM)
	winMgr.SetOnEvent(func(ev window.Event) {
		presenter.HandleEvent(ev)
		hub.PublishWindowEvent(ev)
		if ev.Kind == window.EventClosed {
			if n := terms.KillApp(ev.AppID); n > 0 {
				log.Info("terminals ended with window",
					zap.String("app_id", ev.AppID), zap.Int("count", n))
			}
		}
	})
	terms.SetOnData(hub.PublishTerminalData)
	terms.SetOnClose(hub.PublishTerminalClosed)

	s := &Server{
		cfg:     cfg,
		log:     log,
		windows: winMgr,
		terms:   terms,
		loader:  loader,
		auth:    store,
		hub:     hub,
	}

	notifCh, stopNotif := center.Subscribe()
	s.unsubs = append(s.unsubs, stopNotif)
	go func() {
		for n := range notifCh {
			hub.PublishNotification(n)
		}
	}()

	stripCh, stopStrip := presenter.Subscribe()
	s.unsubs = append(s.unsubs, stopStrip)
	go func() {
		for entries := range stripCh {
			hub.PublishTaskbar(entries)
		}
	}()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		middleware.Metrics(metrics),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.RateLimit(cfg.RateLimit),
		middleware.Session(store, "/", "/health", "/login", "/api/auth/status", "/metrics"),
	)

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Version:  version,
		Windows:  winMgr,
		Taskbar:  presenter,
		Center:   center,
		Terms:    terms,
		Registry: registry,
		Loader:   loader,
		Auth:     store,
		Metrics:  metrics,
		Stream:   hub,
		Log:      log,
	})
	apihttp.Register(router, handlers, middleware.GlobalRateLimit(loginRPS, loginBurst))
	router.GET("/stream", hub.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           gzhttp.GzipHandler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run starts the dev app watcher and session sweeper, then serves
// until Close or a listener error.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.cfg.DevApps.Dir != "" {
		if err := s.loader.Scan(); err != nil {
			s.log.Warn("dev app scan failed", zap.Error(err))
		}
		if s.cfg.DevApps.Watch {
			go func() {
				if err := s.loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Warn("dev app watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	if s.auth.Enabled() {
		go s.sweepSessions(ctx)
	}

	s.log.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) sweepSessions(ctx context.Context) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.auth.Sweep(); n > 0 {
				s.log.Debug("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}

// Close drains the HTTP server, disconnects views, ends pty sessions,
// and flushes window geometry so the next boot restores it.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)

	s.hub.Shutdown()
	s.terms.Shutdown()
	for _, unsub := range s.unsubs {
		unsub()
	}

	for _, w := range s.windows.Windows() {
		flushCtx, fcancel := context.WithTimeout(context.Background(), flushTimeout)
		if ferr := s.windows.FlushState(flushCtx, w.AppID); ferr != nil {
			s.log.Debug("state flush at shutdown failed",
				zap.String("app_id", w.AppID), zap.Error(ferr))
		}
		fcancel()
	}

	s.log.Info("gateway stopped")
	s.log.Sync()
	return err
}

// streamURL derives the backend's websocket endpoint from its HTTP
// base URL. Empty when the URL does not parse.
func streamURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	return u.String()
}
