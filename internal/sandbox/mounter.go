package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/track"
)

// Mounter builds app runtimes against the shared document.
type Mounter struct {
	cfg        config.SandboxConfig
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	log        *logging.Logger
	metrics    *monitoring.Metrics
}

// NewMounter creates a mounter.
func NewMounter(cfg config.SandboxConfig, doc *dom.Document, dispatcher *dom.Dispatcher, log *logging.Logger, metrics *monitoring.Metrics) *Mounter {
	return &Mounter{
		cfg:        cfg,
		doc:        doc,
		dispatcher: dispatcher,
		log:        log.Component("sandbox"),
		metrics:    metrics,
	}
}

// Mount creates a runtime for one app, installs the scoped globals,
// and runs the rewritten script once. A script error returns the
// handle together with the error: the app degrades to a blank window
// but its resources stay sweepable.
func (m *Mounter) Mount(ctx context.Context, appID, script string, functionNames []string, appRoot *dom.Element, bridge Bridge) (*Handle, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)

	h := &Handle{
		appID:        appID,
		vm:           vm,
		registry:     make(map[string]goja.Callable),
		root:         appRoot,
		doc:          m.doc,
		dispatcher:   m.dispatcher,
		tracker:      track.New(appID),
		bridge:       bridge,
		sessionStore: make(map[string]string),
		listeners:    make(map[string][]storedListener),
		callTimeout:  m.cfg.MountTimeout,
		log:          m.log.App(appID),
		metrics:      m.metrics,
	}

	h.scrubGlobals()
	if m.cfg.EnableConsole {
		h.installConsole()
	}
	h.installDOM()
	h.installStorage()
	h.installNavigation()
	h.installTimers()
	h.installAPI()

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		if op == goja.PromiseRejectionReject {
			if m.metrics != nil {
				m.metrics.SandboxErrors.Inc()
			}
			h.log.Warn("unhandled promise rejection",
				zap.String("reason", p.Result().String()))
		}
	})

	start := time.Now()
	err := h.runOnce(ctx, wrapScript(script, functionNames))
	duration := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordScript(duration, err != nil)
	}

	// Capture the registry after execution. The wrapper exposed every
	// declared name on globalThis, so a plain global lookup resolves
	// them even though the script body ran inside a closure.
	h.vmMu.Lock()
	for _, name := range functionNames {
		if fn, ok := goja.AssertFunction(vm.Get(name)); ok {
			h.registry[name] = fn
		}
	}
	h.vmMu.Unlock()

	if err != nil {
		h.log.Error("app script failed at mount",
			zap.Duration("duration", duration),
			zap.Error(err))
		return h, fmt.Errorf("mount %s: %w", appID, err)
	}

	h.log.Info("app mounted",
		zap.Duration("duration", duration),
		zap.Int("functions", len(h.registry)))
	return h, nil
}

// wrapScript builds the one-shot mount source: an async-capable IIFE
// with an exposure prefix. Function declarations hoist to the top of
// the body, so each name is already bound when the prefix runs, and a
// top-level await later in the script cannot delay exposure.
func wrapScript(script string, functionNames []string) string {
	var b strings.Builder
	b.WriteString("(async () => {\n")
	for _, name := range functionNames {
		if !identValid(name) {
			continue
		}
		b.WriteString("globalThis.")
		b.WriteString(name)
		b.WriteString(" = typeof ")
		b.WriteString(name)
		b.WriteString(` === "function" ? `)
		b.WriteString(name)
		b.WriteString(" : undefined;\n")
	}
	b.WriteString(script)
	b.WriteString("\n})();")
	return b.String()
}

func identValid(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		alpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '$'
		if !alpha && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// runOnce executes the wrapped source under the watchdog. An async
// body never throws synchronously; a top-level throw turns into a
// rejected wrapper promise, so the promise state is inspected too.
func (h *Handle) runOnce(ctx context.Context, wrapped string) error {
	h.vmMu.Lock()
	defer h.vmMu.Unlock()

	done := make(chan struct{})
	timer := time.NewTimer(h.callTimeout)
	go func() {
		select {
		case <-timer.C:
			h.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			h.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	ret, err := h.vm.RunString(wrapped)

	close(done)
	timer.Stop()
	h.vm.ClearInterrupt()

	if err != nil {
		return err
	}
	if p, ok := ret.Export().(*goja.Promise); ok && p.State() == goja.PromiseStateRejected {
		return fmt.Errorf("script error: %s", p.Result().String())
	}
	return nil
}

// scrubGlobals removes host leakage before any app code runs.
func (h *Handle) scrubGlobals() {
	h.vm.Set("require", goja.Undefined())
	h.vm.Set("process", goja.Undefined())
	h.vm.Set("module", goja.Undefined())
	h.vm.Set("exports", goja.Undefined())
}

// installConsole routes console output into the shell log.
func (h *Handle) installConsole() {
	console := h.vm.NewObject()
	console.Set("log", h.makeConsoleFunc("log"))
	console.Set("info", h.makeConsoleFunc("info"))
	console.Set("warn", h.makeConsoleFunc("warn"))
	console.Set("error", h.makeConsoleFunc("error"))
	h.vm.Set("console", console)
}

func (h *Handle) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		switch level {
		case "error":
			h.log.Error(msg, zap.String("source", "console"))
		case "warn":
			h.log.Warn(msg, zap.String("source", "console"))
		default:
			h.log.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// installStorage wires the scoped storage functions. The app-storage
// family persists through the bridge; the session family lives and
// dies with the handle.
func (h *Handle) installStorage() {
	h.vm.Set("setAppStorage", func(key, value string) {
		if err := h.bridge.SetSetting(key, value); err != nil {
			h.log.Warn("storage write failed", zap.String("key", key), zap.Error(err))
		}
	})
	h.vm.Set("getAppStorage", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := h.bridge.Setting(key); ok {
			return h.vm.ToValue(v)
		}
		return goja.Null()
	})
	h.vm.Set("removeAppStorage", func(key string) {
		if err := h.bridge.RemoveSetting(key); err != nil {
			h.log.Warn("storage remove failed", zap.String("key", key), zap.Error(err))
		}
	})
	h.vm.Set("clearAppStorage", func() {
		if err := h.bridge.ClearSettings(); err != nil {
			h.log.Warn("storage clear failed", zap.Error(err))
		}
	})

	h.vm.Set("setAppSessionStorage", func(key, value string) {
		h.sessionMu.Lock()
		h.sessionStore[key] = value
		h.sessionMu.Unlock()
	})
	h.vm.Set("getAppSessionStorage", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		h.sessionMu.Lock()
		v, ok := h.sessionStore[key]
		h.sessionMu.Unlock()
		if !ok {
			return goja.Null()
		}
		return h.vm.ToValue(v)
	})
	h.vm.Set("removeAppSessionStorage", func(key string) {
		h.sessionMu.Lock()
		delete(h.sessionStore, key)
		h.sessionMu.Unlock()
	})
	h.vm.Set("clearAppSessionStorage", func() {
		h.sessionMu.Lock()
		h.sessionStore = make(map[string]string)
		h.sessionMu.Unlock()
	})
}

// installNavigation maps the scoped navigation calls to app-reload or
// no-op semantics. Nothing here ever navigates the page.
func (h *Handle) installNavigation() {
	h.vm.Set("setAppLocation", func(call goja.FunctionCall) goja.Value {
		h.log.Info("app requested navigation",
			zap.String("target", call.Argument(0).String()))
		h.bridge.Reload()
		return goja.Undefined()
	})
	h.vm.Set("reloadApp", func(goja.FunctionCall) goja.Value {
		h.bridge.Reload()
		return goja.Undefined()
	})
	h.vm.Set("pushAppHistory", func(call goja.FunctionCall) goja.Value {
		h.log.Debug("history push", zap.String("url", call.Argument(2).String()))
		return goja.Undefined()
	})
	h.vm.Set("replaceAppHistory", func(call goja.FunctionCall) goja.Value {
		h.log.Debug("history replace", zap.String("url", call.Argument(2).String()))
		return goja.Undefined()
	})
}

// installTimers wires capability timers through the resource tracker.
func (h *Handle) installTimers() {
	h.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return h.vm.ToValue(0)
		}
		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}

		id := h.timerSeq.Add(1)
		t := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			h.tracker.ForgetTimer(id)
			h.invoke(fn)
		})
		h.tracker.AddTimer(id, "timeout", func() { t.Stop() })
		return h.vm.ToValue(id)
	})

	h.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return h.vm.ToValue(0)
		}
		every := call.Argument(1).ToInteger()
		if every < 1 {
			every = 1
		}

		id := h.timerSeq.Add(1)
		done := make(chan struct{})
		ticker := time.NewTicker(time.Duration(every) * time.Millisecond)
		go func() {
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					h.invoke(fn)
				}
			}
		}()
		h.tracker.AddTimer(id, "interval", func() {
			ticker.Stop()
			close(done)
		})
		return h.vm.ToValue(id)
	})

	clear := func(call goja.FunctionCall) goja.Value {
		h.tracker.RemoveTimer(call.Argument(0).ToInteger())
		return goja.Undefined()
	}
	h.vm.Set("clearTimeout", clear)
	h.vm.Set("clearInterval", clear)
}

// installAPI exposes the per-app nimbus object.
func (h *Handle) installAPI() {
	api := h.vm.NewObject()
	api.Set("appId", h.appID)

	api.Set("getSetting", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := h.bridge.Setting(key); ok {
			return h.vm.ToValue(v)
		}
		return call.Argument(1)
	})
	api.Set("setSetting", func(key, value string) bool {
		return h.bridge.SetSetting(key, value) == nil
	})
	api.Set("removeSetting", func(key string) bool {
		return h.bridge.RemoveSetting(key) == nil
	})

	api.Set("notify", func(level, title, message string) {
		h.bridge.Notify(level, title, message)
	})
	api.Set("showModal", func(title, message string) {
		h.bridge.ShowModal(title, message)
	})

	api.Set("readFile", func(call goja.FunctionCall) goja.Value {
		content, err := h.bridge.VFSRead(call.Argument(0).String())
		if err != nil {
			return goja.Null()
		}
		return h.vm.ToValue(content)
	})
	api.Set("writeFile", func(path, content string) bool {
		return h.bridge.VFSWrite(path, content) == nil
	})
	api.Set("listFiles", func(call goja.FunctionCall) goja.Value {
		names, err := h.bridge.VFSList(call.Argument(0).String())
		if err != nil {
			return h.vm.ToValue([]string{})
		}
		return h.vm.ToValue(names)
	})

	api.Set("uploadFile", func(parent, name, content string) bool {
		return h.bridge.VFSUpload(parent, name, content) == nil
	})

	// User-app management. The bridge refuses these for apps without
	// the privilege, so they degrade the same way a backend error does.
	appsObj := h.vm.NewObject()
	appsObj.Set("list", func(goja.FunctionCall) goja.Value {
		summaries, err := h.bridge.AppsList()
		if err != nil {
			h.log.Warn("app list failed", zap.Error(err))
			return h.vm.NewArray()
		}
		out := make([]interface{}, len(summaries))
		for i, s := range summaries {
			o := h.vm.NewObject()
			o.Set("id", s.ID)
			o.Set("name", s.Name)
			o.Set("icon", s.Icon)
			o.Set("type", s.Type)
			o.Set("version", s.Version)
			out[i] = o
		}
		return h.vm.NewArray(out...)
	})
	appsObj.Set("install", func(filename, pkg string) bool {
		if err := h.bridge.AppsInstall(filename, pkg); err != nil {
			h.log.Warn("app install failed", zap.String("filename", filename), zap.Error(err))
			return false
		}
		return true
	})
	appsObj.Set("uninstall", func(appID string) bool {
		if err := h.bridge.AppsUninstall(appID); err != nil {
			h.log.Warn("app uninstall failed", zap.String("target", appID), zap.Error(err))
			return false
		}
		return true
	})
	appsObj.Set("refresh", func() bool {
		if err := h.bridge.AppsRefresh(); err != nil {
			h.log.Warn("app refresh failed", zap.Error(err))
			return false
		}
		return true
	})
	api.Set("apps", appsObj)

	socket := h.vm.NewObject()
	socket.Set("connect", func() bool { return h.bridge.SocketConnect() == nil })
	socket.Set("send", func(data string) bool { return h.bridge.SocketSend(data) == nil })
	socket.Set("disconnect", func() { h.bridge.SocketDisconnect() })
	socket.Set("connected", func() bool { return h.bridge.SocketConnected() })
	api.Set("socket", socket)

	h.vm.Set("nimbus", api)
}
