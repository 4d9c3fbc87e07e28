package sandbox

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/track"
)

// Handle is one mounted app runtime. The underlying VM is single
// threaded; every invocation path serializes on vmMu.
type Handle struct {
	appID  string
	vm     *goja.Runtime
	vmMu   sync.Mutex
	closed atomic.Bool

	registry map[string]goja.Callable

	root       *dom.Element
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	tracker    *track.Tracker
	bridge     Bridge

	// sessionStorage scope; dies with the handle.
	sessionMu    sync.Mutex
	sessionStore map[string]string

	// listener identity for removeEventListener, keyed by node ref.
	listenerMu sync.Mutex
	listeners  map[string][]storedListener

	timerSeq    atomic.Int64
	callTimeout time.Duration

	log     *logging.Logger
	metrics *monitoring.Metrics
}

type storedListener struct {
	event string
	fn    goja.Value
	key   int64
}

// AppID returns the owning app.
func (h *Handle) AppID() string { return h.appID }

// Tracker exposes the app's resource tracker for display surfaces.
func (h *Handle) Tracker() *track.Tracker { return h.tracker }

// Counts reports currently tracked timers and listeners.
func (h *Handle) Counts() (timers, listeners int) { return h.tracker.Counts() }

// Functions lists the captured registry names.
func (h *Handle) Functions() []string {
	names := make([]string, 0, len(h.registry))
	for name := range h.registry {
		names = append(names, name)
	}
	return names
}

// Call invokes a registered top-level function by name. Unknown names
// return an error; a script error inside the function is returned, not
// propagated.
func (h *Handle) Call(name string, args ...interface{}) (interface{}, error) {
	fn, ok := h.registry[name]
	if !ok {
		return nil, fmt.Errorf("function %q not found in app %s", name, h.appID)
	}

	h.vmMu.Lock()
	defer h.vmMu.Unlock()
	if h.closed.Load() {
		return nil, fmt.Errorf("app %s is closed", h.appID)
	}

	stop := h.armWatchdog()
	defer stop()

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = h.vm.ToValue(a)
	}

	result, err := fn(goja.Undefined(), values...)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", h.appID, name, err)
	}
	return exportValue(result), nil
}

// BindFunction routes a view event on el to a registry function.
// Markup-declared handlers have no callback object to register through
// addEventListener; the launch pipeline binds them here after mount.
// Reports whether the name resolved.
func (h *Handle) BindFunction(el *dom.Element, event, name string) bool {
	fn, ok := h.registry[name]
	if !ok {
		return false
	}

	ref := el.Ref()
	remove := h.dispatcher.Add(ref, event, func(ev dom.Event) {
		h.invokeListener(fn, ev)
	})
	h.tracker.AddListener(ref, event, remove)
	return true
}

// Cleanup tears the app down exactly once: cancels timers, detaches
// listeners, disconnects the socket, and reports the swept counts. A
// second call is a no-op returning zeros. The window DOM is the Window
// Manager's to remove, afterwards.
func (h *Handle) Cleanup() (timersCleared, listenersRemoved int) {
	if !h.closed.CompareAndSwap(false, true) {
		return 0, 0
	}

	timersCleared, listenersRemoved = h.tracker.Sweep()
	h.bridge.SocketDisconnect()

	if h.metrics != nil {
		h.metrics.RecordCleanup(timersCleared, listenersRemoved)
	}
	h.log.Info("app cleaned up",
		zap.String("app_id", h.appID),
		zap.Int("timers", timersCleared),
		zap.Int("listeners", listenersRemoved))
	return timersCleared, listenersRemoved
}

// Closed reports whether Cleanup has run.
func (h *Handle) Closed() bool { return h.closed.Load() }

// invoke runs a stored callable on the VM with the watchdog armed.
// Errors are logged and swallowed; one bad callback must not take the
// shell down.
func (h *Handle) invoke(fn goja.Callable, args ...goja.Value) {
	h.vmMu.Lock()
	defer h.vmMu.Unlock()
	if h.closed.Load() {
		return
	}

	stop := h.armWatchdog()
	defer stop()

	if _, err := fn(goja.Undefined(), args...); err != nil {
		if h.metrics != nil {
			h.metrics.SandboxErrors.Inc()
		}
		h.log.Warn("script callback failed",
			zap.String("app_id", h.appID),
			zap.Error(err))
	}
}

// invokeListener builds the event object and runs one listener.
func (h *Handle) invokeListener(fn goja.Callable, ev dom.Event) {
	h.vmMu.Lock()
	defer h.vmMu.Unlock()
	if h.closed.Load() {
		return
	}

	stop := h.armWatchdog()
	defer stop()

	obj := h.vm.NewObject()
	obj.Set("type", ev.Type)
	obj.Set("target", h.proxyByRef(ev.Target))
	obj.Set("value", ev.Value)
	obj.Set("key", ev.Key)
	obj.Set("clientX", ev.X)
	obj.Set("clientY", ev.Y)
	obj.Set("preventDefault", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	obj.Set("stopPropagation", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	if _, err := fn(goja.Undefined(), obj); err != nil {
		if h.metrics != nil {
			h.metrics.SandboxErrors.Inc()
		}
		h.log.Warn("event listener failed",
			zap.String("app_id", h.appID),
			zap.String("event", ev.Type),
			zap.Error(err))
	}
}

// armWatchdog interrupts the VM if a single invocation overruns the
// configured timeout. Callers hold vmMu.
func (h *Handle) armWatchdog() (stop func()) {
	timer := time.AfterFunc(h.callTimeout, func() {
		h.vm.Interrupt("execution timeout exceeded")
	})
	return func() {
		timer.Stop()
		h.vm.ClearInterrupt()
	}
}

// exportValue converts a goja value to a plain Go value.
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
