package ws

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/shared/id"
	"github.com/nimbusos/shell/internal/taskbar"
	"github.com/nimbusos/shell/internal/terminal"
	"github.com/nimbusos/shell/internal/window"
)

const (
	sendBuffer  = 128
	historySize = 128

	// flushDelay coalesces mutation bursts into one batch; a launch
	// touches dozens of nodes and should reach the view as one frame.
	flushDelay = 15 * time.Millisecond

	// commandTimeout bounds window commands issued over the stream;
	// open goes through the full launch pipeline.
	commandTimeout = 30 * time.Second
)

// Shell is the window surface the stream drives.
type Shell interface {
	OpenApp(ctx context.Context, appID string) error
	CloseApp(ctx context.Context, appID string) error
	Minimize(appID string) error
	Restore(appID string) error
	ToggleMaximize(appID string) error
	Focus(appID string) error
	StartDrag(appID string, x, y float64) error
	StartResize(appID, dir string, x, y float64) error
	PointerMove(x, y float64)
	PointerUp()
	SetViewport(width, height int)
}

// Terminals is the pty surface reachable over the stream.
type Terminals interface {
	Create(appID string, cols, rows int) (terminal.Info, error)
	Write(termID id.TermID, data []byte) error
	Resize(termID id.TermID, cols, rows int) error
	Replay(termID id.TermID) ([]byte, error)
	Kill(termID id.TermID) error
}

// Hub fans shell events out to every connected view and routes view
// input to the window manager, DOM dispatcher, and terminal bridge.
type Hub struct {
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	shell      Shell
	terms      Terminals
	log        *logging.Logger
	metrics    *monitoring.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
	history []Outbound

	flushMu    sync.Mutex
	flushTimer *time.Timer
}

// NewHub creates a hub over the shared document. The hub does not own
// the document's mutation callback; wire WakeDOM to it during server
// assembly.
func NewHub(doc *dom.Document, dispatcher *dom.Dispatcher, shell Shell, terms Terminals, log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		doc:        doc,
		dispatcher: dispatcher,
		shell:      shell,
		terms:      terms,
		log:        log.Component("ws"),
		metrics:    metrics,
		clients:    make(map[*client]struct{}),
	}
}

// WakeDOM schedules a coalesced mutation flush. Safe to call from any
// goroutine, including inside document mutation paths.
func (h *Hub) WakeDOM() {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	if h.flushTimer != nil {
		return
	}
	h.flushTimer = time.AfterFunc(flushDelay, func() {
		h.flushMu.Lock()
		h.flushTimer = nil
		h.flushMu.Unlock()
		h.flushDOM()
	})
}

// flushDOM drains the document journal and broadcasts either the
// mutation batch or, after journal overrun, a full render.
func (h *Hub) flushDOM() {
	muts, resync := h.doc.Drain()
	if resync {
		h.broadcastRender()
		return
	}
	if len(muts) == 0 {
		return
	}
	ev := event(EvMutations)
	ev.Data = muts
	h.Broadcast(ev)
}

func (h *Hub) broadcastRender() {
	html, err := h.doc.HTML()
	if err != nil {
		h.log.Error("render failed", zap.Error(err))
		return
	}
	ev := event(EvRender)
	ev.Data = html
	h.Broadcast(ev)
}

// Broadcast pushes an event to every connected view without recording
// it in the late-joiner history.
func (h *Hub) Broadcast(ev Outbound) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.log.Error("marshal failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", ev.Type)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.enqueue(data) {
			go h.remove(c)
		}
	}
}

// publish broadcasts a state event and remembers it for late joiners.
func (h *Hub) publish(ev Outbound) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	h.mu.Unlock()
	h.Broadcast(ev)
}

// PublishWindowEvent forwards a window manager event to the views.
func (h *Hub) PublishWindowEvent(wev window.Event) {
	ev := event("window." + string(wev.Kind))
	ev.AppID = wev.AppID
	h.publish(ev)
}

// PublishTaskbar pushes a fresh taskbar snapshot.
func (h *Hub) PublishTaskbar(entries []taskbar.Entry) {
	ev := event(EvTaskbar)
	ev.Data = entries
	h.publish(ev)
}

// PublishNotification pushes one notification as a toast.
func (h *Hub) PublishNotification(n notify.Notification) {
	ev := event(EvNotification)
	ev.AppID = n.AppID
	ev.Data = n
	h.publish(ev)
}

// PublishTerminalData pushes pty output, base64-encoded for JSON
// transport. Terminal traffic stays out of the history.
func (h *Hub) PublishTerminalData(info terminal.Info, data []byte) {
	ev := event(EvTermData)
	ev.Term = info.ID.String()
	ev.AppID = info.AppID
	ev.Data = base64.StdEncoding.EncodeToString(data)
	h.Broadcast(ev)
}

// PublishTerminalClosed tells views a pty session ended.
func (h *Hub) PublishTerminalClosed(info terminal.Info) {
	ev := event(EvTermClosed)
	ev.Term = info.ID.String()
	ev.AppID = info.AppID
	h.Broadcast(ev)
}

// ClientCount returns the number of connected views.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Status reports connected views and the replayable event history.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Status{
		Clients: make([]ClientInfo, 0, len(h.clients)),
		Recent:  append([]Outbound(nil), h.history...),
	}
	for c := range h.clients {
		st.Clients = append(st.Clients, ClientInfo{
			ID:        c.id,
			Remote:    c.remote,
			Connected: c.joined,
		})
	}
	return st
}

// Shutdown disconnects every view.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.DecWSConnections()
	}
}

func (h *Hub) historySnapshot() []Outbound {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Outbound(nil), h.history...)
}
