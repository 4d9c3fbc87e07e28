package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/shared/types"
)

// zBase is the stacking order every unfocused window sits at; the
// focused window sits one above.
const zBase = 100

var (
	// ErrNotOpen is returned for operations on an app with no window.
	ErrNotOpen = errors.New("window not open")

	// ErrOpenCancelled is returned when a close request arrives while
	// the app's launch is still in flight; the prepared window is
	// discarded instead of registered.
	ErrOpenCancelled = errors.New("open cancelled by close")
)

// Launcher turns an app id into a prepared, mounted window. The
// launch pipeline implements it.
type Launcher interface {
	Launch(ctx context.Context, appID string) (*Prepared, error)
}

// StateStore persists window geometry. The OS-API client implements it.
type StateStore interface {
	SaveWindowState(ctx context.Context, appID string, state types.WindowState) error
}

// Notifier dismisses an app's lingering notifications at close.
type Notifier interface {
	DismissApp(appID string) int
}

// AppHandle is the slice of a mounted sandbox the manager needs.
type AppHandle interface {
	Cleanup() (timersCleared, listenersRemoved int)
	Counts() (timers, listeners int)
}

// Prepared is the launch pipeline's finished product: the window
// subtree is already in the document and the app script has run.
type Prepared struct {
	AppID      string
	Title      string
	Icon       string
	Type       types.AppType
	Background bool

	// State is the resolved persisted geometry, nil when the app has
	// never been positioned (the manager computes a default).
	State *types.WindowState

	// Scale carries the app-scale factor from the launch payload's
	// preferences. Zero means the payload carried none; the manager
	// keeps its current scale then.
	Scale float64

	Handle AppHandle
	Root   *dom.Element
}

// AppWindow is one open window's internal record.
type AppWindow struct {
	appID      string
	title      string
	icon       string
	appType    types.AppType
	background bool

	geom      types.Geometry
	preMax    *types.Geometry
	maximized bool
	minimized bool
	z         int
	seq       int64

	handle AppHandle
	root   *dom.Element
}

// Info is a read-only window snapshot for the taskbar and the HTTP
// surface.
type Info struct {
	AppID      string         `json:"appId"`
	Title      string         `json:"title"`
	Icon       string         `json:"icon"`
	Type       types.AppType  `json:"type"`
	Background bool           `json:"background"`
	Minimized  bool           `json:"minimized"`
	Maximized  bool           `json:"maximized"`
	Active     bool           `json:"active"`
	Geometry   types.Geometry `json:"geometry"`
	Z          int            `json:"z"`
}

// EventKind labels a window state change for subscribers.
type EventKind string

const (
	EventOpened    EventKind = "opened"
	EventClosed    EventKind = "closed"
	EventFocused   EventKind = "focused"
	EventMinimized EventKind = "minimized"
	EventRestored  EventKind = "restored"
	EventMaximized EventKind = "maximized"
	EventMoved     EventKind = "moved"
	EventResized   EventKind = "resized"
)

// Event is one window state change.
type Event struct {
	Kind  EventKind `json:"kind"`
	AppID string    `json:"appId"`
}

type flightKind int

const (
	flOpen flightKind = iota
	flClose
)

// flight is one in-progress open or close for an app id. Concurrent
// callers collapse onto it instead of starting a second attempt.
type flight struct {
	kind      flightKind
	done      chan struct{}
	err       error
	cancelled bool
}

// Manager owns the appID -> window map and the global drag/resize
// records.
type Manager struct {
	mu       sync.Mutex
	wins     map[string]*AppWindow
	inflight map[string]*flight
	debounce map[string]*time.Timer
	active   string
	seq      int64

	drag   dragState
	resize resizeState

	vpW, vpH  int
	statusBar int
	scale     float64

	saveAfter time.Duration

	doc      *dom.Document
	launcher Launcher
	store    StateStore
	notify   Notifier

	onEvent func(Event)

	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates a window manager over the shared document.
func NewManager(cfg config.DesktopConfig, doc *dom.Document, launcher Launcher, store StateStore, notify Notifier, log *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		wins:      make(map[string]*AppWindow),
		inflight:  make(map[string]*flight),
		debounce:  make(map[string]*time.Timer),
		vpW:       cfg.ViewportWidth,
		vpH:       cfg.ViewportHeight,
		statusBar: cfg.StatusBarHeight,
		scale:     1,
		saveAfter: cfg.SaveDebounce,
		doc:       doc,
		launcher:  launcher,
		store:     store,
		notify:    notify,
		log:       log.Component("window"),
		metrics:   metrics,
	}
}

// SetOnEvent registers the single state-change callback. The gateway
// fans it out to the taskbar and the view stream.
func (m *Manager) SetOnEvent(fn func(Event)) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// SetAppScale updates the display scale factor and relays out any
// maximized windows, which track the scaled viewport.
func (m *Manager) SetAppScale(scale float64) {
	if scale <= 0 {
		scale = 1
	}
	m.mu.Lock()
	m.scale = scale
	m.relayoutMaximizedLocked()
	m.mu.Unlock()
}

// SetViewport records the view-reported viewport and relays out any
// maximized windows.
func (m *Manager) SetViewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.mu.Lock()
	m.vpW, m.vpH = width, height
	m.relayoutMaximizedLocked()
	m.mu.Unlock()
}

// OpenApp opens an app window, collapsing concurrent calls for one id
// into a single attempt. Already-open visible windows get focused;
// minimized ones get restored.
func (m *Manager) OpenApp(ctx context.Context, appID string) error {
	for {
		m.mu.Lock()

		if w, ok := m.wins[appID]; ok {
			if _, busy := m.inflight[appID]; !busy {
				if w.minimized {
					m.restoreLocked(w)
					m.mu.Unlock()
					m.emit(Event{EventRestored, appID})
				} else {
					m.focusLocked(appID)
					m.mu.Unlock()
					m.emit(Event{EventFocused, appID})
				}
				return nil
			}
		}

		if fl, ok := m.inflight[appID]; ok {
			m.mu.Unlock()
			<-fl.done
			if fl.kind == flOpen {
				return fl.err
			}
			// A close just finished; retry with a clean slate.
			continue
		}

		fl := &flight{kind: flOpen, done: make(chan struct{})}
		m.inflight[appID] = fl
		m.mu.Unlock()

		prep, err := m.launcher.Launch(ctx, appID)

		m.mu.Lock()
		cancelled := fl.cancelled
		delete(m.inflight, appID)
		if err != nil {
			m.mu.Unlock()
			fl.err = err
			close(fl.done)
			return err
		}
		if cancelled {
			m.mu.Unlock()
			prep.Handle.Cleanup()
			m.doc.RemoveAppNodes(appID)
			fl.err = ErrOpenCancelled
			close(fl.done)
			m.log.Info("launch discarded, closed mid-flight", zap.String("app_id", appID))
			return ErrOpenCancelled
		}

		if prep.Scale > 0 && prep.Scale != m.scale {
			m.scale = prep.Scale
			m.relayoutMaximizedLocked()
		}
		m.registerLocked(prep)
		open := m.openCountLocked()
		m.mu.Unlock()
		close(fl.done)

		if m.metrics != nil {
			m.metrics.IncWindowsOpened()
			m.metrics.SetWindowsOpen(open)
		}
		m.emit(Event{EventOpened, appID})
		m.log.Info("window opened",
			zap.String("app_id", appID),
			zap.String("type", string(prep.Type)),
			zap.Bool("background", prep.Background))
		return nil
	}
}

// CloseApp tears an app down: flush geometry, sweep sandbox resources,
// dismiss its notifications, remove its document nodes, drop the map
// entry. The order is contractual.
func (m *Manager) CloseApp(ctx context.Context, appID string) error {
	m.mu.Lock()

	if fl, ok := m.inflight[appID]; ok {
		if fl.kind == flOpen {
			fl.cancelled = true
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		<-fl.done
		return nil
	}

	w, ok := m.wins[appID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("close %s: %w", appID, ErrNotOpen)
	}

	fl := &flight{kind: flClose, done: make(chan struct{})}
	m.inflight[appID] = fl
	if t, ok := m.debounce[appID]; ok {
		t.Stop()
		delete(m.debounce, appID)
	}
	if m.drag.active && m.drag.appID == appID {
		m.drag.active = false
	}
	if m.resize.active && m.resize.appID == appID {
		m.resize.active = false
	}
	state, savable := persistableLocked(w)
	m.mu.Unlock()

	if savable {
		if err := m.store.SaveWindowState(ctx, appID, state); err != nil {
			m.log.Warn("geometry flush failed at close",
				zap.String("app_id", appID), zap.Error(err))
		}
	}

	timers, listeners := w.handle.Cleanup()
	m.notify.DismissApp(appID)
	m.doc.RemoveAppNodes(appID)

	m.mu.Lock()
	delete(m.wins, appID)
	if m.active == appID {
		m.active = ""
	}
	delete(m.inflight, appID)
	open := m.openCountLocked()
	m.mu.Unlock()
	close(fl.done)

	if m.metrics != nil {
		m.metrics.IncWindowsClosed()
		m.metrics.SetWindowsOpen(open)
	}
	m.emit(Event{EventClosed, appID})
	m.log.Info("window closed",
		zap.String("app_id", appID),
		zap.Int("timers_cleared", timers),
		zap.Int("listeners_removed", listeners))
	return nil
}

// Minimize hides a window without tearing it down.
func (m *Manager) Minimize(appID string) error {
	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if w.minimized {
		m.mu.Unlock()
		return nil
	}
	w.minimized = true
	w.root.SetStyleProp("display", "none")
	w.root.RemoveClass("focused")
	if m.active == appID {
		m.active = ""
	}
	m.scheduleSaveLocked(appID)
	m.mu.Unlock()

	m.emit(Event{EventMinimized, appID})
	return nil
}

// Restore shows a minimized window again and focuses it.
func (m *Manager) Restore(appID string) error {
	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !w.minimized {
		m.mu.Unlock()
		return nil
	}
	m.restoreLocked(w)
	m.mu.Unlock()

	m.emit(Event{EventRestored, appID})
	return nil
}

// ToggleMaximize flips between the saved-or-default rectangle and the
// scaled full-viewport rectangle.
func (m *Manager) ToggleMaximize(appID string) error {
	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if !w.maximized {
		pre := w.geom
		w.preMax = &pre
		w.maximized = true
		w.geom = m.maximizedGeometryLocked()
		w.root.AddClass("maximized")
	} else {
		w.maximized = false
		if w.preMax != nil {
			w.geom = *w.preMax
			w.preMax = nil
		} else {
			w.geom = m.defaultGeometryLocked()
		}
		w.root.RemoveClass("maximized")
	}
	m.applyGeometryLocked(w)
	m.scheduleSaveLocked(appID)
	m.mu.Unlock()

	m.emit(Event{EventMaximized, appID})
	return nil
}

// Focus raises one window above the rest and marks it active.
func (m *Manager) Focus(appID string) error {
	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if w.minimized {
		m.mu.Unlock()
		return nil
	}
	m.focusLocked(appID)
	m.mu.Unlock()

	m.emit(Event{EventFocused, appID})
	return nil
}

// Windows returns open windows in opening order.
func (m *Manager) Windows() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.wins))
	for _, w := range m.wins {
		infos = append(infos, m.infoLocked(w))
	}
	sort.Slice(infos, func(i, j int) bool {
		return m.wins[infos[i].AppID].seq < m.wins[infos[j].AppID].seq
	})
	return infos
}

// Get returns one window's snapshot.
func (m *Manager) Get(appID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wins[appID]
	if !ok {
		return Info{}, false
	}
	return m.infoLocked(w), true
}

// Active returns the focused app id, empty when none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Count returns the number of open windows, background included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wins)
}

// ResourceInfo is one app's tracked resource counts, for the
// resource-manager surface.
type ResourceInfo struct {
	AppID     string `json:"appId"`
	Title     string `json:"title"`
	Timers    int    `json:"timers"`
	Listeners int    `json:"listeners"`
}

// Resources reports tracked timers and listeners per open app.
func (m *Manager) Resources() []ResourceInfo {
	m.mu.Lock()
	handles := make([]*AppWindow, 0, len(m.wins))
	for _, w := range m.wins {
		handles = append(handles, w)
	}
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })
	out := make([]ResourceInfo, 0, len(handles))
	for _, w := range handles {
		timers, listeners := w.handle.Counts()
		out = append(out, ResourceInfo{AppID: w.appID, Title: w.title, Timers: timers, Listeners: listeners})
	}
	return out
}

// FlushState saves an app's geometry immediately, skipping the
// debounce. Close uses it; tests use it to observe settled saves.
func (m *Manager) FlushState(ctx context.Context, appID string) error {
	m.mu.Lock()
	if t, ok := m.debounce[appID]; ok {
		t.Stop()
		delete(m.debounce, appID)
	}
	w, ok := m.wins[appID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("flush %s: %w", appID, ErrNotOpen)
	}
	state, savable := persistableLocked(w)
	m.mu.Unlock()

	if !savable {
		return nil
	}
	return m.store.SaveWindowState(ctx, appID, state)
}

func (m *Manager) infoLocked(w *AppWindow) Info {
	return Info{
		AppID:      w.appID,
		Title:      w.title,
		Icon:       w.icon,
		Type:       w.appType,
		Background: w.background,
		Minimized:  w.minimized,
		Maximized:  w.maximized,
		Active:     m.active == w.appID,
		Geometry:   w.geom,
		Z:          w.z,
	}
}

// visibleLocked resolves an app id to a displayable window that is
// not mid-open or mid-close. Background windows have no visual state
// to manipulate.
func (m *Manager) visibleLocked(appID string) (*AppWindow, error) {
	if _, busy := m.inflight[appID]; busy {
		return nil, fmt.Errorf("%s: %w", appID, ErrNotOpen)
	}
	w, ok := m.wins[appID]
	if !ok || w.background {
		return nil, fmt.Errorf("%s: %w", appID, ErrNotOpen)
	}
	return w, nil
}

func (m *Manager) openCountLocked() int {
	return len(m.wins)
}

func (m *Manager) registerLocked(prep *Prepared) *AppWindow {
	m.seq++
	w := &AppWindow{
		appID:      prep.AppID,
		title:      prep.Title,
		icon:       prep.Icon,
		appType:    prep.Type,
		background: prep.Background,
		z:          zBase,
		seq:        m.seq,
		handle:     prep.Handle,
		root:       prep.Root,
	}

	if prep.State != nil {
		w.geom = m.clampGeometryLocked(prep.State.Geometry())
		if prep.State.Maximized {
			pre := w.geom
			w.preMax = &pre
			w.maximized = true
			w.geom = m.maximizedGeometryLocked()
		}
	} else {
		w.geom = m.defaultGeometryLocked()
	}

	m.wins[prep.AppID] = w

	if w.background {
		w.root.SetStyleProp("display", "none")
		return w
	}

	m.applyGeometryLocked(w)
	if w.maximized {
		w.root.AddClass("maximized")
	}
	m.focusLocked(w.appID)
	return w
}

func (m *Manager) restoreLocked(w *AppWindow) {
	w.minimized = false
	w.root.SetStyleProp("display", "")
	m.focusLocked(w.appID)
	m.scheduleSaveLocked(w.appID)
}

func (m *Manager) focusLocked(appID string) {
	target, ok := m.wins[appID]
	if !ok || target.background {
		return
	}
	for _, w := range m.wins {
		if w.background {
			continue
		}
		if w.z != zBase {
			w.z = zBase
			w.root.SetStyleProp("z-index", strconv.Itoa(zBase))
		}
		if w.appID != appID {
			w.root.RemoveClass("focused")
		}
	}
	target.z = zBase + 1
	target.root.SetStyleProp("z-index", strconv.Itoa(zBase+1))
	target.root.AddClass("focused")
	m.active = appID
}

func (m *Manager) relayoutMaximizedLocked() {
	for _, w := range m.wins {
		if w.maximized && !w.background {
			w.geom = m.maximizedGeometryLocked()
			m.applyGeometryLocked(w)
		}
	}
}

// scheduleSaveLocked debounces one app's geometry save; repeated calls
// within the quiet period collapse into the final state.
func (m *Manager) scheduleSaveLocked(appID string) {
	if w, ok := m.wins[appID]; !ok || w.background {
		return
	}
	if t, ok := m.debounce[appID]; ok {
		t.Reset(m.saveAfter)
		return
	}
	m.debounce[appID] = time.AfterFunc(m.saveAfter, func() {
		m.persistNow(appID)
	})
}

func (m *Manager) persistNow(appID string) {
	m.mu.Lock()
	delete(m.debounce, appID)
	w, ok := m.wins[appID]
	if !ok {
		m.mu.Unlock()
		return
	}
	state, savable := persistableLocked(w)
	m.mu.Unlock()

	if !savable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveWindowState(ctx, appID, state); err != nil {
		m.log.Warn("geometry save failed",
			zap.String("app_id", appID), zap.Error(err))
	}
}

// persistableLocked derives the state to save: a maximized window
// saves its pre-maximize rectangle with the flag set, so reopening
// restores both.
func persistableLocked(w *AppWindow) (types.WindowState, bool) {
	if w.background {
		return types.WindowState{}, false
	}
	geom := w.geom
	if w.maximized && w.preMax != nil {
		geom = *w.preMax
	}
	return types.StateFor(geom, w.maximized), true
}
