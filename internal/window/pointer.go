package window

import (
	"fmt"
	"strings"

	"github.com/nimbusos/shell/internal/shared/types"
)

// dragState tracks the single active window drag. Pointer coordinates
// are in desktop units, already divided by the app scale.
type dragState struct {
	active bool
	appID  string
	offX   int
	offY   int
}

// resizeState tracks the single active resize against the geometry at
// pointer-down, so each move recomputes from the origin instead of
// accumulating rounding drift.
type resizeState struct {
	active bool
	appID  string
	dir    string
	startX int
	startY int
	start  types.Geometry
}

func validResizeDir(dir string) bool {
	switch dir {
	case "n", "s", "e", "w", "ne", "nw", "se", "sw":
		return true
	}
	return false
}

// StartDrag begins moving a window. The grab offset is kept so the
// window tracks the pointer from wherever the header was grabbed.
// Maximized windows do not move; the call is ignored for them.
func (m *Manager) StartDrag(appID string, x, y float64) error {
	var focused bool

	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if w.minimized {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", appID, ErrNotOpen)
	}
	if m.active != appID {
		m.focusLocked(appID)
		focused = true
	}
	if w.maximized {
		m.mu.Unlock()
		if focused {
			m.emit(Event{Kind: EventFocused, AppID: appID})
		}
		return nil
	}
	m.resize.active = false
	m.drag = dragState{
		active: true,
		appID:  appID,
		offX:   round(x) - w.geom.X,
		offY:   round(y) - w.geom.Y,
	}
	m.mu.Unlock()

	if focused {
		m.emit(Event{Kind: EventFocused, AppID: appID})
	}
	return nil
}

// StartResize begins resizing a window from one of the eight edge or
// corner handles. Maximized windows keep their derived geometry; the
// call is ignored for them.
func (m *Manager) StartResize(appID, dir string, x, y float64) error {
	if !validResizeDir(dir) {
		return fmt.Errorf("resize %s: bad direction %q", appID, dir)
	}
	var focused bool

	m.mu.Lock()
	w, err := m.visibleLocked(appID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if w.minimized {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", appID, ErrNotOpen)
	}
	if m.active != appID {
		m.focusLocked(appID)
		focused = true
	}
	if w.maximized {
		m.mu.Unlock()
		if focused {
			m.emit(Event{Kind: EventFocused, AppID: appID})
		}
		return nil
	}
	m.drag.active = false
	m.resize = resizeState{
		active: true,
		appID:  appID,
		dir:    dir,
		startX: round(x),
		startY: round(y),
		start:  w.geom,
	}
	m.mu.Unlock()

	if focused {
		m.emit(Event{Kind: EventFocused, AppID: appID})
	}
	return nil
}

// PointerMove advances the active drag or resize. Moves with neither
// active are ignored, so the gateway can forward every pointer event
// without tracking state itself.
func (m *Manager) PointerMove(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.drag.active:
		w, ok := m.wins[m.drag.appID]
		if !ok {
			m.drag.active = false
			return
		}
		m.moveLocked(w, round(x), round(y))
	case m.resize.active:
		w, ok := m.wins[m.resize.appID]
		if !ok {
			m.resize.active = false
			return
		}
		m.resizeLocked(w, round(x), round(y))
	}
}

// PointerUp ends the active drag or resize, schedules a geometry save
// and reports the change.
func (m *Manager) PointerUp() {
	var ev Event

	m.mu.Lock()
	switch {
	case m.drag.active:
		m.drag.active = false
		if _, ok := m.wins[m.drag.appID]; ok {
			m.scheduleSaveLocked(m.drag.appID)
			ev = Event{Kind: EventMoved, AppID: m.drag.appID}
		}
	case m.resize.active:
		m.resize.active = false
		if _, ok := m.wins[m.resize.appID]; ok {
			m.scheduleSaveLocked(m.resize.appID)
			ev = Event{Kind: EventResized, AppID: m.resize.appID}
		}
	}
	m.mu.Unlock()

	if ev.Kind != "" {
		m.emit(ev)
	}
}

// moveLocked repositions a dragged window. The top edge stays inside
// the usable area so the header never escapes the pointer; horizontal
// overhang is allowed.
func (m *Manager) moveLocked(w *AppWindow, px, py int) {
	nx := px - m.drag.offX
	ny := py - m.drag.offY

	maxY := m.usableHeightLocked() - w.geom.Height
	if maxY < 0 {
		maxY = 0
	}
	if ny > maxY {
		ny = maxY
	}
	if ny < 0 {
		ny = 0
	}

	if nx == w.geom.X && ny == w.geom.Y {
		return
	}
	w.geom.X = nx
	w.geom.Y = ny
	m.applyGeometryLocked(w)
}

// resizeLocked recomputes geometry from the pointer-down origin. Each
// direction letter adjusts one axis; the opposite edge stays fixed,
// including when the minimum size clamps the delta.
func (m *Manager) resizeLocked(w *AppWindow, px, py int) {
	st := m.resize.start
	dx := px - m.resize.startX
	dy := py - m.resize.startY
	dir := m.resize.dir

	g := st
	east := strings.Contains(dir, "e")
	west := strings.Contains(dir, "w")
	south := strings.Contains(dir, "s")
	north := strings.Contains(dir, "n")

	if east {
		g.Width = st.Width + dx
	}
	if west {
		g.Width = st.Width - dx
		g.X = st.X + dx
	}
	if south {
		g.Height = st.Height + dy
	}
	if north {
		g.Height = st.Height - dy
		g.Y = st.Y + dy
	}

	if g.Width < minWidth {
		if west {
			g.X = st.X + st.Width - minWidth
		}
		g.Width = minWidth
	}
	if g.Height < minHeight {
		if north {
			g.Y = st.Y + st.Height - minHeight
		}
		g.Height = minHeight
	}

	if north && g.Y < 0 {
		g.Height += g.Y
		g.Y = 0
		if g.Height < minHeight {
			g.Height = minHeight
		}
	}
	if south {
		if max := m.usableHeightLocked() - g.Y; g.Height > max {
			g.Height = max
			if g.Height < minHeight {
				g.Height = minHeight
			}
		}
	}

	if g == w.geom {
		return
	}
	w.geom = g
	m.applyGeometryLocked(w)
}
