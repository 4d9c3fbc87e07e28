package window

import (
	"math"
	"strconv"

	"github.com/nimbusos/shell/internal/shared/types"
)

const (
	minWidth  = 400
	minHeight = 300

	defaultWidth  = 800
	defaultHeight = 600

	// cascadeStep offsets each newly defaulted window so stacked opens
	// do not fully overlap.
	cascadeStep = 32
)

func px(v int) string { return strconv.Itoa(v) + "px" }

func round(v float64) int { return int(math.Round(v)) }

// usableWidthLocked is the viewport width in desktop units, after the
// app-scale transform.
func (m *Manager) usableWidthLocked() int {
	return round(float64(m.vpW) / m.scale)
}

// usableHeightLocked excludes the reserved status-bar strip at the
// bottom of the viewport.
func (m *Manager) usableHeightLocked() int {
	h := m.vpH - m.statusBar
	if h < 0 {
		h = 0
	}
	return round(float64(h) / m.scale)
}

func (m *Manager) maximizedGeometryLocked() types.Geometry {
	return types.Geometry{X: 0, Y: 0, Width: m.usableWidthLocked(), Height: m.usableHeightLocked()}
}

// defaultGeometryLocked centers a default-sized window in the usable
// area, cascaded by the open-window count.
func (m *Manager) defaultGeometryLocked() types.Geometry {
	uw, uh := m.usableWidthLocked(), m.usableHeightLocked()

	w := defaultWidth
	if w > uw {
		w = uw
	}
	h := defaultHeight
	if h > uh {
		h = uh
	}

	off := (len(m.wins) % 8) * cascadeStep
	x := (uw-w)/2 + off
	y := (uh-h)/2 + off

	if x+w > uw {
		x = uw - w
	}
	if y+h > uh {
		y = uh - h
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return types.Geometry{X: x, Y: y, Width: w, Height: h}
}

// clampGeometryLocked sanitizes a persisted rectangle: minimum size,
// top edge on screen, bottom edge off the status bar where possible.
func (m *Manager) clampGeometryLocked(g types.Geometry) types.Geometry {
	if g.Width < minWidth {
		g.Width = minWidth
	}
	if g.Height < minHeight {
		g.Height = minHeight
	}
	if g.Y < 0 {
		g.Y = 0
	}
	if maxY := m.usableHeightLocked() - g.Height; maxY >= 0 && g.Y > maxY {
		g.Y = maxY
	}
	return g
}

func (m *Manager) applyGeometryLocked(w *AppWindow) {
	w.root.SetStyleProp("left", px(w.geom.X))
	w.root.SetStyleProp("top", px(w.geom.Y))
	w.root.SetStyleProp("width", px(w.geom.Width))
	w.root.SetStyleProp("height", px(w.geom.Height))
}
