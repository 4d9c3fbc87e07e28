// Package taskbar derives the status-bar app strip from window manager
// state. The presenter keeps no window state of its own; every snapshot
// is recomputed from the source, so the strip can never drift from the
// manager's registry.
package taskbar

import (
	"sync"

	"github.com/nimbusos/shell/internal/window"
)

// Source is the slice of the window manager the presenter reads.
type Source interface {
	Windows() []window.Info
}

// Entry is one taskbar slot, in window opening order.
type Entry struct {
	AppID     string `json:"appId"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	Active    bool   `json:"active"`
	Minimized bool   `json:"minimized"`
	State     string `json:"state"`
}

// Presenter turns window snapshots into taskbar strips and fans strip
// refreshes out to stream subscribers.
type Presenter struct {
	source Source

	mu      sync.Mutex
	subs    map[uint64]chan []Entry
	nextSub uint64
}

// NewPresenter creates a presenter over the window source.
func NewPresenter(source Source) *Presenter {
	return &Presenter{
		source: source,
		subs:   make(map[uint64]chan []Entry),
	}
}

// Snapshot derives the current strip. Background windows never appear.
func (p *Presenter) Snapshot() []Entry {
	wins := p.source.Windows()
	out := make([]Entry, 0, len(wins))
	for _, w := range wins {
		if w.Background {
			continue
		}
		out = append(out, Entry{
			AppID:     w.AppID,
			Title:     w.Title,
			Icon:      w.Icon,
			Active:    w.Active,
			Minimized: w.Minimized,
			State:     displayState(w),
		})
	}
	return out
}

// displayState resolves the slot glyph. A window minimized while
// maximized keeps its maximized look until it is unmaximized.
func displayState(w window.Info) string {
	switch {
	case w.Maximized:
		return "maximized"
	case w.Minimized:
		return "minimized"
	default:
		return "normal"
	}
}

// HandleEvent refreshes subscribers after a window state change. The
// gateway wires it into the manager-event fanout. Geometry-only events
// do not alter the strip and are skipped, so drags don't spam the
// stream.
func (p *Presenter) HandleEvent(ev window.Event) {
	if ev.Kind == window.EventMoved || ev.Kind == window.EventResized {
		return
	}
	p.broadcast()
}

func (p *Presenter) broadcast() {
	snap := p.Snapshot()

	p.mu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Slow subscribers miss a refresh; the next one carries the
			// full strip anyway.
		}
	}
	p.mu.Unlock()
}

// Subscribe registers a listener for strip refreshes. The returned
// cancel func unregisters it and closes the channel.
func (p *Presenter) Subscribe() (<-chan []Entry, func()) {
	ch := make(chan []Entry, 8)

	p.mu.Lock()
	key := p.nextSub
	p.nextSub++
	p.subs[key] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[key]; ok {
			delete(p.subs, key)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}
