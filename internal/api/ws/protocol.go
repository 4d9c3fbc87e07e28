package ws

import (
	"time"

	"github.com/nimbusos/shell/internal/dom"
)

// Inbound message types.
const (
	MsgPing        = "ping"
	MsgViewport    = "viewport"
	MsgPointerDown = "pointer.down"
	MsgPointerMove = "pointer.move"
	MsgPointerUp   = "pointer.up"
	MsgCommand     = "command"
	MsgDOMEvent    = "event"
	MsgTermOpen    = "terminal.open"
	MsgTermInput   = "terminal.input"
	MsgTermResize  = "terminal.resize"
	MsgTermClose   = "terminal.close"
)

// Outbound message types. Window state events use "window." plus the
// manager's event kind ("window.opened", "window.focused", ...).
const (
	EvSystem       = "system"
	EvPong         = "pong"
	EvError        = "error"
	EvRender       = "render"
	EvMutations    = "mutations"
	EvTaskbar      = "taskbar"
	EvNotification = "notification"
	EvTermOpened   = "terminal.opened"
	EvTermData     = "terminal.data"
	EvTermClosed   = "terminal.closed"
)

// Inbound is one message from a view. Fields beyond Type are
// populated per message type; unknown fields are ignored.
type Inbound struct {
	Type   string     `json:"type"`
	AppID  string     `json:"appId,omitempty"`
	Action string     `json:"action,omitempty"`
	Dir    string     `json:"dir,omitempty"`
	X      float64    `json:"x,omitempty"`
	Y      float64    `json:"y,omitempty"`
	Width  int        `json:"width,omitempty"`
	Height int        `json:"height,omitempty"`
	Event  *dom.Event `json:"event,omitempty"`
	Term   string     `json:"term,omitempty"`
	Cols   int        `json:"cols,omitempty"`
	Rows   int        `json:"rows,omitempty"`
	Data   string     `json:"data,omitempty"`
}

// Outbound is one event pushed to views. Data carries the payload for
// the type: rendered HTML, a mutation batch, taskbar entries, a
// notification, or base64 terminal output.
type Outbound struct {
	Type      string      `json:"type"`
	AppID     string      `json:"appId,omitempty"`
	Term      string      `json:"term,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ClientInfo describes one connected view for the status endpoint.
type ClientInfo struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
}

// Status reports connected views and recently broadcast state events.
type Status struct {
	Clients []ClientInfo `json:"clients"`
	Recent  []Outbound   `json:"recent"`
}

func event(typ string) Outbound {
	return Outbound{Type: typ, Timestamp: time.Now().Unix()}
}
