package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/shared/id"
)

// MsgTermReplay asks for a session's recent output, so a
// reconnecting view can repaint its terminal.
const MsgTermReplay = "terminal.replay"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The session middleware gates the upgrade request; origins stay
	// open for LAN and dev setups.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and serves the view until it leaves.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:     uuid.NewString(),
		remote: c.ClientIP(),
		joined: time.Now(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.add(cl)
	h.log.Info("view connected",
		zap.String("client", cl.id),
		zap.String("remote", cl.remote),
	)

	go cl.writePump()
	h.hello(cl)
	h.readLoop(cl)

	h.remove(cl)
	h.log.Info("view disconnected", zap.String("client", cl.id))
}

// hello seeds a fresh view: welcome, full render, then the state
// events it missed.
func (h *Hub) hello(cl *client) {
	welcome := event(EvSystem)
	welcome.Data = "connected"
	h.sendTo(cl, welcome)

	if html, err := h.doc.HTML(); err == nil {
		render := event(EvRender)
		render.Data = html
		h.sendTo(cl, render)
	}

	for _, ev := range h.historySnapshot() {
		h.sendTo(cl, ev)
	}
}

func (h *Hub) readLoop(cl *client) {
	cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				h.log.Warn("read failed", zap.String("client", cl.id), zap.Error(err))
			}
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var msg Inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.sendError(cl, "", "malformed message")
			continue
		}
		h.handle(cl, msg)
	}
}

func (h *Hub) handle(cl *client, msg Inbound) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage("in", msg.Type)
	}

	switch msg.Type {
	case MsgPing:
		h.sendTo(cl, event(EvPong))

	case MsgViewport:
		if msg.Width > 0 && msg.Height > 0 {
			h.shell.SetViewport(msg.Width, msg.Height)
		}

	case MsgPointerDown:
		var err error
		if msg.Dir != "" {
			err = h.shell.StartResize(msg.AppID, msg.Dir, msg.X, msg.Y)
		} else {
			err = h.shell.StartDrag(msg.AppID, msg.X, msg.Y)
		}
		if err != nil {
			h.sendError(cl, msg.AppID, err.Error())
		}

	case MsgPointerMove:
		h.shell.PointerMove(msg.X, msg.Y)

	case MsgPointerUp:
		h.shell.PointerUp()

	case MsgDOMEvent:
		if msg.Event != nil {
			h.dispatcher.Dispatch(*msg.Event)
		}

	case MsgCommand:
		h.command(cl, msg)

	case MsgTermOpen, MsgTermInput, MsgTermResize, MsgTermReplay, MsgTermClose:
		h.terminal(cl, msg)

	default:
		h.sendError(cl, "", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (h *Hub) command(cl *client, msg Inbound) {
	if msg.AppID == "" {
		h.sendError(cl, "", "command needs an appId")
		return
	}

	switch msg.Action {
	case "open", "close":
		// Launch and teardown block on network and app scripts; run
		// them off the read loop so pointer input stays live.
		action, appID := msg.Action, msg.AppID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			var err error
			if action == "open" {
				err = h.shell.OpenApp(ctx, appID)
			} else {
				err = h.shell.CloseApp(ctx, appID)
			}
			if err != nil {
				h.sendError(cl, appID, err.Error())
			}
		}()
		return
	}

	var err error
	switch msg.Action {
	case "minimize":
		err = h.shell.Minimize(msg.AppID)
	case "restore":
		err = h.shell.Restore(msg.AppID)
	case "maximize":
		err = h.shell.ToggleMaximize(msg.AppID)
	case "focus":
		err = h.shell.Focus(msg.AppID)
	default:
		err = fmt.Errorf("unknown action %q", msg.Action)
	}
	if err != nil {
		h.sendError(cl, msg.AppID, err.Error())
	}
}

func (h *Hub) terminal(cl *client, msg Inbound) {
	switch msg.Type {
	case MsgTermOpen:
		info, err := h.terms.Create(msg.AppID, msg.Cols, msg.Rows)
		if err != nil {
			h.sendError(cl, msg.AppID, err.Error())
			return
		}
		ev := event(EvTermOpened)
		ev.Term = info.ID.String()
		ev.AppID = info.AppID
		ev.Data = info
		h.Broadcast(ev)

	case MsgTermInput:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			h.sendError(cl, msg.AppID, "terminal input must be base64")
			return
		}
		if err := h.terms.Write(id.TermID(msg.Term), data); err != nil {
			h.sendError(cl, msg.AppID, err.Error())
		}

	case MsgTermResize:
		if err := h.terms.Resize(id.TermID(msg.Term), msg.Cols, msg.Rows); err != nil {
			h.sendError(cl, msg.AppID, err.Error())
		}

	case MsgTermReplay:
		data, err := h.terms.Replay(id.TermID(msg.Term))
		if err != nil {
			h.sendError(cl, msg.AppID, err.Error())
			return
		}
		ev := event(EvTermData)
		ev.Term = msg.Term
		ev.AppID = msg.AppID
		ev.Data = base64.StdEncoding.EncodeToString(data)
		h.sendTo(cl, ev)

	case MsgTermClose:
		if err := h.terms.Kill(id.TermID(msg.Term)); err != nil {
			h.sendError(cl, msg.AppID, err.Error())
		}
	}
}

func (h *Hub) sendError(cl *client, appID, message string) {
	ev := event(EvError)
	ev.AppID = appID
	ev.Data = message
	h.sendTo(cl, ev)
}
