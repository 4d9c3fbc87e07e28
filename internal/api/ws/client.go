package ws

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingEvery    = 54 * time.Second
)

// client is one connected view.
type client struct {
	id     string
	remote string
	joined time.Time
	conn   *websocket.Conn
	send   chan []byte
}

// enqueue hands a pre-marshaled frame to the write pump. A full
// buffer reports failure so the hub can drop the connection.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump owns all writes to the connection and keeps the peer
// alive with pings. It exits when the send channel closes or a write
// fails; closing the connection unblocks the read loop.
func (c *client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendTo marshals and queues an event for one view. Membership is
// checked under the lock so a frame is never queued to a closed
// channel.
func (h *Hub) sendTo(c *client, ev Outbound) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", ev.Type)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if !c.enqueue(data) {
		go h.remove(c)
	}
}
