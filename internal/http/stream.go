package http

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ebycow/famista/pkg/protocol"
)

const (
	// maxWSMessageSize bounds client frames; clients only send pongs.
	maxWSMessageSize = 4 * 1024
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
)

// streamClient is one /ws subscriber.
type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newStreamClient(conn *websocket.Conn) *streamClient {
	return &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
}

// run starts the write pump and blocks in the read pump until the peer
// goes away.
func (c *streamClient) run() {
	go c.writePump()
	c.readPump()
}

// readPump only services control frames; anything the client sends is
// ignored.
func (c *streamClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("overlay stream read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump writes frames and pings to the connection.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent queues an event, dropping it if the client is too slow.
func (c *streamClient) sendEvent(ev *protocol.EventFrame) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("overlay client send buffer full, dropping event", "client", c.id, "event", ev.Event)
	}
}

func (c *streamClient) close() {
	close(c.send)
}
