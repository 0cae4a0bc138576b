package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer. A peer
	// that cannot accept a frame within it is treated as disconnected.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames. Admin broadcasts may carry an
	// inlined evacuation map, so the limit is generous.
	maxMessageSize = 1 << 20
)

// socketConn adapts *websocket.Conn to the registry's Conn interface and puts
// a deadline on every write so one stuck peer cannot hold the hub forever.
type socketConn struct {
	conn *websocket.Conn
}

func (c *socketConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteJSON(v)
}

func (c *socketConn) Close() error {
	return c.conn.Close()
}
