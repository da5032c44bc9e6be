package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Connection is one accepted websocket. It lives in the registry from accept
// until it is closed by either side.
type Connection struct {
	ID           uuid.UUID
	RegisteredAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:           uuid.New(),
		RegisteredAt: time.Now(),
		conn:         ws,
	}
}

// send writes one frame. gorilla allows a single concurrent writer, so all
// writes go through writeMu.
func (c *Connection) send(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(data)
}

func (c *Connection) writeLocked(data []byte) error {
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and tears down the socket. Safe to call twice.
func (c *Connection) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
