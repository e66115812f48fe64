package main

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one authenticated participant inside a room. Pos is written only
// under the owning room's lock, and only ever by the connection that created
// the session.
type Session struct {
	UserID  string
	SpaceID string
	Pos     Position

	space *Space
	conn  *client
}

// client wraps a WebSocket connection with a buffered outbound queue so a
// slow reader never stalls room processing. On overflow the connection is
// shut down rather than blocking: the transport close then drives the normal
// leave path.
type client struct {
	conn *websocket.Conn
	send chan any
	quit chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		conn: conn,
		send: make(chan any, queueSize),
		quit: make(chan struct{}),
	}
}

// enqueue queues one outbound message without blocking. A full queue means
// the consumer cannot keep up; disconnect it instead of holding the room.
func (c *client) enqueue(msg any) {
	select {
	case c.send <- msg:
	case <-c.quit:
	default:
		c.shutdown()
	}
}

// shutdown is safe to call from any goroutine, any number of times. The
// write pump owns the transport close so messages queued before the
// shutdown still get flushed.
func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.quit)
	})
}

func (c *client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.quit:
			for {
				select {
				case msg := <-c.send:
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
