package http

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsConn adapts a websocket to the coordinator's Conn. Writes are serialized
// through a single writer goroutine; when the buffer is full the oldest
// pending event is dropped, since clients recover via state-sync anyway.
type wsConn struct {
	conn *websocket.Conn
	send chan outboundMessage

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn: conn,
		send: make(chan outboundMessage, 32),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) Send(event string, payload any) error {
	msg := outboundMessage{Type: event, Payload: payload}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.send <- msg:
		return nil
	default:
	}
	// Buffer full: drop one stale message, then queue the fresh one.
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
	return nil
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				c.Close()
				return
			}
		}
	}
}
