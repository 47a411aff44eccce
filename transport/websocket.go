package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// WebSocketTransport dials relays over real WebSocket connections.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport returns the default production Transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{dialer: websocket.DefaultDialer}
}

// Dial opens a WebSocket connection to url and starts its read/write pumps.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:     conn,
		send:     make(chan []byte, 256),
		receive:  make(chan []byte, 256),
		closed:   make(chan struct{}),
		closeErr: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// wsConn adapts a *websocket.Conn to the Conn interface, running the same
// read-pump/write-pump split the teacher's web.Client uses for its
// server-side dashboard connections, mirrored for client-side use against a
// relay rather than a browser.
type wsConn struct {
	conn    *websocket.Conn
	send    chan []byte
	receive chan []byte
	closed  chan struct{}

	closeOnce sync.Once
	closeErr  chan struct{}
}

func (c *wsConn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return websocket.ErrCloseSent
	}
}

func (c *wsConn) Receive() <-chan []byte {
	return c.receive
}

func (c *wsConn) Closed() <-chan struct{} {
	return c.closed
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.conn.Close()
	return err
}

func (c *wsConn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// readPump pumps inbound frames from the socket to receive, matching the
// teacher's readPump deadline/pong-handler idiom.
func (c *wsConn) readPump() {
	defer func() {
		c.conn.Close()
		c.markClosed()
		close(c.receive)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.receive <- message:
		case <-c.closed:
			return
		}
	}
}

// writePump drains send into the socket and sends periodic pings, matching
// the teacher's writePump idiom.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
