// Package transport abstracts the relay socket so relay.Supervisor never
// talks to gorilla/websocket directly: production dials a real relay over
// WebSocket, tests substitute an in-memory fake.
package transport

import "context"

// Conn is a single open connection to a relay.
type Conn interface {
	// Send writes a single text frame. Implementations must be safe for
	// concurrent use: relay.Supervisor calls Send from more than one
	// goroutine without serializing the calls.
	Send(data []byte) error

	// Receive yields inbound text frames until the connection closes, at
	// which point it is closed.
	Receive() <-chan []byte

	// Closed is closed once the connection's read loop has exited, for any
	// reason (peer close, network error, or a local Close call). Readers
	// can select on it instead of polling.
	Closed() <-chan struct{}

	// Close closes the connection, sending a WebSocket close frame carrying
	// code and reason on a best-effort basis.
	Close(code int, reason string) error
}

// Transport dials relays. Transport itself is stateless; all per-connection
// state lives on the returned Conn.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
