// Package transporttest provides an in-memory transport.Transport double
// for driving relay.Supervisor and client.Client tests deterministically,
// without opening real sockets.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/unicitynetwork/nostr-go-sdk/transport"
)

// ErrDialRefused is returned by Fake.Dial for URLs marked refused via
// Fake.Refuse.
var ErrDialRefused = errors.New("transporttest: dial refused")

// Fake is an in-memory transport.Transport. Construct one with NewFake; the
// zero value has nil maps and panics on Refuse or Dial.
type Fake struct {
	mu       sync.Mutex
	conns    map[string]*FakeConn
	refused  map[string]bool
	dialHook func(url string)
}

// NewFake returns a ready-to-use Fake.
func NewFake() *Fake {
	return &Fake{
		conns:   make(map[string]*FakeConn),
		refused: make(map[string]bool),
	}
}

// Refuse makes subsequent Dial calls for url fail with ErrDialRefused, to
// simulate a relay that is down or unreachable.
func (f *Fake) Refuse(url string, refused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refused[url] = refused
}

// OnDial registers a callback invoked synchronously on every Dial.
func (f *Fake) OnDial(hook func(url string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialHook = hook
}

// Dial implements transport.Transport.
func (f *Fake) Dial(ctx context.Context, url string) (transport.Conn, error) {
	f.mu.Lock()
	hook := f.dialHook
	refused := f.refused[url]
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if refused {
		return nil, ErrDialRefused
	}

	c := newFakeConn()
	f.mu.Lock()
	f.conns[url] = c
	f.mu.Unlock()
	return c, nil
}

// Conn returns the most recently dialed FakeConn for url, or nil if none
// exists, so tests can push inbound frames or inspect outbound ones.
func (f *Fake) Conn(url string) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[url]
}

// FakeConn is an in-memory transport.Conn. Frames sent via Send land on Sent
// for test assertions; frames pushed via Push surface on Receive.
type FakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	receive  chan []byte
	closed   chan struct{}
	closedOk bool
}

func newFakeConn() *FakeConn {
	return &FakeConn{
		receive: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// Send implements transport.Conn.
func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("transporttest: send on closed connection")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

// Receive implements transport.Conn.
func (c *FakeConn) Receive() <-chan []byte {
	return c.receive
}

// Closed implements transport.Conn.
func (c *FakeConn) Closed() <-chan struct{} {
	return c.closed
}

// Close implements transport.Conn.
func (c *FakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedOk {
		return nil
	}
	c.closedOk = true
	close(c.closed)
	close(c.receive)
	return nil
}

// Push delivers an inbound frame as if received from the relay. It is a
// no-op once the connection is closed.
func (c *FakeConn) Push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedOk {
		return
	}
	c.receive <- data
}

// Drop simulates the peer severing the connection without a clean close.
func (c *FakeConn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedOk {
		return
	}
	c.closedOk = true
	close(c.closed)
	close(c.receive)
}

// Sent returns a snapshot of every frame handed to Send, in order.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}
