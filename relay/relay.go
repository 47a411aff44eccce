// Package relay implements the per-relay-URL connection state machine:
// connect/reconnect with backoff, liveness pings, and the AUTH interleave.
// A Supervisor owns its own socket and timers and reports everything to its
// owner by emitting typed Events on a channel — it never reaches into the
// orchestrator's state directly (generalizing internal/relay/pool.go's
// connect/notifyStatusChange split into a message-passing interface).
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/unicitynetwork/nostr-go-sdk/filter"
	"github.com/unicitynetwork/nostr-go-sdk/transport"
	"github.com/unicitynetwork/nostr-go-sdk/wire"
)

// ErrConnectTimeout is logged when a dial does not reach Open within the
// fixed connect timeout; the supervisor then schedules a reconnect. It is
// not returned to any caller and no Event carries it.
var ErrConnectTimeout = errors.New("relay: connect timeout")

// ErrConnectFailed is logged when the transport fails to dial before Open;
// as with ErrConnectTimeout, a reconnect is scheduled and the error is not
// returned to any caller or carried on an Event.
var ErrConnectFailed = errors.New("relay: connect failed")

// ErrNotOpen is returned by Send when the supervisor's socket isn't open.
var ErrNotOpen = errors.New("relay: not open")

const connectTimeout = 30 * time.Second

// pingSubID is the fixed pseudo-subscription id used for liveness probes, to
// avoid accumulating one subscription per ping.
const pingSubID = "ping"

// EventType classifies a Supervisor Event.
type EventType int

const (
	EventConnect EventType = iota
	EventReconnected
	EventDisconnect
	EventReconnecting
	EventInbound
	EventAuthChallenge
)

// Event is emitted by a Supervisor to report connection lifecycle and
// inbound traffic to its owner.
type Event struct {
	Type EventType
	URL  string

	Reason    string       // EventDisconnect
	Attempt   int          // EventReconnecting
	Message   wire.Message // EventInbound
	Challenge string       // EventAuthChallenge
}

// Config carries the tunables from spec §6's configuration surface that
// apply to a single supervisor.
type Config struct {
	AutoReconnect          bool
	ReconnectIntervalMS    int64
	MaxReconnectIntervalMS int64
	PingIntervalMS         int64 // 0 disables the liveness loop
}

// SubRequest is a pre-encoded REQ frame for one registered subscription,
// used to replay subscriptions on Open and after the auth interleave. The
// orchestrator owns the subscription registry and builds these via
// wire.ReqFrame; the supervisor only resends the bytes.
type SubRequest struct {
	SubID string
	Frame []byte
}

// Supervisor manages one relay URL's connection lifecycle.
type Supervisor struct {
	url       string
	transport transport.Transport
	cfg       Config
	logger    *log.Logger

	events chan Event

	mu                sync.Mutex
	conn              transport.Conn
	open              bool
	shuttingDown      bool
	wasPreviouslyOpen bool
	reconnectAttempts int
	lastInboundAt     time.Time
	reconnectTimer    *time.Timer
	livenessTimer     *time.Ticker
	livenessStop      chan struct{}
}

// New returns a Supervisor for url. Call Start to begin connecting.
func New(url string, tr transport.Transport, cfg Config, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		url:       url,
		transport: tr,
		cfg:       cfg,
		logger:    logger,
		events:    make(chan Event, 64),
	}
}

// URL returns the relay URL this supervisor manages.
func (s *Supervisor) URL() string { return s.url }

// Events returns the channel the owner should drain for lifecycle and
// inbound-frame notifications.
func (s *Supervisor) Events() <-chan Event { return s.events }

// IsOpen reports whether the socket is currently open.
func (s *Supervisor) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Start begins the initial connect attempt in the background.
func (s *Supervisor) Start() {
	go s.connectAttempt()
}

// Send writes a frame if the socket is open, else returns ErrNotOpen.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}
	if err := conn.Send(data); err != nil {
		s.forceClose("send failed: " + err.Error())
		return err
	}
	return nil
}

// ResendSubscriptions replays every given subscription's REQ frame, used
// both on Open (fresh or reconnected) and 100ms after the AUTH interleave.
func (s *Supervisor) ResendSubscriptions(reqs []SubRequest) {
	for _, r := range reqs {
		if err := s.Send(r.Frame); err != nil {
			s.logger.Printf("[relay %s] resend of %s failed: %v", s.url, r.SubID, err)
		}
	}
}

// Shutdown permanently stops the supervisor: cancels timers, closes the
// socket with the given code/reason, and suppresses reconnect and the
// normal Disconnect event (the orchestrator synthesizes its own on Close).
func (s *Supervisor) Shutdown(code int, reason string) {
	s.mu.Lock()
	s.shuttingDown = true
	s.cancelTimersLocked()
	conn := s.conn
	s.open = false
	s.mu.Unlock()

	if conn != nil {
		conn.Close(code, reason)
	}
}

func (s *Supervisor) cancelTimersLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.stopLivenessLocked()
}

func (s *Supervisor) stopLivenessLocked() {
	if s.livenessTimer != nil {
		s.livenessTimer.Stop()
		s.livenessTimer = nil
	}
	if s.livenessStop != nil {
		close(s.livenessStop)
		s.livenessStop = nil
	}
}

func (s *Supervisor) emit(ev Event) {
	ev.URL = s.url
	select {
	case s.events <- ev:
	default:
		s.logger.Printf("[relay %s] event channel full, dropping %v", s.url, ev.Type)
	}
}

func (s *Supervisor) connectAttempt() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := s.transport.Dial(ctx, s.url)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.logger.Printf("[relay %s] %v", s.url, ErrConnectTimeout)
		} else {
			s.logger.Printf("[relay %s] %v: %v", s.url, ErrConnectFailed, err)
		}
		s.onConnectFailed()
		return
	}
	s.onOpen(conn)
}

func (s *Supervisor) onConnectFailed() {
	s.mu.Lock()
	shuttingDown := s.shuttingDown
	s.mu.Unlock()
	if shuttingDown {
		return
	}
	s.scheduleReconnect()
}

func (s *Supervisor) onOpen(conn transport.Conn) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		conn.Close(1000, "shutting down")
		return
	}
	s.conn = conn
	s.open = true
	s.reconnectAttempts = 0
	s.lastInboundAt = time.Now()
	wasOpen := s.wasPreviouslyOpen
	s.wasPreviouslyOpen = true
	if s.cfg.PingIntervalMS > 0 {
		s.livenessStop = make(chan struct{})
		s.livenessTimer = time.NewTicker(time.Duration(s.cfg.PingIntervalMS) * time.Millisecond)
	}
	livenessTicker := s.livenessTimer
	livenessStop := s.livenessStop
	s.mu.Unlock()

	go s.readPump(conn)
	if livenessTicker != nil {
		go s.livenessLoop(livenessTicker, livenessStop)
	}

	if wasOpen {
		s.emit(Event{Type: EventReconnected})
	} else {
		s.emit(Event{Type: EventConnect})
	}
}

func (s *Supervisor) readPump(conn transport.Conn) {
	for frame := range conn.Receive() {
		s.mu.Lock()
		s.lastInboundAt = time.Now()
		s.mu.Unlock()

		msg := wire.Classify(frame)
		switch msg.Leader {
		case wire.LeaderUnknown:
			// dropped silently per the failure model
		case wire.LeaderAuth:
			s.emit(Event{Type: EventAuthChallenge, Challenge: msg.Challenge})
		default:
			s.emit(Event{Type: EventInbound, Message: msg})
		}
	}
	s.onClosed()
}

func (s *Supervisor) onClosed() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.stopLivenessLocked()
	wasOpen := s.wasPreviouslyOpen
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	if shuttingDown {
		return
	}
	if wasOpen {
		s.emit(Event{Type: EventDisconnect, Reason: "connection closed"})
	}
	if s.cfg.AutoReconnect {
		s.scheduleReconnect()
	}
}

func (s *Supervisor) forceClose(reason string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close(1000, reason)
	}
}

func (s *Supervisor) scheduleReconnect() {
	s.mu.Lock()
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	delay := backoff(attempt, s.cfg.ReconnectIntervalMS, s.cfg.MaxReconnectIntervalMS)
	s.reconnectTimer = time.AfterFunc(delay, s.connectAttempt)
	s.mu.Unlock()

	s.emit(Event{Type: EventReconnecting, Attempt: attempt})
}

// backoff implements spec §4.8/P8: min(max_interval, base_interval*2^(n-1)).
func backoff(attempt int, baseMS, maxMS int64) time.Duration {
	delay := baseMS
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxMS {
			delay = maxMS
			break
		}
	}
	if delay > maxMS {
		delay = maxMS
	}
	return time.Duration(delay) * time.Millisecond
}

func (s *Supervisor) livenessLoop(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			last := s.lastInboundAt
			s.mu.Unlock()

			if time.Since(last) > 2*time.Duration(s.cfg.PingIntervalMS)*time.Millisecond {
				s.forceClose("liveness timeout")
				return
			}

			closeFrame, err1 := wire.CloseFrame(pingSubID)
			if err1 == nil {
				if err := s.Send(closeFrame); err != nil {
					return
				}
			}
			reqFrame, err2 := wire.ReqFrame(pingSubID, filter.New().LimitTo(1))
			if err2 == nil {
				if err := s.Send(reqFrame); err != nil {
					return
				}
			}
		}
	}
}
