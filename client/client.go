// Package client implements the orchestrator that owns a key holder, a set
// of relay.Supervisors, the subscription registry, the offline publish
// queue and the pending-ack map, generalizing internal/web/hub.go's single
// Hub.Run() select loop (register/unregister/broadcast) into one
// cooperative goroutine that never needs locks on its own state (§5).
package client

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/unicitynetwork/nostr-go-sdk/envelope/appenvelope"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/filter"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
	"github.com/unicitynetwork/nostr-go-sdk/relay"
	"github.com/unicitynetwork/nostr-go-sdk/transport"
	"github.com/unicitynetwork/nostr-go-sdk/wire"
)

// ErrClosed is returned by any operation issued after Close.
var ErrClosed = errors.New("client: closed")

// ErrNoConnectedRelay is returned by Publish when every supervisor is
// non-open and the call did not take the offline-queue path.
var ErrNoConnectedRelay = errors.New("client: no connected relay")

// EventRejected reports a relay's OK ... false response.
type EventRejected struct {
	Message string
}

func (e *EventRejected) Error() string { return "client: event rejected: " + e.Message }

const (
	defaultQueryTimeoutMS         = 5000
	defaultReconnectIntervalMS    = 1000
	defaultMaxReconnectIntervalMS = 30000
	defaultPingIntervalMS         = 30000
)

// publishAckTimeout and authResendDelay are vars rather than consts so
// tests can shrink them instead of waiting out the real durations.
var (
	publishAckTimeout = 5 * time.Second
	authResendDelay   = 100 * time.Millisecond
)

// Config carries the tunables from spec §6's configuration surface.
type Config struct {
	QueryTimeoutMS         int64
	AutoReconnect          bool
	ReconnectIntervalMS    int64
	MaxReconnectIntervalMS int64
	PingIntervalMS         int64
}

// WithDefaults fills zero numeric fields with spec §6's documented
// defaults. AutoReconnect is a bool and is used as given.
func (c Config) WithDefaults() Config {
	if c.QueryTimeoutMS == 0 {
		c.QueryTimeoutMS = defaultQueryTimeoutMS
	}
	if c.ReconnectIntervalMS == 0 {
		c.ReconnectIntervalMS = defaultReconnectIntervalMS
	}
	if c.MaxReconnectIntervalMS == 0 {
		c.MaxReconnectIntervalMS = defaultMaxReconnectIntervalMS
	}
	if c.PingIntervalMS == 0 {
		c.PingIntervalMS = defaultPingIntervalMS
	}
	return c
}

// ConnectionListener is notified of relay-level connectivity changes. Any
// method may be left nil.
type ConnectionListener struct {
	OnConnect     func(url string)
	OnDisconnect  func(url, reason string)
	OnReconnecting func(url string, attempt int)
	OnReconnected func(url string)
}

// Subscription holds the callbacks delivered for a registered subscription.
// Any field may be left nil.
type Subscription struct {
	OnEvent             func(ev *event.Event)
	OnEndOfStoredEvents func()
	OnError             func(reason string)
}

// Client is the single orchestrator for a set of relay connections.
type Client struct {
	holder    *keys.Holder
	transport transport.Transport
	cfg       Config
	logger    *log.Logger
	connLis   ConnectionListener

	cmds     chan command
	supEvent chan relay.Event
	quit     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closeDone chan struct{}

	// Everything below is owned exclusively by run(); never touched from
	// any other goroutine.
	supervisors map[string]*relay.Supervisor
	relayOrder  []string
	subs        map[string]*registeredSub
	pending     map[string]*pendingAck
	queue       []queuedPublish
	subCounter  int
	closed      bool
}

type registeredSub struct {
	filter *filter.Filter
	cb     Subscription
}

type pendingAck struct {
	resultCh chan PublishResult
	timer    *time.Timer
}

type queuedPublish struct {
	ev       *event.Event
	resultCh chan PublishResult
}

// PublishResult is delivered on Publish's result channel.
type PublishResult struct {
	EventID string
	Err     error
}

// New constructs a Client bound to holder and the given relay URLs. Call
// Start to launch the orchestrator loop and begin connecting.
func New(holder *keys.Holder, relayURLs []string, cfg Config, tr transport.Transport, logger *log.Logger, connLis ConnectionListener) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		holder:      holder,
		transport:   tr,
		cfg:         cfg.WithDefaults(),
		logger:      logger,
		connLis:     connLis,
		cmds:        make(chan command, 256),
		supEvent:    make(chan relay.Event, 256),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		closeDone:   make(chan struct{}),
		supervisors: make(map[string]*relay.Supervisor),
		subs:        make(map[string]*registeredSub),
		pending:     make(map[string]*pendingAck),
	}
	for _, url := range relayURLs {
		c.addSupervisor(url)
	}
	return c
}

func (c *Client) addSupervisor(url string) {
	sup := relay.New(url, c.transport, relay.Config{
		AutoReconnect:          c.cfg.AutoReconnect,
		ReconnectIntervalMS:    c.cfg.ReconnectIntervalMS,
		MaxReconnectIntervalMS: c.cfg.MaxReconnectIntervalMS,
		PingIntervalMS:         c.cfg.PingIntervalMS,
	}, c.logger)
	c.supervisors[url] = sup
	c.relayOrder = append(c.relayOrder, url)
	go c.forwardSupervisorEvents(sup)
}

func (c *Client) forwardSupervisorEvents(sup *relay.Supervisor) {
	for {
		select {
		case ev := <-sup.Events():
			select {
			case c.supEvent <- ev:
			case <-c.quit:
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Start launches the orchestrator loop and begins connecting every relay.
func (c *Client) Start() {
	go c.run()
	for _, sup := range c.supervisors {
		sup.Start()
	}
}

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev := <-c.supEvent:
			c.handleSupervisorEvent(ev)
		}
	}
}

func (c *Client) handleCommand(cmd command) {
	switch cc := cmd.(type) {
	case cmdPublish:
		c.doPublish(cc)
	case cmdSubscribe:
		c.doSubscribe(cc)
	case cmdUnsubscribe:
		c.doUnsubscribe(cc)
	case cmdClose:
		c.doClose(cc)
	case cmdAckTimeout:
		c.doAckTimeout(cc)
	case cmdAuthResend:
		c.doAuthResend(cc)
	case cmdNametagEvent:
		c.doNametagEvent(cc)
	case cmdNametagTerminate:
		c.doNametagTerminate(cc)
	}
}

func (c *Client) handleSupervisorEvent(ev relay.Event) {
	sup, ok := c.supervisors[ev.URL]
	if !ok {
		return
	}
	switch ev.Type {
	case relay.EventConnect:
		c.onSupervisorOpen(sup, false)
	case relay.EventReconnected:
		c.onSupervisorOpen(sup, true)
	case relay.EventDisconnect:
		if c.connLis.OnDisconnect != nil {
			c.connLis.OnDisconnect(ev.URL, ev.Reason)
		}
	case relay.EventReconnecting:
		if c.connLis.OnReconnecting != nil {
			c.connLis.OnReconnecting(ev.URL, ev.Attempt)
		}
	case relay.EventAuthChallenge:
		c.onAuthChallenge(sup, ev.Challenge)
	case relay.EventInbound:
		c.dispatchInbound(ev.Message)
	}
}

func (c *Client) onSupervisorOpen(sup *relay.Supervisor, reconnected bool) {
	sup.ResendSubscriptions(c.subResendFrames())
	c.drainQueue()
	if reconnected {
		if c.connLis.OnReconnected != nil {
			c.connLis.OnReconnected(sup.URL())
		}
	} else if c.connLis.OnConnect != nil {
		c.connLis.OnConnect(sup.URL())
	}
}

func (c *Client) subResendFrames() []relay.SubRequest {
	reqs := make([]relay.SubRequest, 0, len(c.subs))
	for id, reg := range c.subs {
		frame, err := wire.ReqFrame(id, reg.filter)
		if err != nil {
			continue
		}
		reqs = append(reqs, relay.SubRequest{SubID: id, Frame: frame})
	}
	return reqs
}

func (c *Client) onAuthChallenge(sup *relay.Supervisor, challenge string) {
	authEv, err := event.Sign(event.Payload{
		Kind: event.KindAuth,
		Tags: event.Tags{
			{"relay", sup.URL()},
			{"challenge", challenge},
		},
		Content: "",
	}, c.holder, time.Now().Unix())
	if err != nil {
		c.logger.Printf("[client] failed to sign auth event for %s: %v", sup.URL(), err)
		return
	}
	frame, err := wire.AuthFrame(authEv)
	if err != nil {
		c.logger.Printf("[client] failed to encode auth frame for %s: %v", sup.URL(), err)
		return
	}
	if err := sup.Send(frame); err != nil {
		c.logger.Printf("[client] failed to send auth frame to %s: %v", sup.URL(), err)
		return
	}
	url := sup.URL()
	time.AfterFunc(authResendDelay, func() {
		select {
		case c.cmds <- cmdAuthResend{url: url}:
		case <-c.quit:
		}
	})
}

func (c *Client) doAuthResend(cc cmdAuthResend) {
	sup, ok := c.supervisors[cc.url]
	if !ok || !sup.IsOpen() {
		return
	}
	sup.ResendSubscriptions(c.subResendFrames())
}

func (c *Client) dispatchInbound(msg wire.Message) {
	switch msg.Leader {
	case wire.LeaderEvent:
		if reg, ok := c.subs[msg.SubID]; ok && reg.cb.OnEvent != nil {
			reg.cb.OnEvent(msg.Event)
		}
	case wire.LeaderOK:
		c.resolveAck(msg.OKID, msg.OKOk, msg.OKMsg)
	case wire.LeaderEOSE:
		if reg, ok := c.subs[msg.SubID]; ok && reg.cb.OnEndOfStoredEvents != nil {
			reg.cb.OnEndOfStoredEvents()
		}
	case wire.LeaderNotice:
		c.logger.Printf("[client] NOTICE: %s", msg.Notice)
	case wire.LeaderClosed:
		if reg, ok := c.subs[msg.SubID]; ok && reg.cb.OnError != nil {
			reg.cb.OnError("Subscription closed: " + msg.Reason)
		}
	}
}

func (c *Client) resolveAck(eventID string, ok bool, message string) {
	p, found := c.pending[eventID]
	if !found {
		return
	}
	delete(c.pending, eventID)
	p.timer.Stop()
	if ok {
		p.resultCh <- PublishResult{EventID: eventID}
	} else {
		p.resultCh <- PublishResult{EventID: eventID, Err: &EventRejected{Message: message}}
	}
}

func (c *Client) doAckTimeout(cc cmdAckTimeout) {
	p, found := c.pending[cc.eventID]
	if !found {
		return
	}
	delete(c.pending, cc.eventID)
	p.resultCh <- PublishResult{EventID: cc.eventID}
}

func (c *Client) anyOpen() bool {
	for _, sup := range c.supervisors {
		if sup.IsOpen() {
			return true
		}
	}
	return false
}

func (c *Client) doPublish(cc cmdPublish) {
	if c.closed {
		cc.result <- PublishResult{Err: ErrClosed}
		return
	}
	if !c.anyOpen() {
		c.queue = append(c.queue, queuedPublish{ev: cc.ev, resultCh: cc.result})
		return
	}
	c.sendPublish(cc.ev, cc.result)
}

func (c *Client) sendPublish(ev *event.Event, resultCh chan PublishResult) {
	frame, err := wire.EventFrame(ev)
	if err != nil {
		resultCh <- PublishResult{Err: err}
		return
	}

	sent := false
	for _, url := range c.relayOrder {
		sup := c.supervisors[url]
		if sup.IsOpen() {
			if err := sup.Send(frame); err == nil {
				sent = true
			}
		}
	}
	if !sent {
		resultCh <- PublishResult{Err: ErrNoConnectedRelay}
		return
	}

	eventID := ev.ID()
	timer := time.AfterFunc(publishAckTimeout, func() {
		select {
		case c.cmds <- cmdAckTimeout{eventID: eventID}:
		case <-c.quit:
		}
	})
	c.pending[eventID] = &pendingAck{resultCh: resultCh, timer: timer}
}

func (c *Client) drainQueue() {
	if len(c.queue) == 0 || !c.anyOpen() {
		return
	}
	pending := c.queue
	c.queue = nil
	for _, q := range pending {
		c.sendPublish(q.ev, q.resultCh)
	}
}

func (c *Client) doSubscribe(cc cmdSubscribe) {
	if c.closed {
		cc.result <- ErrClosed
		return
	}
	id := cc.id
	if id == "" {
		c.subCounter++
		id = subIDFromCounter(c.subCounter)
	}
	c.subs[id] = &registeredSub{filter: cc.filter, cb: cc.sub}
	cc.assignedID <- id

	frame, err := wire.ReqFrame(id, cc.filter)
	if err != nil {
		cc.result <- err
		return
	}
	for _, url := range c.relayOrder {
		sup := c.supervisors[url]
		if sup.IsOpen() {
			sup.Send(frame)
		}
	}
	cc.result <- nil
}

func (c *Client) doUnsubscribe(cc cmdUnsubscribe) {
	if _, ok := c.subs[cc.id]; !ok {
		close(cc.done)
		return
	}
	delete(c.subs, cc.id)
	frame, err := wire.CloseFrame(cc.id)
	if err == nil {
		for _, url := range c.relayOrder {
			sup := c.supervisors[url]
			if sup.IsOpen() {
				sup.Send(frame)
			}
		}
	}
	close(cc.done)
}

func (c *Client) doClose(cc cmdClose) {
	c.closed = true

	for _, p := range c.pending {
		p.timer.Stop()
		p.resultCh <- PublishResult{Err: ErrClosed}
	}
	c.pending = make(map[string]*pendingAck)

	for _, q := range c.queue {
		q.resultCh <- PublishResult{Err: ErrClosed}
	}
	c.queue = nil

	for _, url := range c.relayOrder {
		sup := c.supervisors[url]
		sup.Shutdown(1000, "Client disconnected")
		if c.connLis.OnDisconnect != nil {
			c.connLis.OnDisconnect(url, "Client disconnected")
		}
	}
	c.supervisors = make(map[string]*relay.Supervisor)
	c.relayOrder = nil
	c.subs = make(map[string]*registeredSub)

	close(cc.done)
	close(c.quit)
}

func subIDFromCounter(n int) string {
	return "sub_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Publish sends ev to every currently open relay (or queues it if none are
// open) and blocks until it is acknowledged, rejected, or the 5s
// best-effort timeout elapses.
func (c *Client) Publish(ev *event.Event) (string, error) {
	result := make(chan PublishResult, 1)
	select {
	case c.cmds <- cmdPublish{ev: ev, result: result}:
	case <-c.done:
		return "", ErrClosed
	}
	select {
	case r := <-result:
		return r.EventID, r.Err
	case <-c.done:
		return "", ErrClosed
	}
}

// Subscribe registers filter under an auto-generated id ("sub_<n>") and
// returns it.
func (c *Client) Subscribe(f *filter.Filter, sub Subscription) (string, error) {
	return c.subscribe("", f, sub)
}

// SubscribeWithID registers filter under an explicit id.
func (c *Client) SubscribeWithID(id string, f *filter.Filter, sub Subscription) error {
	_, err := c.subscribe(id, f, sub)
	return err
}

func (c *Client) subscribe(id string, f *filter.Filter, sub Subscription) (string, error) {
	result := make(chan error, 1)
	assigned := make(chan string, 1)
	select {
	case c.cmds <- cmdSubscribe{id: id, filter: f, sub: sub, result: result, assignedID: assigned}:
	case <-c.done:
		return "", ErrClosed
	}
	var gotID string
	select {
	case gotID = <-assigned:
	case <-c.done:
		return "", ErrClosed
	}
	select {
	case err := <-result:
		return gotID, err
	case <-c.done:
		return gotID, ErrClosed
	}
}

// Unsubscribe removes subscription id, if registered, and sends CLOSE to
// every open relay. No-op if id is not registered.
func (c *Client) Unsubscribe(id string) {
	done := make(chan struct{})
	select {
	case c.cmds <- cmdUnsubscribe{id: id, done: done}:
	case <-c.done:
		return
	}
	select {
	case <-done:
	case <-c.done:
	}
}

// ResolveNametag looks up the nostr pubkey bound to nametag, tracking the
// binding event with the greatest created_at among those received until the
// first EOSE (from any relay) or the query timeout, and resolving nil if
// none arrived by then.
func (c *Client) ResolveNametag(nametag string) (*string, error) {
	f := appenvelope.NametagToPubkeyFilter(nametag)
	resultCh := make(chan *string, 1)
	state := &nametagResolveState{resultCh: resultCh}

	id, err := c.subscribe("", f, Subscription{
		OnEvent: func(ev *event.Event) {
			select {
			case c.cmds <- cmdNametagEvent{state: state, ev: ev}:
			case <-c.done:
			}
		},
		OnEndOfStoredEvents: func() {
			select {
			case c.cmds <- cmdNametagTerminate{state: state}:
			case <-c.done:
			}
		},
	})
	if err != nil {
		return nil, err
	}

	timeoutMS := c.cfg.QueryTimeoutMS
	timer := time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
		select {
		case c.cmds <- cmdNametagTerminate{state: state}:
		case <-c.done:
		}
	})
	defer timer.Stop()

	var result *string
	select {
	case result = <-resultCh:
	case <-c.done:
		c.Unsubscribe(id)
		return nil, ErrClosed
	}
	c.Unsubscribe(id)
	return result, nil
}

type nametagResolveState struct {
	resultCh  chan *string
	done      bool
	bestAt    int64
	bestPub   string
	haveBest  bool
}

func (c *Client) doNametagEvent(cc cmdNametagEvent) {
	if cc.state.done {
		return
	}
	if !cc.state.haveBest || cc.ev.CreatedAt() > cc.state.bestAt {
		cc.state.haveBest = true
		cc.state.bestAt = cc.ev.CreatedAt()
		cc.state.bestPub = cc.ev.PubKey()
	}
}

func (c *Client) doNametagTerminate(cc cmdNametagTerminate) {
	if cc.state.done {
		return
	}
	cc.state.done = true
	if cc.state.haveBest {
		pub := cc.state.bestPub
		cc.state.resultCh <- &pub
	} else {
		cc.state.resultCh <- nil
	}
}

// Close idempotently shuts the client down: every pending publish and
// queued event fails with ErrClosed, every supervisor's socket is closed
// with code 1000 reason "Client disconnected", and every subsequent
// operation fails with ErrClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		select {
		case c.cmds <- cmdClose{done: done}:
			<-done
		case <-c.done:
		}
		close(c.closeDone)
	})
	<-c.closeDone
}
