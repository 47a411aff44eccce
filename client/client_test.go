package client

import (
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/filter"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
	"github.com/unicitynetwork/nostr-go-sdk/transport/transporttest"
)

func testLogger() *log.Logger { return log.New(nopWriter{}, "", 0) }

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testHolder(t *testing.T) *keys.Holder {
	t.Helper()
	h, err := keys.Generate(cryptoprovider.NewDefault())
	if err != nil {
		t.Fatalf("keys.Generate: %v", err)
	}
	return h
}

func waitForOpen(t *testing.T, fake *transporttest.Fake, url string, timeout time.Duration) *transporttest.FakeConn {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if conn := fake.Conn(url); conn != nil {
			return conn
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dial to %s", url)
		case <-time.After(time.Millisecond):
		}
	}
}

func waitForNewConn(t *testing.T, fake *transporttest.Fake, url string, prev *transporttest.FakeConn, timeout time.Duration) *transporttest.FakeConn {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if c := fake.Conn(url); c != nil && c != prev {
			return c
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for reconnect dial to %s", url)
		case <-time.After(time.Millisecond):
		}
	}
}

func waitSentCount(t *testing.T, conn *transporttest.FakeConn, n int, timeout time.Duration) [][]byte {
	t.Helper()
	deadline := time.After(timeout)
	for {
		sent := conn.Sent()
		if len(sent) >= n {
			return sent
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d sent frames, got %d", n, len(sent))
		case <-time.After(time.Millisecond):
		}
	}
}

func okFrame(eventID string, ok bool, msg string) []byte {
	b, _ := json.Marshal([]interface{}{"OK", eventID, ok, msg})
	return b
}

// TestPublishWithOK covers §8 scenario 1: a publish acknowledged by OK true
// resolves immediately with the event id and no error.
func TestPublishWithOK(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)

	ev, err := event.Sign(event.Payload{Kind: 1, Content: "hello"}, c.holder, time.Now().Unix())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	resultCh := make(chan struct {
		id  string
		err error
	}, 1)
	go func() {
		id, err := c.Publish(ev)
		resultCh <- struct {
			id  string
			err error
		}{id, err}
	}()

	waitSentCount(t, conn, 1, time.Second)
	conn.Push(okFrame(ev.ID(), true, ""))

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("Publish err = %v", r.err)
		}
		if r.id != ev.ID() {
			t.Fatalf("Publish id = %q, want %q", r.id, ev.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Publish to return")
	}
}

// TestPublishRejected covers OK false resolving with an EventRejected error.
func TestPublishRejected(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)
	ev, err := event.Sign(event.Payload{Kind: 1, Content: "spam"}, c.holder, time.Now().Unix())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Publish(ev)
		done <- err
	}()

	waitSentCount(t, conn, 1, time.Second)
	conn.Push(okFrame(ev.ID(), false, "blocked: spam"))

	select {
	case err := <-done:
		rejected, ok := err.(*EventRejected)
		if !ok {
			t.Fatalf("err = %v (%T), want *EventRejected", err, err)
		}
		if rejected.Message != "blocked: spam" {
			t.Fatalf("Message = %q", rejected.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Publish to return")
	}
}

// TestPublishAckTimeoutResolvesOptimistically covers §8 scenario 2: no OK
// arrives within the 5s best-effort window, so Publish still resolves
// successfully with the event id.
func TestPublishAckTimeoutResolvesOptimistically(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	waitForOpen(t, fake, "wss://relay.example", time.Second)
	ev, err := event.Sign(event.Payload{Kind: 1, Content: "no ack"}, c.holder, time.Now().Unix())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	prevTimeout := publishAckTimeout
	publishAckTimeout = 10 * time.Millisecond
	defer func() { publishAckTimeout = prevTimeout }()

	id, err := c.Publish(ev)
	if err != nil {
		t.Fatalf("Publish err = %v, want nil (optimistic resolution)", err)
	}
	if id != ev.ID() {
		t.Fatalf("id = %q, want %q", id, ev.ID())
	}
}

// TestPublishQueuedWhileOffline covers §8 scenario 3 / P7: with no relay
// open, Publish queues the event and it is sent, in order, once a relay
// opens.
func TestPublishQueuedWhileOffline(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Refuse("wss://relay.example", true)
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{AutoReconnect: true, ReconnectIntervalMS: 20, MaxReconnectIntervalMS: 100}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	ev1, _ := event.Sign(event.Payload{Kind: 1, Content: "first"}, c.holder, time.Now().Unix())
	ev2, _ := event.Sign(event.Payload{Kind: 1, Content: "second"}, c.holder, time.Now().Unix())

	pub1 := make(chan struct{})
	pub2 := make(chan struct{})
	go func() { c.Publish(ev1); close(pub1) }()
	go func() { c.Publish(ev2); close(pub2) }()

	// Give both Publish calls time to reach the queue before the relay
	// becomes reachable.
	time.Sleep(50 * time.Millisecond)
	fake.Refuse("wss://relay.example", false)

	conn := waitForOpen(t, fake, "wss://relay.example", 2*time.Second)
	sent := waitSentCount(t, conn, 2, time.Second)

	var arr1, arr2 []json.RawMessage
	if err := json.Unmarshal(sent[0], &arr1); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := json.Unmarshal(sent[1], &arr2); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var evJSON1, evJSON2 struct {
		Content string `json:"content"`
	}
	json.Unmarshal(arr1[1], &evJSON1)
	json.Unmarshal(arr2[1], &evJSON2)
	if evJSON1.Content != "first" || evJSON2.Content != "second" {
		t.Fatalf("FIFO order violated: got %q then %q", evJSON1.Content, evJSON2.Content)
	}

	conn.Push(okFrame(ev1.ID(), true, ""))
	conn.Push(okFrame(ev2.ID(), true, ""))
	<-pub1
	<-pub2
}

// TestAuthChallengeInterleave covers §8 scenario 5: an AUTH challenge is
// answered with a signed kind-22242 event, and every active subscription
// is resent ~100ms later.
func TestAuthChallengeInterleave(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)

	if _, err := c.Subscribe(filter.New().KindsOf(1), Subscription{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitSentCount(t, conn, 1, time.Second) // initial REQ

	conn.Push([]byte(`["AUTH","challenge-0"]`))

	sent := waitSentCount(t, conn, 2, time.Second) // AUTH reply
	var authArr []json.RawMessage
	if err := json.Unmarshal(sent[1], &authArr); err != nil {
		t.Fatalf("Unmarshal AUTH frame: %v", err)
	}
	var label string
	json.Unmarshal(authArr[0], &label)
	if label != "AUTH" {
		t.Fatalf("label = %q, want AUTH", label)
	}
	var authEvJSON struct {
		Kind int        `json:"kind"`
		Tags [][]string `json:"tags"`
	}
	json.Unmarshal(authArr[1], &authEvJSON)
	if authEvJSON.Kind != event.KindAuth {
		t.Fatalf("kind = %d, want %d", authEvJSON.Kind, event.KindAuth)
	}
	foundChallenge := false
	for _, tag := range authEvJSON.Tags {
		if len(tag) == 2 && tag[0] == "challenge" && tag[1] == "challenge-0" {
			foundChallenge = true
		}
	}
	if !foundChallenge {
		t.Fatalf("auth event tags missing challenge: %v", authEvJSON.Tags)
	}

	// The subscription resend arrives ~100ms later as a third frame.
	waitSentCount(t, conn, 3, time.Second)
}

// TestReconnectBackoff covers the first step of §8 scenario 6 / P8 through
// the Client: after a drop, the first reconnect notification reports
// attempt 1.
func TestReconnectBackoff(t *testing.T) {
	fake := transporttest.NewFake()
	attempts := make(chan int, 8)
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{
		AutoReconnect:          true,
		ReconnectIntervalMS:    20,
		MaxReconnectIntervalMS: 80,
	}, fake, testLogger(), ConnectionListener{
		OnReconnecting: func(url string, attempt int) { attempts <- attempt },
	})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)
	conn.Drop()

	select {
	case a := <-attempts:
		if a != 1 {
			t.Fatalf("attempt = %d, want 1", a)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnect attempt")
	}
}

// TestSubscriptionResentOnReconnect covers P6: after a drop and successful
// reconnect, every still-registered subscription is resent.
func TestSubscriptionResentOnReconnect(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{
		AutoReconnect:          true,
		ReconnectIntervalMS:    20,
		MaxReconnectIntervalMS: 80,
	}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)
	if _, err := c.Subscribe(filter.New().KindsOf(1), Subscription{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitSentCount(t, conn, 1, time.Second)

	conn.Drop()
	newConn := waitForNewConn(t, fake, "wss://relay.example", conn, 2*time.Second)
	waitSentCount(t, newConn, 1, 2*time.Second)
}

// TestResolveNametagSuccess covers resolution via the binding event with
// the greatest created_at across several candidates.
func TestResolveNametagSuccess(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{QueryTimeoutMS: 5000}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	conn := waitForOpen(t, fake, "wss://relay.example", time.Second)

	resultCh := make(chan *string, 1)
	go func() {
		pub, err := c.ResolveNametag("alice")
		if err != nil {
			t.Errorf("ResolveNametag err = %v", err)
		}
		resultCh <- pub
	}()

	waitSentCount(t, conn, 1, time.Second)

	olderHolder := testHolder(t)
	newerHolder := testHolder(t)
	older, _ := event.Sign(event.Payload{Kind: 0, Content: "", CreatedAt: int64Ptr(100)}, olderHolder, 100)
	newer, _ := event.Sign(event.Payload{Kind: 0, Content: "", CreatedAt: int64Ptr(200)}, newerHolder, 200)

	evFrame := func(ev *event.Event) []byte {
		b, _ := json.Marshal([]interface{}{"EVENT", "sub_1", json.RawMessage(mustEventJSON(ev))})
		return b
	}
	conn.Push(evFrame(older))
	conn.Push(evFrame(newer))
	conn.Push([]byte(`["EOSE","sub_1"]`))

	select {
	case pub := <-resultCh:
		if pub == nil {
			t.Fatal("expected a resolved pubkey, got nil")
		}
		wantPub, err := newerHolder.PublicHex()
		if err != nil {
			t.Fatalf("PublicHex: %v", err)
		}
		if *pub != wantPub {
			t.Fatalf("resolved pubkey = %q, want the newer event's author", *pub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ResolveNametag")
	}
}

// TestResolveNametagTimeout covers resolving nil when nothing arrives
// before the query timeout.
func TestResolveNametagTimeout(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{QueryTimeoutMS: 30}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	waitForOpen(t, fake, "wss://relay.example", time.Second)

	pub, err := c.ResolveNametag("nobody")
	if err != nil {
		t.Fatalf("ResolveNametag err = %v", err)
	}
	if pub != nil {
		t.Fatalf("pub = %v, want nil", *pub)
	}
}

// TestUnsubscribeUnknownIsNoOp covers Unsubscribe's no-op contract for an
// id that was never registered.
func TestUnsubscribeUnknownIsNoOp(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	defer c.Close()

	waitForOpen(t, fake, "wss://relay.example", time.Second)

	done := make(chan struct{})
	go func() { c.Unsubscribe("sub_never_registered"); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe of an unknown id should return promptly")
	}
}

// TestCloseIsIdempotent covers P9: Close may be called repeatedly and
// concurrently, and every call returns.
func TestCloseIsIdempotent(t *testing.T) {
	fake := transporttest.NewFake()
	c := New(testHolder(t), []string{"wss://relay.example"}, Config{}, fake, testLogger(), ConnectionListener{})
	c.Start()
	waitForOpen(t, fake, "wss://relay.example", time.Second)

	done := make(chan struct{})
	go func() {
		c.Close()
		c.Close()
		close(done)
	}()
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent Close calls did not all return")
	}

	if _, err := c.Publish(&event.Event{}); err != ErrClosed {
		t.Fatalf("Publish after Close err = %v, want ErrClosed", err)
	}
}

func int64Ptr(n int64) *int64 { return &n }

func mustEventJSON(ev *event.Event) []byte {
	b, err := ev.ToJSON()
	if err != nil {
		panic(err)
	}
	return b
}
