package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func TestWebSocketTransportSendReceive(t *testing.T) {
	echoed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		echoed <- string(msg)
		conn.WriteMessage(websocket.TextMessage, []byte(`["NOTICE","ack"]`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocketTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(1000, "test done")

	if err := conn.Send([]byte(`["REQ","sub_1",{}]`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-echoed:
		if got != `["REQ","sub_1",{}]` {
			t.Fatalf("server saw %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	select {
	case msg := <-conn.Receive():
		if string(msg) != `["NOTICE","ack"]` {
			t.Fatalf("Receive = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply frame")
	}
}

func TestWebSocketTransportCloseClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocketTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	conn.Close(1000, "bye")

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed channel never closed")
	}
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	tr := NewWebSocketTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := tr.Dial(ctx, "ws://127.0.0.1:1"); err == nil {
		t.Fatal("expected dial to an unreachable port to fail")
	}
}
