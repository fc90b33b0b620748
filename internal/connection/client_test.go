package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(_ *http.Request, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(server *httptest.Server) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.BufferSize = 100
	return cfg
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}

	select {
	case <-client.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, want nil after local Close", client.Err())
	}
}

func TestClient_ConnectSendsBearerToken(t *testing.T) {
	auth := make(chan string, 1)
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		auth <- r.Header.Get("Authorization")
		drain(r, conn)
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.Token = "tok-abc"
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case got := <-auth:
		if got != "Bearer tok-abc" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-abc")
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"type":"transcription","transcript":"hello"}`)
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received = %s, want %s", received, testMsg)
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)

	if err := client.Send([]byte("test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect error = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_SubscribersShareFrames(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong","timestamp":1}`))
		drain(r, conn)
	})
	defer server.Close()

	client := NewClient(testConfig(server), nil)
	// Subscribe before Connect so neither subscriber can miss the frame.
	first := client.Subscribe()
	second := client.Subscribe()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i, sub := range []*Subscription{first, second} {
		select {
		case msg := <-sub.C:
			if string(msg.Data) != `{"type":"pong","timestamp":1}` {
				t.Errorf("subscriber %d got %s", i, msg.Data)
			}
			if msg.ReceivedAt.IsZero() {
				t.Errorf("subscriber %d: ReceivedAt not set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestClient_SubscriptionClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	sub := client.Subscribe()
	sub.Close()
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("subscription channel should be closed")
	}
	if !client.IsConnected() {
		t.Error("closing a subscription must not close the client")
	}
}

func TestClient_PeerCloseEndsConnection(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		// Return immediately; the deferred Close drops the socket.
	})
	defer server.Close()

	client := NewClient(testConfig(server), nil)
	sub := client.Subscribe()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after peer closed")
	}

	if client.IsConnected() {
		t.Error("client should report disconnected")
	}
	if client.Err() == nil {
		t.Error("Err() should describe why the peer went away")
	}
	if _, ok := <-sub.C; ok {
		t.Error("subscription channel should be closed when the connection ends")
	}

	late := client.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscribing after the end should yield a closed channel")
	}
}

func TestClient_HeartbeatSendsPing(t *testing.T) {
	pings := make(chan string, 4)
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pings <- string(msg)
		}
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.PingInterval = 20 * time.Millisecond
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case msg := <-pings:
		if !strings.HasPrefix(msg, `{"type":"ping","timestamp":`) {
			t.Errorf("heartbeat frame = %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	// Server reads but never writes, so the client sees no inbound traffic.
	server := mockWSServer(t, drain)
	defer server.Close()

	cfg := testConfig(server)
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PingTimeout = 30 * time.Millisecond
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection was not detected")
	}

	if !errors.Is(client.Err(), ErrStaleConnection) {
		t.Errorf("Err() = %v, want ErrStaleConnection", client.Err())
	}
}

func TestClient_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server), nil)
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error = %v, want status 401", err)
	}
}
