package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ticker-storefront/internal/resilience"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
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
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSDialerReadsMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":2}`))
		// Wait for the client to hang up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := NewWSDialer(DefaultWSConfig(wsURL(server)), zerolog.Nop())
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		data, err := conn.ReadMessage()
		if err != nil || string(data) != want {
			t.Fatalf("ReadMessage = %q, %v", data, err)
		}
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWSDialerAnswersPings(t *testing.T) {
	pong := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := NewWSDialer(DefaultWSConfig(wsURL(server)), zerolog.Nop())
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Control frames are handled inside ReadMessage.
	go conn.ReadMessage()

	select {
	case data := <-pong:
		if data != "heartbeat" {
			t.Errorf("pong payload = %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestWSDialerSendsKeepalive(t *testing.T) {
	pinged := make(chan struct{}, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := DefaultWSConfig(wsURL(server))
	cfg.PingInterval = 10 * time.Millisecond
	conn, err := NewWSDialer(cfg, zerolog.Nop()).Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping")
	}
}

func TestWSDialerRefused(t *testing.T) {
	cfg := DefaultWSConfig("ws://127.0.0.1:1/tickers/ws")
	cfg.HandshakeTimeout = time.Second
	if _, err := NewWSDialer(cfg, zerolog.Nop()).Dial(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}

func TestLiveMergesPushedQuotes(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":500,"ticker":"LIVE","latest_timestamp":"2030-01-01T00:00:00"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	live := NewLive(
		newFetcher(10),
		NewWSDialer(DefaultWSConfig(wsURL(server)), zerolog.Nop()),
		10,
		resilience.Config{MaxAttempts: 1, Delay: time.Hour},
		zerolog.Nop(),
	)
	defer live.Close()

	if err := live.List.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	live.Start()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w := live.List.Window(); len(w) > 0 && w[0].ID == 500 {
			if len(w) != 10 {
				t.Errorf("window size = %d", len(w))
			}
			if live.Status() != resilience.StatusConnected {
				t.Errorf("status = %s", live.Status())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pushed quote never merged: %v", ids(live.List.Window()))
}
