package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// subServer is a minimal subscription endpoint: every subscribe request is
// acknowledged with a fresh subscription id, and the test can push
// notifications for any id.
type subServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	conns chan *websocket.Conn
}

func newSubServer(t *testing.T) *subServer {
	t.Helper()
	s := &subServer{conns: make(chan *websocket.Conn, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn

		var nextSub uint64 = 100
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if strings.HasSuffix(req.Method, "Subscribe") {
				nextSub++
				conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0", "id": req.ID, "result": nextSub,
				})
			} else {
				conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0", "id": req.ID, "result": true,
				})
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *subServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *subServer) push(t *testing.T, subID uint64, payload string) {
	t.Helper()
	select {
	case conn := <-s.conns:
		s.conns <- conn
		msg := fmt.Sprintf(`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":%d,"result":%s}}`, subID, payload)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("push notification: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no server connection to push to")
	}
}

func TestLogsSubscribeDispatchesNotifications(t *testing.T) {
	server := newSubServer(t)

	c := NewClient(server.wsURL(), 0, 0)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	got := make(chan json.RawMessage, 1)
	subID, err := c.LogsSubscribe("SomeAddress", func(data json.RawMessage) {
		got <- data
	})
	if err != nil {
		t.Fatalf("LogsSubscribe: %v", err)
	}
	if subID == 0 {
		t.Fatal("subscription id is zero")
	}

	server.push(t, subID, `{"value":{"signature":"sig1","err":null}}`)

	select {
	case data := <-got:
		var note struct {
			Value struct {
				Signature string `json:"signature"`
			} `json:"value"`
		}
		if err := json.Unmarshal(data, &note); err != nil {
			t.Fatalf("unmarshal notification: %v", err)
		}
		if note.Value.Signature != "sig1" {
			t.Errorf("signature = %s, want sig1", note.Value.Signature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestSlowCallbackDoesNotBlockOthers(t *testing.T) {
	server := newSubServer(t)

	c := NewClient(server.wsURL(), 0, 0)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	release := make(chan struct{})
	blockedEntered := make(chan struct{})
	subA, err := c.LogsSubscribe("AddrA", func(json.RawMessage) {
		close(blockedEntered)
		<-release
	})
	if err != nil {
		t.Fatalf("LogsSubscribe A: %v", err)
	}

	gotB := make(chan struct{}, 1)
	subB, err := c.LogsSubscribe("AddrB", func(json.RawMessage) {
		gotB <- struct{}{}
	})
	if err != nil {
		t.Fatalf("LogsSubscribe B: %v", err)
	}

	server.push(t, subA, `{"value":{"signature":"slow","err":null}}`)
	select {
	case <-blockedEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("first callback never entered")
	}

	server.push(t, subB, `{"value":{"signature":"fast","err":null}}`)
	select {
	case <-gotB:
	case <-time.After(time.Second):
		t.Fatal("second subscription blocked behind an in-progress callback")
	}
	close(release)
}

func TestUnsubscribeDropsCallback(t *testing.T) {
	server := newSubServer(t)

	c := NewClient(server.wsURL(), 0, 0)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	got := make(chan json.RawMessage, 1)
	subID, err := c.LogsSubscribe("SomeAddress", func(data json.RawMessage) {
		got <- data
	})
	if err != nil {
		t.Fatalf("LogsSubscribe: %v", err)
	}

	if err := c.Unsubscribe("logsUnsubscribe", subID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	server.push(t, subID, `{"value":{}}`)
	select {
	case <-got:
		t.Error("callback fired after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCallWithoutConnection(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", 0, 0)
	if _, err := c.LogsSubscribe("addr", func(json.RawMessage) {}); err == nil {
		t.Error("expected error before connect")
	}
}

func TestNewClientTimingKnobs(t *testing.T) {
	c := NewClient("ws://example", 0, 0)
	if c.reconnectDelay != time.Second {
		t.Errorf("reconnect delay = %v, want 1s default", c.reconnectDelay)
	}
	if c.pingInterval != 30*time.Second {
		t.Errorf("ping interval = %v, want 30s default", c.pingInterval)
	}

	c = NewClient("ws://example", 2*time.Second, 15*time.Second)
	if c.reconnectDelay != 2*time.Second || c.pingInterval != 15*time.Second {
		t.Errorf("knobs = %v/%v, want 2s/15s", c.reconnectDelay, c.pingInterval)
	}
}
