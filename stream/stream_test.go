package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d; want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()
	waitForClients(t, h, 2)

	h.Broadcast(Message{Type: "update", Data: map[string]string{"id": "job-1"}})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != "update" || msg.Data["id"] != "job-1" {
			t.Errorf("message = %+v", msg)
		}
	}

	a.Close()
	waitForClients(t, h, 1)
	if got := h.Stats()["total_messages"]; got != 2 {
		t.Errorf("total_messages = %d; want 2", got)
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < HubBroadcastBuffer+10; i++ {
			h.Broadcast(Message{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
	if got := h.Stats()["dropped_broadcasts"]; got != 10 {
		t.Errorf("dropped_broadcasts = %d; want 10", got)
	}
}
