// Package stream fans job events out to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// MaxConcurrentConnections caps the number of websocket clients.
	MaxConcurrentConnections = 512
	// ClientChannelBuffer is the per-client queue length. A client that
	// falls this far behind loses messages.
	ClientChannelBuffer = 256
	// HubBroadcastBuffer is the length of the hub's inbound queue.
	HubBroadcastBuffer = 2048

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Message is one event sent to every client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// Hub tracks websocket clients and broadcasts messages to them without ever
// blocking the producer.
type Hub struct {
	upgrader  websocket.Upgrader
	broadcast chan Message

	mu      sync.Mutex
	clients map[*client]struct{}

	totalMessages     atomic.Int64
	droppedBroadcasts atomic.Int64
	droppedClientMsgs atomic.Int64
	rejectedConns     atomic.Int64
}

// NewHub returns a hub. Call Run to start delivering messages.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		broadcast: make(chan Message, HubBroadcastBuffer),
		clients:   make(map[*client]struct{}),
	}
}

// Broadcast enqueues msg for every client. It drops the message if the hub
// is saturated.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.droppedBroadcasts.Add(1)
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Printf("stream: cannot encode %s message: %v", msg.Type, err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
					h.totalMessages.Add(1)
				default:
					h.droppedClientMsgs.Add(1)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stats reports connection and delivery counters.
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"active_connections":   int64(h.ClientCount()),
		"total_messages":       h.totalMessages.Load(),
		"dropped_broadcasts":   h.droppedBroadcasts.Load(),
		"dropped_client_msgs":  h.droppedClientMsgs.Load(),
		"rejected_connections": h.rejectedConns.Load(),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams messages to it.
// Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= MaxConcurrentConnections {
		h.rejectedConns.Add(1)
		http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, ClientChannelBuffer), remoteAddr: r.RemoteAddr}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected: %s (total: %d)", c.remoteAddr, n)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("Client disconnected: %s (total: %d)", c.remoteAddr, len(h.clients))
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
