// Package wager — WebSocket hub for real-time fill and settlement broadcasts.
package wager

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairwage/wager-engine/internal/metrics"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type         string `json:"type"` // "fill", "wager_placed", "event_settled"
	EventID      string `json:"event_id"`
	WagerID      string `json:"wager_id,omitempty"`
	MakerWagerID string `json:"maker_wager_id,omitempty"`
	TakerWagerID string `json:"taker_wager_id,omitempty"`
	Side         string `json:"side,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	TotalPaid    int64  `json:"total_paid,omitempty"`
}

// wsClient is one connected subscriber. A non-empty eventID narrows the feed
// to a single event; empty means the firehose.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	eventID string
}

// WSHub fans fill and settlement messages out to connected clients. Slow
// clients are dropped rather than allowed to stall the hub.
type WSHub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan WSMessage

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan WSMessage, 256),
		clients:    make(map[*wsClient]struct{}),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", total, "event_filter", c.eventID)

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if c.eventID != "" && c.eventID != msg.EventID {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Client cannot keep up; disconnect it.
					delete(h.clients, c)
					close(c.send)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for delivery to all matching subscribers.
// Non-blocking: if the hub itself is saturated the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *WSHub) drop(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.WebSocketClients.Dec()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// An optional ?event_id= query parameter restricts the feed to one event.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 64),
		eventID: r.URL.Query().Get("event_id"),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// readPump discards inbound frames and detects disconnects.
func (c *wsClient) readPump(h *WSHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send channel and keeps the connection alive through
// proxies with periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
