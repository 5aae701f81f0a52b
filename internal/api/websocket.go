package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/telemetry"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub maintains active WebSocket clients and broadcasts classifications
type Hub struct {
	logger  *zap.Logger
	metrics *telemetry.MetricsRegistry

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// Client is a single WebSocket connection
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// symbols the client subscribed to; empty means all.
	// Guarded by mu: readPump mutates it while writePump filters on it.
	mu      sync.Mutex
	symbols map[string]bool
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger, metrics *telemetry.MetricsRegistry) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 64),
		symbols: make(map[string]bool),
	}
}

// Run processes register/unregister/broadcast events until Close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			if h.metrics != nil {
				h.metrics.ActiveClients.Inc()
			}
			h.logger.Debug("websocket client connected", zap.String("client", client.id))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if h.metrics != nil {
					h.metrics.ActiveClients.Dec()
				}
				h.logger.Debug("websocket client disconnected", zap.String("client", client.id))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it
					delete(h.clients, client)
					close(client.send)
					if h.metrics != nil {
						h.metrics.ActiveClients.Dec()
					}
				}
			}

		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Close stops the hub and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
}

// BroadcastClassification pushes a classification to connected clients.
// Clients with an explicit subscription list only receive their symbols;
// the filter is applied client-side of the hub loop to keep the loop cheap.
func (h *Hub) BroadcastClassification(rc *types.RegimeClassification) {
	if rc == nil {
		return
	}

	msg, err := json.Marshal(map[string]any{
		"type":   "classification",
		"symbol": rc.Symbol,
		"data":   rc.ToMap(),
	})
	if err != nil {
		h.logger.Warn("failed to marshal broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping classification",
			zap.String("symbol", rc.Symbol))
	}
}

// subscribeMessage is the only inbound message type clients may send.
type subscribeMessage struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// readPump pumps inbound messages from the connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg subscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		c.mu.Lock()
		switch msg.Action {
		case "subscribe":
			for _, sym := range msg.Symbols {
				c.symbols[sym] = true
			}
		case "unsubscribe":
			for _, sym := range msg.Symbols {
				delete(c.symbols, sym)
			}
		}
		c.mu.Unlock()
	}
}

// writePump pumps messages from the hub to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if !c.wants(message) {
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wants reports whether the client's subscription filter matches a message.
func (c *Client) wants(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.symbols) == 0 {
		return true
	}
	var envelope struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return true
	}
	return envelope.Symbol == "" || c.symbols[envelope.Symbol]
}
