package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventType identifies a live-tail notice kind.
type EventType string

const (
	// EventPatternAdded is the event type for a pattern registry 0->1
	// transition; nothing in this module publishes it.
	EventPatternAdded EventType = "pattern.added"
	// EventPatternRemoved is the event type for a pattern registry 1->0
	// transition; nothing in this module publishes it.
	EventPatternRemoved EventType = "pattern.removed"
	// EventDLQHighWaterMark is the event type for the DLQ crossing its
	// configured MaxSize; nothing in this module publishes it.
	EventDLQHighWaterMark EventType = "dlq.high_water_mark"
	// EventDLQMessage fires whenever an entry is moved into the DLQ.
	EventDLQMessage EventType = "dlq.message"
)

// Event is the wire shape streamed to every live-tail websocket connection.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(t EventType, data interface{}) *Event {
	return &Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// Client is a single live-tail websocket connection registered with a Hub.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{id: id, conn: conn, send: make(chan []byte, 64), hub: hub}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (this hub is broadcast-only) but must
// keep reading so pong frames and close frames are observed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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

// Hub fans Events out to every connected live-tail client. It is the
// server-side counterpart of a single process's websocket upgrade endpoint;
// the admin HTTP layer owns one Hub for the process lifetime.
type Hub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	mu         sync.RWMutex
	stop       chan struct{}
}

// NewHub constructs a Hub. Call Run in its own goroutine before Register.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		stop:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Warn("failed to marshal live-tail event")
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					h.logger.WithField("client", c.id).Warn("live-tail client send buffer full, dropping connection")
					go func(c *Client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop tears the hub down, closing every connected client.
func (h *Hub) Stop() {
	close(h.stop)
}

// Publish enqueues an event for broadcast to every connected client. It
// never blocks: a full broadcast buffer drops the event and logs a warning,
// since live-tail is best-effort observability, never a delivery guarantee.
func (h *Hub) Publish(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("live-tail broadcast buffer full, dropping event")
	}
}

// Register attaches conn as a new live-tail client and starts its pumps.
func (h *Hub) Register(id string, conn *websocket.Conn) {
	client := newClient(id, conn, h)
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of currently connected live-tail clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
