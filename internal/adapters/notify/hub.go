package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/gorilla/websocket"
)

const (
	// DefaultSubscriberBuffer is how many events a subscriber may lag behind
	// before it is dropped.
	DefaultSubscriberBuffer = 64

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

// Hub fans events out to websocket subscribers. Publish never blocks: a
// subscriber whose buffer is full is disconnected.
type Hub struct {
	name   string
	buffer int

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

// NewHub creates a hub for one event stream.
func NewHub(name string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{name: name, buffer: buffer, clients: make(map[*subscriber]struct{})}
}

// Publish implements ports.EventPublisher.
func (h *Hub) Publish(ev ports.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("event not encodable", "hub", h.name, "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("dropping slow subscriber", "hub", h.name, "remote", c.remote)
			h.remove(c)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection as a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "hub", h.name, "err", err)
		return
	}
	c := &subscriber{conn: conn, remote: r.RemoteAddr, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("subscriber connected", "hub", h.name, "remote", c.remote)

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.remove(c)
	}
}

// remove must be called with h.mu held. Closing send stops the writer, which
// closes the connection.
func (h *Hub) remove(c *subscriber) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) drop(c *subscriber) {
	h.mu.Lock()
	h.remove(c)
	h.mu.Unlock()
}

func (h *Hub) writePump(c *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump only consumes control frames so pongs and client closes are seen.
func (h *Hub) readPump(c *subscriber) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
