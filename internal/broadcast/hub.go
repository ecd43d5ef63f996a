package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"iot-telemetry-backend/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// SnapshotFunc returns the current payload of a topic for a newly connected
// client. ok=false means there is nothing to send.
type SnapshotFunc func(ctx context.Context, topic string) (payload []byte, ok bool)

// Hub fans published payloads out to websocket clients subscribed to a topic.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type client struct {
	conn  *websocket.Conn
	topic string
	send  chan []byte
	once  sync.Once
}

// NewHub creates an empty hub. snapshot may be nil.
func NewHub(logger *zap.Logger, m *metrics.Metrics, snapshot SnapshotFunc) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		snapshot: snapshot,
		logger:   logger,
		metrics:  m,
	}
}

// ServeHTTP upgrades the request and subscribes the connection to the topic
// named by the "topic" query parameter (default "latest").
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = TopicLatest
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, topic: topic, send: make(chan []byte, sendBufferSize)}
	if h.snapshot != nil {
		if payload, ok := h.snapshot(r.Context(), topic); ok {
			c.send <- payload
		}
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Publish queues payload for every client on topic. Clients whose buffer is
// full are disconnected rather than waited for.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.topic != topic {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.ClientConnected()
	return true
}

func (h *Hub) unregister(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.metrics.ClientDisconnected()
		close(c.send)
	})
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// unregisters the client once the connection drops.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
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
