package render

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/session"
)

const (
	clientQueue  = 8
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Hub streams frames to websocket clients. Slow clients lose frames; the
// producer never waits.
type Hub struct {
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
	closed    bool

	latestMu sync.RWMutex
	latest   *Frame

	frames  atomic.Uint64
	dropped atomic.Uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1 << 16,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Run builds a frame per update and broadcasts it until updates is closed or
// ctx is done.
func (h *Hub) Run(ctx context.Context, updates <-chan *session.Update, newBuilder func(*session.Update) *Builder) {
	var b *Builder
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if b == nil {
				b = newBuilder(u)
			}
			h.Publish(b.Build(u))
		}
	}
}

// Publish stores f as the latest frame and queues it for every client.
func (h *Hub) Publish(f *Frame) {
	h.latestMu.Lock()
	h.latest = f
	h.latestMu.Unlock()

	msg, err := json.Marshal(f)
	if err != nil {
		monitoring.Logf("render: encode frame %d: %v", f.Frame, err)
		return
	}
	h.frames.Add(1)

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Latest returns the most recent frame, nil before the first.
func (h *Hub) Latest() *Frame {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many client deliveries were skipped.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request and streams frames until the client goes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("render: websocket upgrade: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}

	// A new client gets the current picture straight away.
	if f := h.Latest(); f != nil {
		if msg, err := json.Marshal(f); err == nil {
			c.send <- msg
		}
	}

	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *wsClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) isClosed() bool {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return h.closed
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
