package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
)

const (
	writeWait   = time.Second
	queueLength = 256
)

var upgrader = websocket.Upgrader{
	// Access is already gated by the admin token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla connections allow one writer at a time
}

// Hub streams admission events to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger

	queue   chan admission.Event
	dropped atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
		queue:   make(chan admission.Event, queueLength),
	}
}

// Publish queues ev for delivery by Run without blocking the caller. Events
// are dropped while nobody is connected or when the queue is full.
func (h *Hub) Publish(ev admission.Event) {
	if h.ClientCount() == 0 {
		return
	}
	select {
	case h.queue <- ev:
	default:
		h.dropped.Add(1)
	}
}

// Run delivers published events until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.queue:
			h.Broadcast(ev)
		}
	}
}

// Dropped reports how many published events were discarded.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// HandleWebSocket upgrades the request and registers the client until it
// disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends ev to every connected client. Clients that cannot keep up
// are dropped.
func (h *Hub) Broadcast(ev admission.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.logger.Debug("websocket write failed, dropping client", "error", err)
			h.remove(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}
