package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// Sentinel errors.
var (
	ErrClientGone = errors.New("hub: client disconnected or too slow")
	ErrNoClients  = errors.New("hub: no connected clients")
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Outbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Guards clients and the callbacks (read-only access from outside)
	mu           sync.RWMutex
	onMessage    Handler
	onConnect    func(*Client)
	onDisconnect func(c *Client, remaining int)

	// Running state
	running bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     slog.Default(),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub", "hub", name)
	return h
}

// OnMessage sets the handler for inbound text frames. It runs on the
// sending client's read goroutine.
func (h *Hub) OnMessage(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// OnConnect sets a callback run from the hub loop when a client registers.
// It must not block.
func (h *Hub) OnConnect(fn func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

// OnDisconnect sets a callback run from the hub loop after a client is
// removed, whether it hung up, was dropped as too slow or the hub stopped.
// remaining is the number of clients still connected. It must not block.
func (h *Hub) OnDisconnect(fn func(c *Client, remaining int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

// Run starts the hub's main loop and returns when ctx is done.
// A hub runs once.
// This should be called in a goroutine
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		gone := make([]*Client, 0, len(h.clients))
		for client := range h.clients {
			client.close()
			delete(h.clients, client)
			gone = append(gone, client)
		}
		h.mu.Unlock()
		close(h.done)
		for i, client := range gone {
			h.disconnected(client, len(gone)-i-1)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			onConnect := h.onConnect
			h.mu.Unlock()
			h.logger.Info("client connected", "client", client.id, "total", count)
			if onConnect != nil {
				onConnect(client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			if !ok {
				// Already dropped as a slow client.
				continue
			}
			h.logger.Info("client disconnected", "client", client.id, "remaining", count)
			h.disconnected(client, count)

		case message := <-h.broadcast:
			var dropped []*Client
			h.mu.Lock()
			for client := range h.clients {
				if !client.Send(message) {
					// Client's buffer is full - they're too slow
					client.close()
					delete(h.clients, client)
					dropped = append(dropped, client)
					h.logger.Warn("dropped slow client", "client", client.id)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			for _, client := range dropped {
				h.disconnected(client, count)
			}
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts binary data
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) disconnected(c *Client, remaining int) {
	h.mu.RLock()
	fn := h.onDisconnect
	h.mu.RUnlock()
	if fn != nil {
		fn(c, remaining)
	}
}

func (h *Hub) dispatch(c *Client, data []byte) {
	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(c, data)
}
