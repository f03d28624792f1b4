// Package hub fans monitor events out to WebSocket subscribers.
package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks connected WebSocket clients and broadcasts event frames
// to all of them. Delivery is best-effort: a client whose send buffer
// is full gets dropped rather than stalling the broadcast.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	// OnCountChange, when set, is invoked with the client count after
	// every register/unregister. Used to keep the connection gauge
	// current.
	OnCountChange func(count int)
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("websocket client connected")
	h.notifyCount(count)
}

// Unregister removes a client and closes its send channel. Safe to
// call more than once for the same client. The close happens under the
// write lock so Broadcast can never send on a closed channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	h.logger.Info().Int("clients", count).Msg("websocket client disconnected")
	h.notifyCount(count)
}

// Broadcast queues message on every connected client. Clients that
// cannot accept it (full buffer) are treated as dead and unregistered
// after the pass. Sends are non-blocking, so holding the read lock for
// the whole pass is cheap.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	var stalled []*Client
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.logger.Warn().Msg("dropping websocket client with full send buffer")
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) notifyCount(count int) {
	if h.OnCountChange != nil {
		h.OnCountChange(count)
	}
}
