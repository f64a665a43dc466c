// internal/editor/hub.go
package editor

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Hub owns the set of connected clients. Registration and teardown go
// through its loop so a client's send channel is closed exactly once, after
// the client has been removed from its document.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	quit    chan struct{}
	stopped chan struct{}
	count   atomic.Int64
	service *Service
}

// NewHub creates a new Hub
func NewHub(service *Service) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		service:    service,
	}
}

// run starts the hub's main loop
func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case <-h.quit:
			for client := range h.clients {
				h.handleUnregister(client)
				client.conn.Close()
			}
			log.Info().Str("comp", "hub").Msg("hub shutdown complete")
			return
		}
	}
}

// Register hands the client to the hub loop. It returns false once the hub
// has shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes the client; safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// handleRegister handles client registration
func (h *Hub) handleRegister(client *Client) {
	h.clients[client] = true
	h.count.Store(int64(len(h.clients)))
	log.Debug().Str("comp", "hub").Str("client", client.id).Str("doc", client.documentID).Int("total", len(h.clients)).Msg("client registered")
}

// handleUnregister handles client disconnection
func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.count.Store(int64(len(h.clients)))

	if h.service != nil {
		h.service.RemoveClientFromDocument(client)
	}
	client.close()

	log.Debug().Str("comp", "hub").Str("client", client.id).Int("total", len(h.clients)).Msg("client unregistered")
}

// shutdown stops the loop and waits for every client to be closed.
func (h *Hub) shutdown() {
	close(h.quit)
	<-h.stopped
}
