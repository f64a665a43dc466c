// internal/editor/client.go
package editor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client is one websocket connection editing one document.
type Client struct {
	// Unique identifier
	id string

	// Actor id of the frontend behind the connection; bound by the first
	// change when not given on connect
	actor string

	// The hub that manages this client
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// guards send against use after close
	sendMu sync.Mutex
	closed bool

	// Document this client is editing
	documentID string

	// Reference to the service
	service *Service
}

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, service *Service, documentID, actor string) *Client {
	return &Client{
		id:         uuid.New().String()[:8],
		actor:      actor,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		documentID: documentID,
		service:    service,
	}
}

func (c *Client) ID() string {
	return c.id
}

// trySend queues a frame without blocking. It reports false if the client
// is closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) limits() (maxSize int64, readWait, ping, write time.Duration) {
	maxSize, readWait, ping, write = maxMessageSize, pongWait, pingPeriod, writeWait
	if c.service != nil && c.service.config != nil {
		cfg := c.service.config
		if cfg.MaxMessageSize > 0 {
			maxSize = cfg.MaxMessageSize
		}
		if cfg.ReadTimeout > 0 {
			readWait = cfg.ReadTimeout
		}
		if cfg.PingInterval > 0 {
			ping = cfg.PingInterval
		}
		if cfg.WriteTimeout > 0 {
			write = cfg.WriteTimeout
		}
	}
	return
}

// readPump pumps messages from the websocket connection to the service
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	maxSize, readWait, _, _ := c.limits()
	c.conn.SetReadLimit(maxSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("comp", "client").Str("client", c.id).Msg("websocket error")
			}
			break
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the service to the websocket connection
func (c *Client) writePump() {
	_, _, ping, write := c.limits()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(write))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(write))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes incoming messages from the client
func (c *Client) processMessage(message []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().Err(err).Str("comp", "client").Str("client", c.id).Msg("error unmarshaling message")
		c.sendError("Invalid message format")
		return
	}

	switch msg.Type {
	case protocol.TypeChange:
		c.handleChange(msg)

	case protocol.TypePing:
		// Just a keepalive, no action needed
		return

	default:
		log.Warn().Str("comp", "client").Str("client", c.id).Str("type", msg.Type).Msg("unknown message type")
		c.sendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// handleChange hands a committed frontend change to the document's backend
func (c *Client) handleChange(msg protocol.Message) {
	var ch change.Change
	if err := json.Unmarshal(msg.Data, &ch); err != nil {
		log.Warn().Err(err).Str("comp", "client").Str("client", c.id).Msg("error decoding change")
		c.sendError("Invalid change")
		return
	}
	if c.actor == "" {
		c.actor = ch.Actor
	}
	if ch.Actor != c.actor {
		c.sendError(fmt.Sprintf("Change from actor %s on a connection bound to %s", ch.Actor, c.actor))
		return
	}

	log.Debug().Str("comp", "client").Str("client", c.id).Str("actor", ch.Actor).Uint64("seq", ch.Seq).Int("ops", len(ch.Ops)).Msg("change received")

	if c.service == nil {
		return
	}
	if err := c.service.ApplyChange(c, ch); err != nil {
		log.Warn().Err(err).Str("comp", "client").Str("client", c.id).Msg("change rejected")
		c.sendError(fmt.Sprintf("Change rejected: %v", err))
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errorMsg string) {
	data, err := protocol.Encode(protocol.TypeError, c.documentID, protocol.ErrorData{Message: errorMsg})
	if err != nil {
		log.Error().Err(err).Str("comp", "client").Msg("error marshaling error message")
		return
	}
	c.trySend(data)
}
