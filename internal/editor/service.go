// internal/editor/service.go
package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"collaborative-frontend/internal/backend"
	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/protocol"
)

// Relay carries encoded changes between service instances.
type Relay interface {
	Publish(ctx context.Context, documentID string, encoded []byte) error
	Subscribe(ctx context.Context, documentID string, fn func(encoded []byte)) error
}

// Service hosts one merge backend per document and fans its patches out to
// the document's clients.
type Service struct {
	hub      *Hub
	upgrader websocket.Upgrader
	config   *Config
	relay    Relay
	mu       sync.RWMutex

	documents map[string]*Document

	ctx    context.Context
	cancel context.CancelFunc

	metrics *Metrics
}

// Config holds service configuration
type Config struct {
	MaxMessageSize int64
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxClients     int
}

// Document is a shared document and the clients editing it.
type Document struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`

	Backend *backend.Backend `json:"-"`
	Peers   *PeerTracker     `json:"-"`

	// patches are sent while holding mu so every client sees backend order
	clients map[string]*Client
	mu      sync.Mutex
}

// Metrics tracks service performance
type Metrics struct {
	ActiveConnections int64
	ChangesApplied    int64
	ChangesRejected   int64
	PatchesSent       int64
	RemoteChanges     int64
	DocumentsActive   int64

	mu sync.RWMutex
}

// NewService creates a new sync service. relay may be nil.
func NewService(cfg *Config, relay Relay) *Service {
	if cfg == nil {
		cfg = &Config{
			MaxMessageSize: 512 * 1024, // 512KB
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxClients:     1000,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		config:    cfg,
		relay:     relay,
		documents: make(map[string]*Document),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &Metrics{},
	}
	s.hub = NewHub(s)
	return s
}

// Start initializes and starts the service
func (s *Service) Start() error {
	log.Info().Str("comp", "service").Msg("starting sync service")

	go s.hub.run()
	go s.collectMetrics()

	log.Info().Str("comp", "service").Bool("relay", s.relay != nil).Msg("sync service started")
	return nil
}

// Shutdown closes every client connection and stops relay subscriptions.
func (s *Service) Shutdown() {
	log.Info().Str("comp", "service").Msg("shutting down sync service")

	s.cancel()
	s.hub.shutdown()

	log.Info().Str("comp", "service").Msg("sync service shut down complete")
}

// Router wires the HTTP endpoints of the service.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/ws", s.HandleWebSocket)
	return r
}

// HandleWebSocket upgrades a client of one document. The actor query
// parameter names the frontend's actor id.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	if docID == "" {
		http.Error(w, "Missing document ID", http.StatusBadRequest)
		return
	}
	if s.hub.Count() >= s.config.MaxClients {
		http.Error(w, "Too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("comp", "service").Msg("websocket upgrade failed")
		return
	}

	client := NewClient(s.hub, conn, s, docID, r.URL.Query().Get("actor"))
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	s.metrics.mu.Lock()
	s.metrics.ActiveConnections++
	s.metrics.mu.Unlock()

	go client.writePump()
	s.join(client)
	go client.readPump()

	log.Info().Str("comp", "service").Str("client", client.id).Str("actor", client.actor).Str("doc", docID).Msg("client connected")
}

// GetDocument returns the document, creating it on first use.
func (s *Service) GetDocument(id string) *Document {
	s.mu.RLock()
	doc, exists := s.documents[id]
	s.mu.RUnlock()
	if exists {
		return doc
	}

	s.mu.Lock()
	if doc, exists = s.documents[id]; exists {
		s.mu.Unlock()
		return doc
	}
	doc = &Document{
		ID:        id,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Backend:   backend.New(id),
		Peers:     NewPeerTracker(),
		clients:   make(map[string]*Client),
	}
	s.documents[id] = doc
	s.mu.Unlock()

	s.metrics.mu.Lock()
	s.metrics.DocumentsActive++
	s.metrics.mu.Unlock()

	if s.relay != nil {
		err := s.relay.Subscribe(s.ctx, id, func(encoded []byte) {
			s.ApplyRemoteChanges(id, encoded)
		})
		if err != nil {
			log.Error().Err(err).Str("comp", "service").Str("doc", id).Msg("relay subscribe failed")
		}
	}
	return doc
}

// join sends the full document state and adds the client to the document
// in one critical section, so no patch is missed or seen twice.
func (s *Service) join(client *Client) {
	doc := s.GetDocument(client.documentID)

	doc.mu.Lock()
	defer doc.mu.Unlock()

	data, err := protocol.Encode(protocol.TypeInit, doc.ID, doc.Backend.GetPatch())
	if err != nil {
		log.Error().Err(err).Str("comp", "service").Msg("error marshaling document state")
		return
	}
	if !client.trySend(data) {
		log.Warn().Str("comp", "service").Str("client", client.id).Msg("client not ready for init")
		return
	}
	doc.clients[client.id] = client
	doc.Peers.Join(client.id, client.actor)
}

// ApplyChange applies a client's change and broadcasts the resulting patch
// to every client of the document, the sender included.
func (s *Service) ApplyChange(client *Client, c change.Change) error {
	doc := s.GetDocument(client.documentID)

	doc.mu.Lock()
	patch, encoded, err := doc.Backend.ApplyLocalChange(c)
	if err != nil {
		doc.mu.Unlock()
		s.metrics.mu.Lock()
		s.metrics.ChangesRejected++
		s.metrics.mu.Unlock()
		return err
	}
	doc.UpdatedAt = time.Now()
	doc.Peers.Confirm(client.id, c.Actor, c.Seq)
	s.broadcastLocked(doc, patch)
	doc.mu.Unlock()

	s.metrics.mu.Lock()
	s.metrics.ChangesApplied++
	s.metrics.mu.Unlock()

	if s.relay != nil {
		if err := s.relay.Publish(s.ctx, doc.ID, encoded); err != nil {
			log.Error().Err(err).Str("comp", "service").Str("doc", doc.ID).Msg("relay publish failed")
		}
	}
	return nil
}

// ApplyRemoteChanges feeds changes from another instance into the
// document's backend and broadcasts the patch.
func (s *Service) ApplyRemoteChanges(docID string, encoded ...[]byte) {
	doc := s.GetDocument(docID)

	doc.mu.Lock()
	defer doc.mu.Unlock()

	patch, err := doc.Backend.ApplyChanges(encoded...)
	if err != nil {
		log.Error().Err(err).Str("comp", "service").Str("doc", docID).Msg("error applying remote changes")
		return
	}
	doc.UpdatedAt = time.Now()
	s.broadcastLocked(doc, patch)

	s.metrics.mu.Lock()
	s.metrics.RemoteChanges += int64(len(encoded))
	s.metrics.mu.Unlock()
}

// broadcastLocked must be called with doc.mu held.
func (s *Service) broadcastLocked(doc *Document, patch change.Patch) {
	data, err := protocol.Encode(protocol.TypePatch, doc.ID, patch)
	if err != nil {
		log.Error().Err(err).Str("comp", "service").Msg("error marshaling patch")
		return
	}

	sent := 0
	for id, client := range doc.clients {
		if client.trySend(data) {
			sent++
			continue
		}
		// a client that misses a patch can never converge, drop it
		log.Warn().Str("comp", "service").Str("client", id).Msg("client buffer full, closing")
		delete(doc.clients, id)
		doc.Peers.Leave(id)
		go s.hub.Unregister(client)
	}

	s.metrics.mu.Lock()
	s.metrics.PatchesSent += int64(sent)
	s.metrics.mu.Unlock()
}

// RemoveClientFromDocument stops patches to the client.
func (s *Service) RemoveClientFromDocument(client *Client) {
	if client.documentID == "" {
		return
	}

	s.mu.RLock()
	doc, exists := s.documents[client.documentID]
	s.mu.RUnlock()
	if !exists {
		return
	}

	doc.mu.Lock()
	delete(doc.clients, client.id)
	doc.Peers.Leave(client.id)
	doc.mu.Unlock()

	s.metrics.mu.Lock()
	s.metrics.ActiveConnections--
	s.metrics.mu.Unlock()
}

// GetMetrics returns current service metrics
func (s *Service) GetMetrics() map[string]interface{} {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return map[string]interface{}{
		"active_connections": s.metrics.ActiveConnections,
		"changes_applied":    s.metrics.ChangesApplied,
		"changes_rejected":   s.metrics.ChangesRejected,
		"patches_sent":       s.metrics.PatchesSent,
		"remote_changes":     s.metrics.RemoteChanges,
		"documents_active":   s.metrics.DocumentsActive,
		"hub_clients":        s.hub.Count(),
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	docs := make(map[string]interface{}, len(s.documents))
	for id, doc := range s.documents {
		doc.mu.Lock()
		docs[id] = map[string]interface{}{
			"clock":      doc.Backend.Clock(),
			"max_op":     doc.Backend.MaxOp(),
			"pending":    doc.Backend.Pending(),
			"clients":    len(doc.clients),
			"peers":      doc.Peers.All(""),
			"updated_at": doc.UpdatedAt,
		}
		doc.mu.Unlock()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics":   s.GetMetrics(),
		"documents": docs,
	})
}

// collectMetrics periodically logs metrics
func (s *Service) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			log.Info().Str("comp", "service").Fields(s.GetMetrics()).Msg("metrics")
		}
	}
}
